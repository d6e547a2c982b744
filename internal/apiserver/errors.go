// Package apiserver implements the public HTTP surface: static-artifact
// byte ranges, query submission forwarded to the query engine, and delta
// streaming, all dispatched across lanes through the lane registry.
package apiserver

import (
	"encoding/json"
	"net/http"
)

// Error is a structured API error: an HTTP status plus a machine-readable
// code string, surfaced as {"error": "<message>", "code": "<code>"}.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func newErr(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func errLaneUnknown(lane string) *Error {
	return newErr(http.StatusNotFound, "lane_unknown", "unknown lane: "+lane)
}
func errLaneNotLoaded(lane string) *Error {
	return newErr(http.StatusServiceUnavailable, "lane_not_loaded", "lane not loaded: "+lane)
}
func errBucketIndexNotLoaded() *Error {
	return newErr(http.StatusServiceUnavailable, "bucket_index_not_loaded", "bucket index not loaded")
}
func errQueryMalformed(msg string) *Error {
	return newErr(http.StatusBadRequest, "query_malformed", msg)
}
func errIndexOutOfRange() *Error {
	return newErr(http.StatusBadRequest, "index_out_of_range", "target index out of range")
}
func errSnapshotMismatch() *Error {
	return newErr(http.StatusConflict, "snapshot_mismatch", "snapshot generation changed, reinitialize")
}
func errParamsVersionMismatch() *Error {
	return newErr(http.StatusConflict, "params_version_mismatch", "CRS params version mismatch")
}
func errDeltaGap() *Error {
	return newErr(http.StatusGone, "delta_gap", "requested range precedes the oldest available tier")
}
func errDecode(msg string) *Error {
	return newErr(http.StatusUnprocessableEntity, "decode_error", msg)
}
func errInternal(msg string) *Error {
	return newErr(http.StatusInternalServerError, "internal_error", msg)
}

// writeError writes err as the JSON error body its status describes.
func writeError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Message,
		"code":  err.Code,
	})
}
