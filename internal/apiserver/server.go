package apiserver

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"statepir/internal/delta"
	"statepir/internal/lane"
	"statepir/internal/metrics"
	"statepir/internal/prf"
	"statepir/internal/queryengine"
	"statepir/internal/snapshot"
)

// Server wires the lane registry, the snapshot handle, and the delta
// log into the public HTTP query surface.
type Server struct {
	Snapshot    *snapshot.Handle
	Lanes       *lane.Registry
	DeltaHub    *delta.Hub
	DeltaWriter *delta.Writer
	Metrics     *metrics.QueryCollector
	Version     string
	ConfigHash  string
}

// corsMiddleware allows any origin to read these endpoints: the artifacts
// and queries served here carry no ambient authority, so there's nothing
// a browser-based client needs protecting from a third-party page.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Range")
		w.Header().Set("Access-Control-Max-Age", "3600")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// Routes builds the mux serving the public query and status endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", corsMiddleware(s.handleHealth))
	mux.HandleFunc("/info", corsMiddleware(s.handleInfo))
	mux.HandleFunc("/metrics", corsMiddleware(s.handleMetrics))
	mux.HandleFunc("/crs/", corsMiddleware(s.handleCRS))
	mux.HandleFunc("/metadata/", corsMiddleware(s.handleMetadata))
	mux.HandleFunc("/index/raw", corsMiddleware(s.handleIndexRaw))
	mux.HandleFunc("/index/stems", corsMiddleware(s.handleIndexStems))
	mux.HandleFunc("/index/deltas/info", corsMiddleware(s.handleDeltaInfo))
	mux.HandleFunc("/index/deltas/ws", s.handleDeltaWS) // upgrade request, no CORS preflight
	mux.HandleFunc("/index/deltas", corsMiddleware(s.handleDeltas))
	mux.HandleFunc("/query/", corsMiddleware(s.handleQuery))
	return mux
}

// laneFromPath extracts the lane segment from a path shaped
// "/<prefix>/<lane>" or "/query/<lane>/seeded/binary".
func laneFromPath(prefix, path string) string {
	rest := strings.TrimPrefix(path, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	gen := s.Snapshot.Acquire()
	defer s.Snapshot.Release(gen)

	lanes := make(map[string]interface{}, len(s.Lanes.Names()))
	for _, name := range s.Lanes.Names() {
		lanes[name] = gen.Header.EntryCount
	}
	lanes["block_number"] = gen.Meta.BlockNumber

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"lanes":  lanes,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	gen := s.Snapshot.Acquire()
	defer s.Snapshot.Release(gen)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":        s.Version,
		"config_hash":    s.ConfigHash,
		"manifest_block": gen.Meta.BlockNumber,
		"chain_id":       gen.Meta.ChainID,
		"entry_count":    gen.Header.EntryCount,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var snap metrics.QuerySnapshot
	if s.Metrics != nil {
		snap = s.Metrics.Snapshot()
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCRS(w http.ResponseWriter, r *http.Request) {
	laneName := laneFromPath("/crs/", r.URL.Path)
	if _, ok := s.Lanes.Lookup(laneName); !ok {
		writeError(w, errLaneUnknown(laneName))
		return
	}

	gen := s.Snapshot.Acquire()
	defer s.Snapshot.Release(gen)

	crs, ok := gen.CRS[laneName]
	if !ok {
		writeError(w, errLaneNotLoaded(laneName))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"crs":          hex.EncodeToString(crs),
		"lane":         laneName,
		"entry_count":  gen.Header.EntryCount,
		"shard_config": "single-shard",
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	laneName := laneFromPath("/metadata/", r.URL.Path)
	l, ok := s.Lanes.Lookup(laneName)
	if !ok {
		writeError(w, errLaneUnknown(laneName))
		return
	}

	gen := s.Snapshot.Acquire()
	defer s.Snapshot.Release(gen)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lane":                laneName,
		"kind":                l.Resolver.Kind().String(),
		"entry_count":         gen.Header.EntryCount,
		"snapshot_block":      gen.Meta.BlockNumber,
		"snapshot_block_hash": hex.EncodeToString(gen.Meta.BlockHash[:]),
		"params_version":      gen.Meta.Version,
	})
}

func (s *Server) handleIndexRaw(w http.ResponseWriter, r *http.Request) {
	gen := s.Snapshot.Acquire()
	defer s.Snapshot.Release(gen)
	if gen.Buckets == nil {
		writeError(w, errBucketIndexNotLoaded())
		return
	}
	data := gen.Buckets.Marshal()
	http.ServeContent(w, r, "index-raw.bin", time.Time{}, bytes.NewReader(data))
}

func (s *Server) handleIndexStems(w http.ResponseWriter, r *http.Request) {
	gen := s.Snapshot.Acquire()
	defer s.Snapshot.Release(gen)
	if gen.Stems == nil {
		writeError(w, errLaneNotLoaded("stem"))
		return
	}
	data := gen.Stems.Marshal()
	http.ServeContent(w, r, "index-stems.bin", time.Time{}, bytes.NewReader(data))
}

func (s *Server) handleDeltaInfo(w http.ResponseWriter, r *http.Request) {
	if s.DeltaWriter == nil {
		writeError(w, errLaneNotLoaded("delta"))
		return
	}
	current, tiers, err := delta.ReadDirectory(s.DeltaWriter.FilePath())
	if err != nil {
		log.Printf("apiserver: reading delta directory: %v", err)
		writeError(w, errInternal("internal error"))
		return
	}

	if raw := r.URL.Query().Get("local_block"); raw != "" {
		local, parseErr := strconv.ParseUint(raw, 10, 64)
		if parseErr == nil && local < current {
			var widest uint32
			for _, t := range tiers {
				if t.BlocksCovered > widest {
					widest = t.BlocksCovered
				}
			}
			if current-local > uint64(widest) {
				writeError(w, errDeltaGap())
				return
			}
		}
	}

	ranges := make([]map[string]interface{}, len(tiers))
	for i, t := range tiers {
		ranges[i] = map[string]interface{}{
			"offset":         t.Offset,
			"size":           t.Size,
			"blocks_covered": t.BlocksCovered,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current_block": current,
		"ranges":        ranges,
	})
}

func (s *Server) handleDeltas(w http.ResponseWriter, r *http.Request) {
	if s.DeltaWriter == nil {
		writeError(w, errLaneNotLoaded("delta"))
		return
	}
	http.ServeFile(w, r, s.DeltaWriter.FilePath())
}

func (s *Server) handleDeltaWS(w http.ResponseWriter, r *http.Request) {
	if s.DeltaHub == nil {
		writeError(w, errLaneNotLoaded("delta"))
		return
	}
	s.DeltaHub.ServeSubscription(w, r)
}

// queryRequest mirrors queryengine.CompressedQuery over the wire: a 16-byte
// seed hex-encoded, everything else a plain JSON number. SnapshotBlockHash
// and ParamsVersion are the identity fields a client caches from its last
// /metadata/<lane> fetch; either left blank skips that check, for a client
// that hasn't bootstrapped metadata yet.
type queryRequest struct {
	Seed            string `json:"seed"`
	Nonce           uint64 `json:"nonce"`
	SubsetSize      int    `json:"subset_size"`
	DomainSize      uint64 `json:"domain_size"`
	CorrectionIndex uint64 `json:"correction_index"`
	SnapshotBlockHash string `json:"snapshot_block_hash,omitempty"`
	ParamsVersion     string `json:"params_version,omitempty"`
}

type queryResponse struct {
	Value           string `json:"value"`
	ServerTimeNanos uint64 `json:"server_time_nanos"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			writeError(w, errDecode(fmt.Sprintf("corrupted database: %v", rec)))
		}
	}()

	if r.Method != http.MethodPost {
		writeError(w, newErr(http.StatusMethodNotAllowed, "method_not_allowed", "POST required"))
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/query/")
	parts := strings.Split(rest, "/")
	if len(parts) < 1 || parts[0] == "" {
		writeError(w, errLaneUnknown(""))
		return
	}
	laneName := parts[0]
	if _, ok := s.Lanes.Lookup(laneName); !ok {
		writeError(w, errLaneUnknown(laneName))
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errQueryMalformed("invalid request body"))
		return
	}
	seedBytes, err := hex.DecodeString(req.Seed)
	if err != nil || len(seedBytes) != 16 {
		writeError(w, errQueryMalformed("seed must be 16 bytes hex"))
		return
	}

	gen := s.Snapshot.Acquire()
	defer s.Snapshot.Release(gen)
	if gen.DB == nil {
		writeError(w, errLaneNotLoaded(laneName))
		return
	}
	if req.SnapshotBlockHash != "" && req.SnapshotBlockHash != hex.EncodeToString(gen.Meta.BlockHash[:]) {
		writeError(w, errSnapshotMismatch())
		return
	}
	if req.ParamsVersion != "" && req.ParamsVersion != gen.Meta.Version {
		writeError(w, errParamsVersionMismatch())
		return
	}
	if req.DomainSize == 0 || req.DomainSize > gen.Header.EntryCount {
		writeError(w, errQueryMalformed("domain size exceeds database entry count"))
		return
	}
	if req.CorrectionIndex != queryengine.NoCorrection && req.CorrectionIndex >= req.DomainSize {
		writeError(w, errIndexOutOfRange())
		return
	}

	var seed prf.Seed
	copy(seed[:], seedBytes)
	q := queryengine.CompressedQuery{
		Seed:            seed,
		Nonce:           req.Nonce,
		SubsetSize:      req.SubsetSize,
		DomainSize:      req.DomainSize,
		CorrectionIndex: req.CorrectionIndex,
	}

	srv := queryengine.Server{ValueAt: gen.DB.Value32}
	start := time.Now()
	resp := srv.Respond(q)
	elapsed := time.Since(start)

	if s.Metrics != nil {
		s.Metrics.RecordQuery(req.CorrectionIndex == queryengine.NoCorrection, elapsed)
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Value:           hex.EncodeToString(resp[:]),
		ServerTimeNanos: uint64(elapsed.Nanoseconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
