// Package ipfspublish archives range-delta files (or any file passed to
// PublishFile) to IPFS, so a client that doesn't trust any single server operator can
// fetch the same bytes by content hash from any gateway.
package ipfspublish

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
)

// Publisher pins files to an IPFS node and resolves gateway URLs for the
// resulting CIDs. A nil *Publisher is valid: GatewayURL returns "" and the
// publish methods return an error, so archival can be wired unconditionally
// and disabled by leaving the API address unset.
type Publisher struct {
	client  *shell.Shell
	gateway string
}

// New connects to the IPFS HTTP API at api and verifies it's reachable. An
// empty api disables archival: New returns a nil *Publisher, nil error.
func New(api, gateway string) (*Publisher, error) {
	api = strings.TrimSpace(api)
	if api == "" {
		return nil, nil
	}

	s := shell.NewShell(normalizeAPI(api))
	s.SetTimeout(15 * time.Second)

	if _, err := s.ID(); err != nil {
		return nil, fmt.Errorf("ipfspublish: node unhealthy: %w", err)
	}

	return &Publisher{client: s, gateway: strings.TrimRight(gateway, "/")}, nil
}

// PublishFile adds and pins the file at path, returning its CID.
func (p *Publisher) PublishFile(path string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("ipfspublish: publisher not configured")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cid, err := p.client.Add(f, shell.Pin(true), shell.CidVersion(1), shell.RawLeaves(true))
	if err != nil {
		return "", err
	}
	return cid, nil
}

// Manifest links an archived range-delta file to the chain and block
// range it covers. A client that fetched the file from a public gateway
// rather than from this service directly has no other way to confirm it
// pulled bytes for the right chain before folding them into its local
// bucket state.
type Manifest struct {
	ChainID        uint64 `json:"chain_id"`
	CurrentBlock   uint64 `json:"current_block"`
	DeltaCID       string `json:"delta_cid"`
	PublishedAtSec int64  `json:"published_at_unix"`
}

// PublishDeltaFile pins the range-delta file at path, then pins a small
// JSON manifest alongside it recording which chain and block the file
// covers. It returns both CIDs; callers that don't need the manifest
// (e.g. GatewayURL lookups by file CID alone) can ignore the second
// value. publishedAtSec is passed in rather than read from time.Now()
// so the manifest's contents stay deterministic under a fixed clock.
func (p *Publisher) PublishDeltaFile(path string, chainID, currentBlock uint64, publishedAtSec int64) (fileCID, manifestCID string, err error) {
	fileCID, err = p.PublishFile(path)
	if err != nil {
		return "", "", err
	}

	manifest := Manifest{
		ChainID:        chainID,
		CurrentBlock:   currentBlock,
		DeltaCID:       fileCID,
		PublishedAtSec: publishedAtSec,
	}
	body, err := json.Marshal(manifest)
	if err != nil {
		return fileCID, "", fmt.Errorf("ipfspublish: encode manifest: %w", err)
	}
	manifestCID, err = p.client.Add(bytes.NewReader(body), shell.Pin(true), shell.CidVersion(1))
	if err != nil {
		return fileCID, "", fmt.Errorf("ipfspublish: pin manifest: %w", err)
	}
	return fileCID, manifestCID, nil
}

// GatewayURL builds a fetchable URL for cid, or "" if archival is disabled
// or no gateway is configured.
func (p *Publisher) GatewayURL(cid string) string {
	if p == nil || cid == "" || p.gateway == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", p.gateway, cid)
}

// normalizeAPI accepts either a bare host:port, an http(s) URL, or a
// multiaddr (the shape `ipfs config Addresses.API` prints) and reduces it
// to the host:port go-ipfs-api's Shell constructor wants.
func normalizeAPI(val string) string {
	trimmed := strings.TrimSpace(val)
	if strings.HasPrefix(trimmed, "/") {
		if hostPort := multiaddrToHostPort(trimmed); hostPort != "" {
			return hostPort
		}
	}
	trimmed = strings.TrimPrefix(trimmed, "http://")
	trimmed = strings.TrimPrefix(trimmed, "https://")
	trimmed = strings.TrimSuffix(trimmed, "/api/v0")
	return strings.Trim(trimmed, "/")
}

func multiaddrToHostPort(addr string) string {
	parts := strings.Split(addr, "/")
	var host, port string
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "ip4", "ip6", "dns", "dns4", "dns6":
			if i+1 < len(parts) {
				host = parts[i+1]
				i++
			}
		case "tcp":
			if i+1 < len(parts) {
				port = parts[i+1]
				i++
			}
		}
	}
	if host != "" && port != "" {
		return fmt.Sprintf("%s:%s", host, port)
	}
	return ""
}
