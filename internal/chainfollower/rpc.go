// Package chainfollower implements a poll loop over an Ethereum
// execution node that turns newly finalized blocks into bucket deltas,
// feeding both the tiered range-delta writer and the live broadcast hub.
package chainfollower

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// bearerTransport attaches a bearer token to every outbound RPC request,
// the shape a managed node provider (Infura, Alchemy, a private relay)
// expects, and strips the token back out of any error it returns so a
// dial failure never echoes the credential into a log line.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (a *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.base.RoundTrip(req)
	if err != nil && a.token != "" {
		err = fmt.Errorf("%s", strings.ReplaceAll(err.Error(), a.token, "***"))
	}
	return resp, err
}

// DialClient connects to an execution node at url, wrapping HTTP(S)
// endpoints with a bearer-auth transport when a token is configured (IPC
// and WebSocket URLs, or an empty token, go through the plain dialer), then
// confirms the node actually serves the chain this deployment builds PIR
// snapshots for. A mismatch here would otherwise surface much later as
// silently wrong account balances in a built lane, so it's checked eagerly
// at dial time rather than left to the caller. wantChainID of 0 skips the
// check, for local devnets that don't commit to a fixed id ahead of time.
func DialClient(ctx context.Context, url, token string, wantChainID uint64) (*ethclient.Client, error) {
	var client *ethclient.Client
	if token == "" || !strings.HasPrefix(url, "http") {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, err
		}
		client = c
	} else {
		httpClient := &http.Client{
			Transport: &bearerTransport{token: token, base: http.DefaultTransport},
		}
		rpcClient, err := rpc.DialHTTPWithClient(url, httpClient)
		if err != nil {
			return nil, err
		}
		client = ethclient.NewClient(rpcClient)
	}

	if wantChainID == 0 {
		return client, nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	got, err := client.ChainID(checkCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chainfollower: fetch chain id: %w", err)
	}
	if got.Uint64() != wantChainID {
		client.Close()
		return nil, fmt.Errorf("chainfollower: node serves chain %s, expected %d", got, wantChainID)
	}
	return client, nil
}
