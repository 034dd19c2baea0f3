package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// Client is a thin net/http wrapper over the two endpoints internal/api
// exposes. Every call takes a context; per spec.md §5's "aborted client
// task terminates cleanly at the next suspension point," cancellation is
// delegated entirely to the http.Request's context rather than any
// bespoke abort mechanism.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against a running Whisper API server. httpClient
// may be nil to use http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Status is the decoded response of GET /api/v1/status.
type Status struct {
	TipHeight uint32
	Network   string
}

// GetStatus queries the server's current tip and network.
func (c *Client) GetStatus(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return Status{}, whisperr.Wrap(whisperr.BadRequest, "build status request", err)
	}

	var body struct {
		Status    string `json:"status"`
		TipHeight uint32 `json:"tip_height"`
		Network   string `json:"network"`
	}
	if err := c.doJSON(req, &body); err != nil {
		return Status{}, err
	}
	return Status{TipHeight: body.TipHeight, Network: body.Network}, nil
}

// ScanRequest is the wallet-side request for POST /api/v1/scan.
type ScanRequest struct {
	ScanPubkey    []byte
	StartHeight   uint32
	EndHeight     uint32
	Fingerprints  []uint32
	IncludeProofs bool
}

// Scan submits a scan request and returns the raw candidates the server
// found, still unverified: the caller is expected to run Wallet.Verify on
// the result before trusting any of it, per spec.md §4.4's client path.
func (c *Client) Scan(ctx context.Context, req ScanRequest) ([]Candidate, error) {
	prefixes := make([]string, len(req.Fingerprints))
	for i, fp := range req.Fingerprints {
		var b [4]byte
		b[0], b[1], b[2], b[3] = byte(fp>>24), byte(fp>>16), byte(fp>>8), byte(fp)
		prefixes[i] = hex.EncodeToString(b[:])
	}

	wireBody := struct {
		ScanPubkey    string   `json:"scan_pubkey"`
		StartHeight   uint32   `json:"start_height"`
		EndHeight     uint32   `json:"end_height"`
		Prefixes      []string `json:"prefixes"`
		IncludeProofs bool     `json:"include_proofs"`
	}{
		ScanPubkey:    hex.EncodeToString(req.ScanPubkey),
		StartHeight:   req.StartHeight,
		EndHeight:     req.EndHeight,
		Prefixes:      prefixes,
		IncludeProofs: req.IncludeProofs,
	}

	payload, err := json.Marshal(wireBody)
	if err != nil {
		return nil, whisperr.Wrap(whisperr.BadRequest, "encode scan request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/scan", bytes.NewReader(payload))
	if err != nil {
		return nil, whisperr.Wrap(whisperr.BadRequest, "build scan request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var body struct {
		Candidates []struct {
			TxID         string `json:"txid"`
			Vout         uint32 `json:"vout"`
			Amount       uint64 `json:"amount"`
			ScriptPubKey string `json:"script_pubkey"`
			BlockHeight  uint32 `json:"block_height"`
			BlockHash    string `json:"block_hash"`
			Timestamp    uint64 `json:"timestamp"`
		} `json:"candidates"`
		ScannedBlocks []uint32 `json:"scanned_blocks"`
		ServerTimeMs  uint64   `json:"server_time_ms"`
	}
	if err := c.doJSON(httpReq, &body); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(body.Candidates))
	for _, c := range body.Candidates {
		cand, err := decodeCandidate(c.TxID, c.Vout, c.Amount, c.ScriptPubKey, c.BlockHeight, c.BlockHash, c.Timestamp)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

func decodeCandidate(txidHex string, vout uint32, amount uint64, scriptHex string, height uint32, hashHex string, timestamp uint64) (Candidate, error) {
	txid, err := hex.DecodeString(txidHex)
	if err != nil || len(txid) != 32 {
		return Candidate{}, whisperr.New(whisperr.BadRequest, "server returned malformed txid")
	}
	script, err := hex.DecodeString(scriptHex)
	if err != nil || len(script) != 34 {
		return Candidate{}, whisperr.New(whisperr.BadRequest, "server returned malformed script_pubkey")
	}
	blockHash, err := hex.DecodeString(hashHex)
	if err != nil || len(blockHash) != 32 {
		return Candidate{}, whisperr.New(whisperr.BadRequest, "server returned malformed block_hash")
	}

	var c Candidate
	copy(c.TxID[:], txid)
	copy(c.ScriptPubKey[:], script)
	copy(c.BlockHash[:], blockHash)
	c.Vout = vout
	c.Amount = amount
	c.BlockHeight = height
	c.BlockTimestamp = int64(timestamp)
	return c, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return whisperr.Wrap(whisperr.UpstreamUnavailable, "whisper server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return whisperr.New(classifyStatus(resp.StatusCode), fmt.Sprintf("server returned %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return whisperr.Wrap(whisperr.UpstreamUnavailable, "decode server response", err)
	}
	return nil
}

func classifyStatus(status int) whisperr.Kind {
	switch {
	case status == http.StatusBadRequest:
		return whisperr.BadRequest
	case status == http.StatusGatewayTimeout:
		return whisperr.Timeout
	case status == http.StatusServiceUnavailable:
		return whisperr.StoreUnavailable
	default:
		return whisperr.UpstreamUnavailable
	}
}
