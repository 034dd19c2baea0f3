// Package api implements the normative wire surface from spec.md §6 as
// plain JSON over net/http: GET /api/v1/status and POST /api/v1/scan. The
// teacher's grpc-gateway/protobuf transport depended on an external proto
// package unavailable here and does not match this fixed, small surface,
// so this package follows the teacher's other net/http idiom instead (see
// cmd/api-gateway/main.go's REST mux/CORS/timeout wiring).
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/SakshamSinghal20/Whisper/internal/query"
	"github.com/SakshamSinghal20/Whisper/internal/whisperr"
)

// TipHeighter reports the store's current non-orphaned tip.
type TipHeighter interface {
	TipHeight(ctx context.Context) (uint32, error)
}

// Server holds the collaborators the two endpoints need.
type Server struct {
	store   query.Store
	tip     TipHeighter
	network string
	logger  *zap.Logger
}

// NewServer builds a Server. network is echoed verbatim in /status.
func NewServer(store query.Store, tip TipHeighter, network string, logger *zap.Logger) *Server {
	return &Server{store: store, tip: tip, network: network, logger: logger.Named("api")}
}

// Handler returns the CORS-wrapped mux, ready to be served by http.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/scan", s.handleScan)
	return cors.Default().Handler(mux)
}

// NewHTTPServer wraps Handler in an http.Server with the same timeout
// discipline the teacher's gateway applies to its own REST listener.
func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}
}

type statusResponse struct {
	Status    string `json:"status"`
	TipHeight uint32 `json:"tip_height"`
	Network   string `json:"network"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tip, err := s.tip.TipHeight(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "ok", TipHeight: tip, Network: s.network})
}

type scanRequestBody struct {
	ScanPubkey    string   `json:"scan_pubkey"`
	StartHeight   uint32   `json:"start_height"`
	EndHeight     uint32   `json:"end_height"`
	Prefixes      []string `json:"prefixes"`
	IncludeProofs bool     `json:"include_proofs"`
}

type candidateBody struct {
	TxID         string `json:"txid"`
	Vout         uint32 `json:"vout"`
	Amount       uint64 `json:"amount"`
	ScriptPubKey string `json:"script_pubkey"`
	BlockHeight  uint32 `json:"block_height"`
	BlockHash    string `json:"block_hash"`
	Timestamp    uint64 `json:"timestamp"`
}

type scanResponseBody struct {
	Candidates    []candidateBody `json:"candidates"`
	ScannedBlocks []uint32        `json:"scanned_blocks"`
	ServerTimeMs  uint64          `json:"server_time_ms"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, whisperr.New(whisperr.BadRequest, "method not allowed"))
		return
	}

	var body scanRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, whisperr.Wrap(whisperr.BadRequest, "malformed request body", err))
		return
	}

	req, err := decodeScanRequest(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp, err := query.Handle(r.Context(), s.store, req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, encodeScanResponse(resp))
}

func decodeScanRequest(body scanRequestBody) (query.ScanRequest, error) {
	pubkey, err := hex.DecodeString(body.ScanPubkey)
	if err != nil {
		return query.ScanRequest{}, whisperr.Wrap(whisperr.BadRequest, "scan_pubkey is not valid hex", err)
	}

	fingerprints := make([]uint32, 0, len(body.Prefixes))
	for _, prefix := range body.Prefixes {
		raw, err := hex.DecodeString(prefix)
		if err != nil || len(raw) != 4 {
			return query.ScanRequest{}, whisperr.New(whisperr.BadRequest, "prefixes must each be 8 lowercase hex characters")
		}
		fingerprints = append(fingerprints, uint32(raw[0])<<24|uint32(raw[1])<<16|uint32(raw[2])<<8|uint32(raw[3]))
	}

	return query.ScanRequest{
		ScanPubkey:    pubkey,
		StartHeight:   body.StartHeight,
		EndHeight:     body.EndHeight,
		Fingerprints:  fingerprints,
		IncludeProofs: body.IncludeProofs,
	}, nil
}

func encodeScanResponse(resp query.ScanResponse) scanResponseBody {
	candidates := make([]candidateBody, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		candidates = append(candidates, candidateBody{
			TxID:         hex.EncodeToString(c.TxID[:]),
			Vout:         c.Vout,
			Amount:       c.Amount,
			ScriptPubKey: hex.EncodeToString(c.ScriptPubKey[:]),
			BlockHeight:  c.BlockHeight,
			BlockHash:    hex.EncodeToString(c.BlockHash[:]),
			Timestamp:    uint64(c.BlockTimestamp),
		})
	}
	return scanResponseBody{
		Candidates:    candidates,
		ScannedBlocks: resp.ScannedBlocks,
		ServerTimeMs:  uint64(resp.ServerTimeMs),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

type errorBody struct {
	Message string `json:"message"`
}

// writeError maps a whisperr.Kind to the status codes spec.md §6 mandates.
// 5xx bodies never carry query data, only a message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var whisperErr *whisperr.Error
	if errors.As(err, &whisperErr) {
		message = whisperErr.Error()
		switch whisperErr.Kind {
		case whisperr.BadRequest, whisperr.BadCrypto:
			status = http.StatusBadRequest
		case whisperr.StoreBusy, whisperr.StoreUnavailable, whisperr.UpstreamUnavailable:
			status = http.StatusServiceUnavailable
		case whisperr.Timeout:
			status = http.StatusGatewayTimeout
		default:
			status = http.StatusInternalServerError
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		message = "internal error"
	}

	s.writeJSON(w, status, errorBody{Message: message})
}
