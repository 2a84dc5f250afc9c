// api.go - Client HTTP API for the transfer daemon
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"veilcash/internal/currency"
	"veilcash/p2p"
)

// apiServer serves the client-facing endpoints. Peer gossip runs on a
// separate listener owned by the p2p node.
type apiServer struct {
	node    *p2p.Node
	logger  *Logger
	metrics *MetricsCollector
	health  *HealthChecker
	limiter *ClientRateLimiter
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transfer", s.limit(s.handleTransfer))
	mux.HandleFunc("/v1/accept", s.limit(s.handleAccept))
	mux.HandleFunc("/v1/account", s.limit(s.handleAccount))
	mux.HandleFunc("/v1/account/create", s.limit(s.handleCreateAccount))
	mux.HandleFunc("/v1/unaccepted", s.limit(s.handleUnaccepted))
	mux.HandleFunc("/v1/height", s.limit(s.handleHeight))
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	return mux
}

// limit wraps a handler with the per-client rate limiter, keyed by remote
// host.
func (s *apiServer) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.limiter.Allow(host) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// rejectionStatus maps ledger rejections to HTTP statuses: consistency
// rejections are 409 (resubmit against fresher state), cryptographic and
// malformed-input rejections are 400.
func rejectionStatus(err error) int {
	switch {
	case errors.Is(err, currency.ErrStaleBalanceReference),
		errors.Is(err, currency.ErrHistoryIndexOutOfRange),
		errors.Is(err, currency.ErrAlreadyFinalized),
		errors.Is(err, currency.ErrDuplicateTransfer),
		errors.Is(err, currency.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, currency.ErrUnknownSender),
		errors.Is(err, currency.ErrUnknownReceiver),
		errors.Is(err, currency.ErrUnknownTransfer):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func (s *apiServer) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var t currency.Transfer
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "malformed transfer")
		return
	}

	start := time.Now()
	id, err := s.node.AnnounceTransfer(&t)
	if err != nil {
		s.metrics.RecordRejection(err.Error())
		s.logger.Warn("Rejected transfer: %v", err)
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	s.metrics.RecordTransfer(time.Since(start))
	s.logger.Info("Committed transfer %s as pending", id)
	s.logger.Audit("transfer_committed", map[string]interface{}{"id": id.String()})
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "state": "pending"})
}

func (s *apiServer) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var a currency.Accept
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "malformed accept")
		return
	}

	start := time.Now()
	if err := s.node.AnnounceAccept(&a); err != nil {
		s.metrics.RecordRejection(err.Error())
		s.logger.Warn("Rejected accept for %s: %v", a.TransferID, err)
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	s.metrics.RecordAccept(time.Since(start))
	s.logger.Info("Accepted transfer %s", a.TransferID)
	s.logger.Audit("transfer_accepted", map[string]interface{}{"id": a.TransferID.String()})
	writeJSON(w, http.StatusOK, map[string]string{"id": a.TransferID.String(), "state": "accepted"})
}

func (s *apiServer) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req struct {
		PublicKey string `json:"public_key"` // hex
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	pub, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed public key")
		return
	}
	if err := s.node.Ledger.CreateAccount(pub); err != nil {
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	s.logger.Info("Created account %s", req.PublicKey)
	writeJSON(w, http.StatusOK, map[string]string{"public_key": req.PublicKey})
}

func (s *apiServer) handleAccount(w http.ResponseWriter, r *http.Request) {
	pub, err := hex.DecodeString(r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed key parameter")
		return
	}
	acct, err := s.node.Ledger.AccountState(pub)
	if err != nil {
		writeError(w, rejectionStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *apiServer) handleUnaccepted(w http.ResponseWriter, r *http.Request) {
	pub, err := hex.DecodeString(r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed key parameter")
		return
	}
	ids := s.node.Ledger.Unaccepted(pub)
	transfers := make([]*currency.TransferRecord, 0, len(ids))
	for _, id := range ids {
		if rec, err := s.node.Ledger.TransferRecord(id); err == nil {
			transfers = append(transfers, rec)
		}
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (s *apiServer) handleHeight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]uint64{"height": s.node.Ledger.CurrentHeight()})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, CreateHealthResponse(health))
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetMetricsSummary())
}
