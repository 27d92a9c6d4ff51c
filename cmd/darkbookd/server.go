// server.go - HTTP intake API for traders and administrators.
package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sanjay-sol/darkbook/internal/engine"
	"github.com/sanjay-sol/darkbook/internal/event"
	"github.com/sanjay-sol/darkbook/internal/merkle"
	"github.com/sanjay-sol/darkbook/internal/registry"
)

// Server exposes the exchange over HTTP: order intake, custody, admin
// operations, and observability endpoints.
type Server struct {
	cfg     *Config
	reg     *registry.Registry
	eng     *engine.Engine
	events  *event.Broadcaster
	cache   *intentCache
	metrics *MetricsCollector
	health  *HealthChecker
	limiter *TraderRateLimiter
	log     zerolog.Logger

	httpServer *http.Server
}

// NewServer wires the intake API around the running components.
func NewServer(cfg *Config, reg *registry.Registry, eng *engine.Engine, events *event.Broadcaster, cache *intentCache, metrics *MetricsCollector, health *HealthChecker, limiter *TraderRateLimiter, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		reg:     reg,
		eng:     eng,
		events:  events,
		cache:   cache,
		metrics: metrics,
		health:  health,
		limiter: limiter,
		log:     log.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleSubmit)
	mux.HandleFunc("POST /cancel", s.handleCancel)
	mux.HandleFunc("POST /deposit", s.handleDeposit)
	mux.HandleFunc("POST /withdraw", s.handleWithdraw)
	mux.HandleFunc("GET /orders/status", s.handleOrderStatus)
	mux.HandleFunc("GET /settlements", s.handleSettlements)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /admin/epoch", s.handleAdvanceEpoch)
	mux.HandleFunc("POST /admin/matchers", s.handleMatchers)
	mux.HandleFunc("POST /admin/assets", s.handleAddAsset)
	mux.HandleFunc("POST /admin/permissioned", s.handlePermissioned)

	s.httpServer = &http.Server{Addr: cfg.ListenAddress, Handler: mux}
	return s
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("address", s.cfg.ListenAddress).Msg("api listening")
	return s.httpServer.ListenAndServe()
}

// Close shuts the API server down.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

type submitRequest struct {
	Owner      string `json:"owner"`
	Commitment string `json:"commitment"`
	Nullifier  string `json:"nullifier"`
	MarketID   uint32 `json:"market_id"`
	Side       string `json:"side"`
	Price      uint64 `json:"price"`
	Qty        uint64 `json:"qty"`
	Salt       string `json:"salt"`
	Proof      []byte `json:"proof,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.limiter.Allow(req.Owner) {
		s.metrics.IncrementCounter(MetricRateLimited, nil)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	cm, err := merkle.HexToHash(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commitment")
		return
	}
	nf, err := merkle.HexToHash(req.Nullifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid nullifier")
		return
	}
	salt, err := merkle.HexToHash(req.Salt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid salt")
		return
	}
	var side engine.Side
	switch req.Side {
	case "bid":
		side = engine.Bid
	case "ask":
		side = engine.Ask
	default:
		writeError(w, http.StatusBadRequest, "side must be bid or ask")
		return
	}
	if req.Qty == 0 {
		writeError(w, http.StatusBadRequest, "qty must be positive")
		return
	}

	if err := s.reg.SubmitOrder(req.Owner, cm, nf, req.MarketID, req.Proof); err != nil {
		s.metrics.RecordRejection(err.Error())
		writeError(w, registryErrorStatus(err), err.Error())
		return
	}

	sideNum := uint64(0)
	if side == engine.Ask {
		sideNum = 1
	}
	s.cache.Put(cm, revealedOrder{
		MarketID: req.MarketID,
		Price:    req.Price,
		Amount:   req.Qty,
		Side:     sideNum,
		Salt:     salt,
	})
	s.eng.Submit(engine.Intent{
		Commitment: cm,
		Owner:      req.Owner,
		MarketID:   req.MarketID,
		Side:       side,
		Price:      req.Price,
		Qty:        req.Qty,
	})

	s.metrics.RecordSubmission(req.MarketID)
	s.metrics.RecordActiveOrders(req.MarketID, s.reg.ActiveCount(req.MarketID))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "commitment": cm.Hex()})
}

type cancelRequest struct {
	Owner      string `json:"owner"`
	Commitment string `json:"commitment"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.limiter.Allow(req.Owner) {
		s.metrics.IncrementCounter(MetricRateLimited, nil)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	cm, err := merkle.HexToHash(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commitment")
		return
	}

	if err := s.reg.CancelOrder(req.Owner, cm); err != nil {
		writeError(w, registryErrorStatus(err), err.Error())
		return
	}
	s.eng.Cancel(cm)
	s.cache.Delete(cm)

	s.metrics.IncrementCounter(MetricOrdersCancelled, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type depositRequest struct {
	Owner  string `json:"owner"`
	Asset  uint32 `json:"asset"`
	Amount uint64 `json:"amount"`
	Leaf   string `json:"leaf"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	leaf, err := merkle.HexToHash(req.Leaf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid leaf")
		return
	}

	index, err := s.reg.Deposit(req.Owner, req.Asset, req.Amount, leaf)
	if err != nil {
		writeError(w, registryErrorStatus(err), err.Error())
		return
	}
	s.metrics.IncrementCounter(MetricDeposits, nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaf_index": index})
}

type withdrawRequest struct {
	Owner     string   `json:"owner"`
	Asset     uint32   `json:"asset"`
	Nullifier string   `json:"nullifier"`
	Leaf      string   `json:"leaf"`
	LeafIndex uint64   `json:"leaf_index"`
	Path      []string `json:"path"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	nf, err := merkle.HexToHash(req.Nullifier)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid nullifier")
		return
	}
	leaf, err := merkle.HexToHash(req.Leaf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid leaf")
		return
	}
	path := make([]merkle.Hash, len(req.Path))
	for i, p := range req.Path {
		path[i], err = merkle.HexToHash(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid path element")
			return
		}
	}

	if err := s.reg.Withdraw(req.Owner, req.Asset, nf, leaf, req.LeafIndex, path); err != nil {
		writeError(w, registryErrorStatus(err), err.Error())
		return
	}
	s.metrics.IncrementCounter(MetricWithdrawals, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	cm, err := merkle.HexToHash(r.URL.Query().Get("commitment"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commitment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": s.reg.OrderStatus(cm).String()})
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Settlements())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"root":         s.reg.Root().Hex(),
		"epoch":        s.reg.Epoch(),
		"permissioned": s.reg.Permissioned(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.CheckHealth()
	status := http.StatusOK
	if health.OverallStatus == Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, CreateHealthResponse(health))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.GetMetricsSummary())
}

type adminRequest struct {
	Caller  string `json:"caller"`
	Matcher string `json:"matcher,omitempty"`
	Revoke  bool   `json:"revoke,omitempty"`
	Asset   uint32 `json:"asset,omitempty"`
	On      bool   `json:"on,omitempty"`
}

func (s *Server) handleAdvanceEpoch(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	epoch, err := s.reg.AdvanceEpoch(req.Caller)
	if err != nil {
		writeError(w, registryErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"epoch": epoch})
}

func (s *Server) handleMatchers(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var err error
	if req.Revoke {
		err = s.reg.RevokeMatcher(req.Caller, req.Matcher)
	} else {
		err = s.reg.AuthorizeMatcher(req.Caller, req.Matcher)
	}
	if err != nil {
		writeError(w, registryErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.reg.AddAsset(req.Caller, req.Asset); err != nil {
		writeError(w, registryErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePermissioned(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.reg.SetPermissioned(req.Caller, req.On); err != nil {
		writeError(w, registryErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// registryErrorStatus maps registry failures onto HTTP status codes:
// validation 400, conflicts 409, authorization 403, proof rejection 422.
func registryErrorStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrInvalidMarket),
		errors.Is(err, registry.ErrInvalidAsset),
		errors.Is(err, registry.ErrZeroAmount),
		errors.Is(err, registry.ErrSelfMatch):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNullifierReused),
		errors.Is(err, registry.ErrCommitmentExists),
		errors.Is(err, registry.ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrNotOwner),
		errors.Is(err, registry.ErrNotAdmin),
		errors.Is(err, registry.ErrNotAuthorizedMatcher):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrAssetNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrProofRejected):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
