package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/powerstream/coinledger/internal/domain"
	"github.com/powerstream/coinledger/internal/ledger"
	"github.com/powerstream/coinledger/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coinledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	service *service.Service
	ledger  *ledger.Ledger
	logger  *zap.Logger
}

func NewHandler(svc *service.Service, led *ledger.Ledger, logger *zap.Logger) *Handler {
	return &Handler{service: svc, ledger: led, logger: logger}
}

// Router builds the full route table, with /metrics and /health outside the
// versioned prefix.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(instrument)

	v1.HandleFunc("/accounts/{id}/balance", h.GetBalance).Methods("GET")
	v1.HandleFunc("/accounts/{id}/history", h.GetHistory).Methods("GET")
	v1.HandleFunc("/accounts/{id}/ledger", h.GetAccountLedger).Methods("GET")
	v1.HandleFunc("/accounts/{id}/withdrawals", h.ListUserWithdrawals).Methods("GET")

	v1.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")
	v1.HandleFunc("/purchases", h.CreatePurchase).Methods("POST")
	v1.HandleFunc("/faucet/claim", h.ClaimFaucet).Methods("POST")

	v1.HandleFunc("/withdrawals", h.CreateWithdrawal).Methods("POST")
	v1.HandleFunc("/withdrawals/{id}", h.GetWithdrawal).Methods("GET")
	v1.HandleFunc("/withdrawals/{id}/approve", h.ApproveWithdrawal).Methods("POST")
	v1.HandleFunc("/withdrawals/{id}/reject", h.RejectWithdrawal).Methods("POST")
	v1.HandleFunc("/withdrawals/{id}/cancel", h.CancelWithdrawal).Methods("POST")

	v1.HandleFunc("/admin/withdrawals", h.ListWithdrawals).Methods("GET")
	v1.HandleFunc("/admin/adjust", h.AdminAdjust).Methods("POST")

	v1.HandleFunc("/ledger/verify", h.VerifyLedger).Methods("GET")
	v1.HandleFunc("/ledger/latest", h.LatestBlock).Methods("GET")
	v1.HandleFunc("/admin/ledger/clear-halt", h.ClearLedgerHalt).Methods("POST")
	return r
}

// instrument records request counts and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["id"]
	balance, err := h.service.Balance(r.Context(), account)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"balance": balance,
	})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["id"]
	limit, offset := pageParams(r, 20)
	entries, err := h.service.History(r.Context(), account, limit, offset)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) GetAccountLedger(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["id"]
	limit, offset := pageParams(r, 50)
	blocks, err := h.service.LedgerHistory(r.Context(), account, limit, offset)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, blocks)
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	Kind   string `json:"kind"`
	Memo   string `json:"memo"`
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	kind := domain.TxKind(req.Kind)
	if req.Kind == "" {
		kind = domain.KindTransfer
	}
	result, err := h.service.Transfer(r.Context(), req.From, req.To, req.Amount, kind, req.Memo, nil)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

type purchaseRequest struct {
	User         string `json:"user"`
	Amount       int64  `json:"amount"`
	Method       string `json:"method"`
	PaymentToken string `json:"payment_token"`
}

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	result, err := h.service.Purchase(r.Context(), req.User, req.Amount, req.Method, req.PaymentToken)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

func (h *Handler) ClaimFaucet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	claim, err := h.service.ClaimFaucet(r.Context(), req.User)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"amount":        claim.Amount,
		"balance":       claim.NewBalance,
		"next_claim_at": claim.NextClaimAt,
		"block_number":  claim.Block.BlockNumber,
	})
}

type withdrawalRequest struct {
	User           string            `json:"user"`
	Amount         int64             `json:"amount"`
	Method         string            `json:"method"`
	PaymentDetails map[string]string `json:"payment_details"`
}

func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	wr, err := h.service.RequestWithdrawal(r.Context(), req.User, req.Amount,
		domain.WithdrawalMethod(req.Method), req.PaymentDetails)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, wr)
}

func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid withdrawal id")
		return
	}
	wr, err := h.service.Withdrawal(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid withdrawal id")
		return
	}
	var req struct {
		AdminID string `json:"admin_id"`
		Notes   string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	wr, err := h.service.ApproveWithdrawal(r.Context(), id, req.AdminID, req.Notes)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid withdrawal id")
		return
	}
	var req struct {
		AdminID string `json:"admin_id"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	wr, err := h.service.RejectWithdrawal(r.Context(), id, req.AdminID, req.Reason)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid withdrawal id")
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	wr, err := h.service.CancelWithdrawal(r.Context(), id, req.UserID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) ListUserWithdrawals(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["id"]
	limit, offset := pageParams(r, 20)
	status := domain.WithdrawalStatus(r.URL.Query().Get("status"))
	list, err := h.service.WithdrawalsForUser(r.Context(), user, status, limit, offset)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, list)
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 50)
	status := domain.WithdrawalStatus(r.URL.Query().Get("status"))
	list, err := h.service.Withdrawals(r.Context(), status, limit, offset)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	pending, err := h.service.PendingWithdrawalCount(r.Context())
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"withdrawals":   list,
		"pending_count": pending,
	})
}

type adjustRequest struct {
	AdminID string `json:"admin_id"`
	UserID  string `json:"user_id"`
	Delta   int64  `json:"delta"`
	Reason  string `json:"reason"`
}

func (h *Handler) AdminAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	result, err := h.service.AdminAdjust(r.Context(), req.AdminID, req.UserID, req.Delta, req.Reason)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.VerifyChain(r.Context())
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"valid":      res.Valid,
		"blockCount": res.BlockCount,
		"brokenAt":   res.BrokenAt,
		"reason":     res.Reason,
		"halted":     h.ledger.Halted(),
	})
}

// ClearLedgerHalt re-enables ledger writes after an operator has resolved a
// detected corruption. It repairs nothing.
func (h *Handler) ClearLedgerHalt(w http.ResponseWriter, r *http.Request) {
	h.ledger.ClearHalt()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) LatestBlock(w http.ResponseWriter, r *http.Request) {
	block, err := h.ledger.Latest(r.Context())
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	if block == nil {
		respondWithError(w, http.StatusNotFound, "Ledger is empty")
		return
	}
	respondWithJSON(w, http.StatusOK, block)
}

// respondWithServiceError translates the domain error taxonomy to HTTP
// statuses: 422 for validation and balance failures, 404 for missing
// entities, 409 for state conflicts, 500 otherwise.
func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	var claimed *domain.AlreadyClaimedError
	if errors.As(err, &claimed) {
		respondWithJSON(w, http.StatusConflict, map[string]interface{}{
			"error":         claimed.Error(),
			"next_claim_at": claimed.NextClaimAt,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSelfTransferNotAllowed),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrBelowMinimumWithdrawal),
		errors.Is(err, domain.ErrInvalidWithdrawalMethod),
		errors.Is(err, domain.ErrNegativeBalanceAdjustment):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrWithdrawalNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPendingWithdrawalExists),
		errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrConcurrentModification):
		respondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotRequestOwner):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrPaymentFailed):
		respondWithError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrChainHalted):
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("unhandled service error", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func pageParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
