package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/cashflow/internal/artifact"
	"github.com/punchamoorthee/cashflow/internal/domain"
	"github.com/punchamoorthee/cashflow/internal/service"
	"github.com/punchamoorthee/cashflow/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cashflow_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cashflow_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc    *service.CashflowService
	loc    *time.Location
	logger *zap.Logger
}

func NewHandler(svc *service.CashflowService, loc *time.Location, logger *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, loc: loc, logger: logger}
}

// NewRouter mounts the API under /api/v1 behind auth, plus /health and /metrics.
func NewRouter(h *Handler, auth *Authenticator) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(timed, auth.Middleware)
	apiV1.HandleFunc("/cash-requests", h.CreateRequest).Methods("POST")
	apiV1.HandleFunc("/cash-requests", h.ListRequests).Methods("GET")
	apiV1.HandleFunc("/cash-requests/my", h.MyRequests).Methods("GET")
	apiV1.HandleFunc("/cash-requests/{id:[0-9]+}", h.GetRequest).Methods("GET")
	apiV1.HandleFunc("/cash-requests/{id:[0-9]+}/sign", h.Sign).Methods("POST")
	apiV1.HandleFunc("/cash-requests/{id:[0-9]+}/refuse", h.Refuse).Methods("POST")
	apiV1.HandleFunc("/cash-requests/{id:[0-9]+}/admin-sign", h.AdminSign).Methods("POST")
	apiV1.HandleFunc("/cash-requests/{id:[0-9]+}/resend", h.Resend).Methods("POST")
	apiV1.HandleFunc("/cash-requests/{id:[0-9]+}/cancel", h.Cancel).Methods("POST")
	apiV1.HandleFunc("/cash-requests/{id:[0-9]+}/recompute", h.Recompute).Methods("POST")
	apiV1.HandleFunc("/cash-requests/{id:[0-9]+}/participants/{userID:[0-9]+}/signature.png", h.SignatureImage).Methods("GET")
	apiV1.HandleFunc("/act-rows", h.ActRows).Methods("GET")
	return r
}

func timed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpLatency.WithLabelValues(r.Method, endpoint(r)))
		defer timer.ObserveDuration()
		next.ServeHTTP(w, r)
	})
}

type createRequestBody struct {
	Account       string          `json:"account"`
	OpType        string          `json:"op_type"`
	Amount        decimal.Decimal `json:"amount"`
	SourceKind    string          `json:"source_kind,omitempty"`
	SourceID      *int64          `json:"source_id,omitempty"`
	SourcePayload json.RawMessage `json:"source_payload,omitempty"`
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r, domain.RoleAdmin, domain.RoleAccountant)
	if !ok {
		return
	}
	var body createRequestBody
	if !decode(w, r, &body) {
		return
	}
	in := service.CreateInput{
		Account:     body.Account,
		OpType:      body.OpType,
		Amount:      body.Amount,
		InitiatorID: &caller.UserID,
	}
	if body.SourceKind != "" || body.SourceID != nil || len(body.SourcePayload) > 0 {
		in.Source = &domain.Source{Kind: body.SourceKind, ID: body.SourceID, Payload: body.SourcePayload}
	}
	view, err := h.svc.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/cash-requests/"+strconv.FormatInt(view.Request.ID, 10))
	respondJSON(w, r, http.StatusCreated, view)
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, domain.RoleAdmin); !ok {
		return
	}
	f, err := listFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for _, s := range splitList(r.URL.Query().Get("status")) {
		f.Statuses = append(f.Statuses, domain.Status(strings.ToUpper(s)))
	}
	rs, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]interface{}{"items": nonNil(rs)})
}

func (h *Handler) MyRequests(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	f, err := listFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if open, _ := strconv.ParseBool(r.URL.Query().Get("only_open")); open {
		f.Statuses = domain.OpenStatuses
	}
	rs, err := h.svc.ListForParticipant(r.Context(), caller.UserID, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]interface{}{"items": nonNil(rs)})
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok || !h.canSee(w, r, id) {
		return
	}
	view, err := h.svc.View(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, view)
}

type signBody struct {
	Signature string `json:"signature"`
}

func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, false)
}

func (h *Handler) AdminSign(w http.ResponseWriter, r *http.Request) {
	h.sign(w, r, true)
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request, asAdmin bool) {
	role := domain.RoleSigner
	if asAdmin {
		role = domain.RoleAdmin
	}
	caller, ok := h.authorize(w, r, role)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body signBody
	if !decode(w, r, &body) {
		return
	}
	image, err := artifact.DecodeDataURL(body.Signature)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var view *domain.RequestView
	if asAdmin {
		view, err = h.svc.AdminSign(r.Context(), id, caller.UserID, image)
	} else {
		view, err = h.svc.Sign(r.Context(), id, caller.UserID, image)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, view)
}

func (h *Handler) Refuse(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r, domain.RoleSigner)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if !decode(w, r, &body) {
		return
	}
	view, err := h.svc.Refuse(r.Context(), id, caller.UserID, body.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, view)
}

func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r, domain.RoleAdmin)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		TargetIDs    []int64 `json:"target_ids"`
		AdminComment string  `json:"admin_comment"`
	}
	if !decode(w, r, &body) {
		return
	}
	targets, err := h.svc.Resend(r.Context(), id, caller.UserID, body.TargetIDs, body.AdminComment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]interface{}{"request_id": id, "attempt": domain.FinalAttempt, "targets": targets})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r, domain.RoleAdmin)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Comment string `json:"comment"`
	}
	if !decode(w, r, &body) {
		return
	}
	req, err := h.svc.Cancel(r.Context(), id, caller.UserID, body.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, req)
}

func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, domain.RoleAdmin); !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	status, err := h.svc.Recompute(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]interface{}{"request_id": id, "status": status})
}

func (h *Handler) SignatureImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok || !h.canSee(w, r, id) {
		return
	}
	path, err := h.svc.SignatureArtifact(r.Context(), id, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpReqTotal.WithLabelValues(r.Method, endpoint(r), strconv.Itoa(http.StatusOK)).Inc()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

func (h *Handler) ActRows(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, domain.RoleAdmin, domain.RoleSigner); !ok {
		return
	}
	q := r.URL.Query()
	var f service.ActFilter
	if a := q.Get("account"); a != "" {
		account, err := domain.ParseAccount(a)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		f.Account = account
	}
	var err error
	if f.From, err = h.parseDate(q.Get("date_from")); err != nil {
		respondError(w, r, http.StatusBadRequest, "date_from must be YYYY-MM-DD")
		return
	}
	if f.To, err = h.parseDate(q.Get("date_to")); err != nil {
		respondError(w, r, http.StatusBadRequest, "date_to must be YYYY-MM-DD")
		return
	}
	rows, err := h.svc.ActRows(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]interface{}{"items": nonNil(rows)})
}

func (h *Handler) parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, h.loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// authorize requires one of roles.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, roles ...domain.Role) (Principal, bool) {
	caller, ok := PrincipalFrom(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "Unauthenticated")
		return Principal{}, false
	}
	if !caller.Is(roles...) {
		respondError(w, r, http.StatusForbidden, "Forbidden")
		return Principal{}, false
	}
	return caller, true
}

// canSee lets admins and roster members read a request.
func (h *Handler) canSee(w http.ResponseWriter, r *http.Request, id int64) bool {
	caller, ok := PrincipalFrom(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "Unauthenticated")
		return false
	}
	if caller.Is(domain.RoleAdmin) {
		return true
	}
	member, err := h.svc.IsParticipant(r.Context(), id, caller.UserID)
	if err != nil {
		h.fail(w, r, err)
		return false
	}
	if !member {
		respondError(w, r, http.StatusForbidden, "Forbidden")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("endpoint", endpoint(r)), zap.Error(err))
		respondError(w, r, code, "Internal error")
		return
	}
	respondError(w, r, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrReasonRequired),
		errors.Is(err, domain.ErrInvalidArtifact),
		errors.Is(err, domain.ErrNoRefusalsToRetry),
		errors.Is(err, domain.ErrNoValidTargets):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrAdminCannotRefuse):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRequestClosed),
		errors.Is(err, domain.ErrAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoAdminAvailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func listFilter(r *http.Request) (store.RequestFilter, error) {
	q := r.URL.Query()
	var f store.RequestFilter
	if a := q.Get("account"); a != "" {
		account, err := domain.ParseAccount(a)
		if err != nil {
			return f, err
		}
		f.Account = account
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "Invalid "+key)
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func endpoint(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Helpers
func respondJSON(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	httpReqTotal.WithLabelValues(r.Method, endpoint(r), strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	respondJSON(w, r, code, map[string]string{"error": msg})
}
