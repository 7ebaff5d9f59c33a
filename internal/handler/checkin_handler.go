package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/internal/middleware"
	"github.com/PhuccNguyen/hhsvhbvn/internal/service"
	apperrors "github.com/PhuccNguyen/hhsvhbvn/pkg/errors"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/logger"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/utils"
)

const (
	msgRateLimited = "Bạn đã gửi quá nhiều yêu cầu. Vui lòng thử lại sau %d giây."
	maxBodyBytes   = 64 << 10
	unknownIP      = "unknown"
)

// Attempt log actions, one per pipeline stage that can end a request
const (
	actionCheckin       = "checkin"
	actionRateLimit     = "rate_limit"
	actionParse         = "parse_body"
	actionValidate      = "validate"
	actionEventStatus   = "event_status"
	actionDuplicate     = "duplicate_check"
	actionAppend        = "append"
	actionHealthCheck   = "health_check"
	statusSuccess       = "SUCCESS"
	statusFailed        = "FAILED"
	healthStatusOK      = "OK"
	healthStatusError   = "ERROR"
	defaultUnknownRound = "unknown"
)

// CheckinHandler serves /api/checkin
type CheckinHandler struct {
	checkin   service.CheckinSubmitter
	limiter   service.RateLimiter
	logger    *logger.Logger
	startedAt time.Time
}

// NewCheckinHandler creates a new check-in handler
func NewCheckinHandler(checkin service.CheckinSubmitter, limiter service.RateLimiter, log *logger.Logger, startedAt time.Time) *CheckinHandler {
	return &CheckinHandler{
		checkin:   checkin,
		limiter:   limiter,
		logger:    log,
		startedAt: startedAt,
	}
}

// RegisterRoutes registers check-in routes with the router
func (h *CheckinHandler) RegisterRoutes(r chi.Router) {
	r.Route("/checkin", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/", h.Health)
		r.Options("/", h.Preflight)
	})
}

// attempt collects the fields of the per-request attempt log
type attempt struct {
	start     time.Time
	email     string
	round     string
	action    string
	clientIP  string
	requestID string
}

// Submit handles POST /api/checkin
func (h *CheckinHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a := &attempt{
		start:     time.Now(),
		email:     "unknown",
		round:     defaultUnknownRound,
		action:    actionRateLimit,
		clientIP:  clientIP(r),
		requestID: middleware.GetRequestID(ctx),
	}

	limit, err := h.limiter.Check(ctx, service.RateLimitKey(service.ActionCheckin, a.clientIP))
	if err != nil {
		h.logger.WithError(err).Warn("Rate limiter store failed, allowing request")
	}
	setRateLimitHeaders(w, limit)
	if !limit.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(limit.RetryAfter))
		h.fail(w, a, apperrors.NewRateLimitError(fmt.Sprintf(msgRateLimited, limit.RetryAfter), limit.RetryAfter))
		return
	}

	a.action = actionParse
	var req domain.CheckinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			a.action = actionValidate
			h.fail(w, a, apperrors.NewValidationError(service.MsgInvalidData, map[string]interface{}{
				"error": service.TypeMismatchMessage(typeErr.Field),
			}))
			return
		}
		h.fail(w, a, apperrors.NewBadRequestError(service.MsgGenericError, err))
		return
	}
	if req.Email != "" {
		a.email = strings.ToLower(strings.TrimSpace(req.Email))
	}
	if req.Round != "" {
		a.round = req.Round
	}

	sub, err := h.checkin.Submit(ctx, req, a.clientIP)
	if err != nil {
		h.fail(w, a, err)
		return
	}

	a.action = actionCheckin
	h.logAttempt(a, statusSuccess, "", nil, zap.String("confirmation_code", sub.ConfirmationCode))
	h.writeJSON(w, http.StatusOK, domain.CheckinResponse{
		Success:          true,
		Message:          service.MsgCheckinSuccess,
		ConfirmationCode: sub.ConfirmationCode,
	})
}

// fail maps err to the response envelope and writes the attempt log
func (h *CheckinHandler) fail(w http.ResponseWriter, a *attempt, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError(service.MsgGenericError, err)
	}

	resp := domain.CheckinResponse{Success: false, Message: appErr.Message}
	var duplicateFields []string

	switch appErr.Type {
	case apperrors.ErrorTypeRateLimit:
		resp.RetryAfter = appErr.RetryAfter
	case apperrors.ErrorTypeBadRequest:
		a.action = actionParse
	case apperrors.ErrorTypeValidation:
		a.action = actionValidate
		if msg, ok := appErr.Details["error"].(string); ok {
			resp.Error = msg
		}
	case apperrors.ErrorTypeEventClosed:
		a.action = actionEventStatus
	case apperrors.ErrorTypeDuplicate:
		a.action = actionDuplicate
		if dup, ok := appErr.Details["duplicate"].(domain.DuplicateCheckResult); ok {
			resp.DuplicateFields = &dup
			duplicateFields = dup.Fields()
		}
	case apperrors.ErrorTypeInternal:
		if a.action != actionParse {
			a.action = actionAppend
		}
	}

	reason := appErr.Message
	if resp.Error != "" {
		reason = resp.Error
	}
	fields := []zap.Field{zap.Int("status_code", appErr.StatusCode)}
	if appErr.Internal != nil {
		fields = append(fields, zap.NamedError("cause", appErr.Internal))
	}
	h.logAttempt(a, statusFailed, reason, duplicateFields, fields...)
	h.writeJSON(w, appErr.StatusCode, resp)
}

// logAttempt writes the single structured entry every request produces
func (h *CheckinHandler) logAttempt(a *attempt, status, reason string, duplicateFields []string, extra ...zap.Field) {
	fields := []zap.Field{
		zap.String("service", "checkin"),
		zap.String("status", status),
		zap.String("email", utils.MaskEmail(a.email)),
		zap.String("round", a.round),
		zap.String("action", a.action),
		zap.Int64("processing_time_ms", time.Since(a.start).Milliseconds()),
		zap.String("client_ip", a.clientIP),
	}
	if a.requestID != "" {
		fields = append(fields, zap.String("request_id", a.requestID))
	}
	if reason != "" {
		fields = append(fields, zap.String("error", reason))
	}
	if len(duplicateFields) > 0 {
		fields = append(fields, zap.Strings("duplicate_fields", duplicateFields))
	}
	fields = append(fields, extra...)

	if status == statusSuccess {
		h.logger.Info("Check-in attempt", fields...)
		return
	}
	h.logger.Warn("Check-in attempt", fields...)
}

// CheckinHealthResponse is the body of GET /api/checkin
type CheckinHealthResponse struct {
	Status        string                  `json:"status"`
	Timestamp     time.Time               `json:"timestamp"`
	GoogleSheets  domain.ConnectionResult `json:"googleSheets"`
	Stats         []domain.SheetStats     `json:"stats,omitempty"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Memory        MemoryStats             `json:"memory"`
	Error         string                  `json:"error,omitempty"`
}

// MemoryStats is a diagnostic snapshot of the Go heap
type MemoryStats struct {
	AllocBytes uint64 `json:"alloc_bytes"`
	SysBytes   uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

// Health handles GET /api/checkin
func (h *CheckinHandler) Health(w http.ResponseWriter, r *http.Request) {
	conn, stats := h.checkin.HealthCheck(r.Context())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := CheckinHealthResponse{
		Status:        healthStatusOK,
		Timestamp:     time.Now().UTC(),
		GoogleSheets:  conn,
		Stats:         stats,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Memory: MemoryStats{
			AllocBytes: mem.Alloc,
			SysBytes:   mem.Sys,
			NumGC:      mem.NumGC,
		},
	}

	status := http.StatusOK
	if !conn.Success {
		resp.Status = healthStatusError
		resp.Error = conn.Message
		status = http.StatusInternalServerError
		h.logger.Error("Store connection test failed",
			zap.String("action", actionHealthCheck),
			zap.String("error", conn.Message))
	}

	h.writeJSON(w, status, resp)
}

// Preflight handles OPTIONS /api/checkin when no CORS middleware answered it
func (h *CheckinHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckinHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

// setRateLimitHeaders sets standard rate limit headers
func setRateLimitHeaders(w http.ResponseWriter, res service.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
}

// clientIP takes the first X-Forwarded-For entry, then X-Real-IP
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return unknownIP
}
