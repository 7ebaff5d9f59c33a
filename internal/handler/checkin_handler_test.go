package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/internal/middleware"
	"github.com/PhuccNguyen/hhsvhbvn/internal/service"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/logger"
)

// fakeStore is an in-memory SubmissionStore
type fakeStore struct {
	mu         sync.Mutex
	rows       []domain.Submission
	appendErr  error
	connection domain.ConnectionResult
}

func newFakeStore() *fakeStore {
	return &fakeStore{connection: domain.ConnectionResult{Success: true, Message: "Connection successful"}}
}

func (f *fakeStore) AppendSubmission(ctx context.Context, sub domain.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.rows = append(f.rows, sub)
	return nil
}

func (f *fakeStore) CheckDuplicate(ctx context.Context, email, phone, round, contestantID string) (domain.DuplicateCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, r := range f.rows {
		if string(r.Round) == round && (r.Email == email || r.Phone == phone) {
			return domain.DuplicateCheckResult{IsDuplicate: true, Email: r.Email == email, Phone: r.Phone == phone}, nil
		}
	}
	return domain.DuplicateCheckResult{}, nil
}

func (f *fakeStore) GetSheetStats(ctx context.Context, round string) (domain.SheetStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := domain.SheetStats{Round: domain.Round(round)}
	for _, r := range f.rows {
		if string(r.Round) == round {
			st.Total++
		}
	}
	return st, nil
}

func (f *fakeStore) TestConnection(ctx context.Context) domain.ConnectionResult {
	return f.connection
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func newTestRouter(store *fakeStore, limit int) http.Handler {
	log := logger.NewNop()
	catalog := domain.DefaultCatalog()
	validator := service.NewValidator(catalog, service.ValidatorOptions{RequireTwoWordName: true})
	svc := service.NewCheckinService(store, catalog, validator, service.StatusPolicy{}, log)
	limiter := service.NewLimiter(service.NewMemoryLimiterStore(), limit, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(), log))
	r.Use(middleware.RequestID())
	r.Route("/api", func(r chi.Router) {
		NewCheckinHandler(svc, limiter, log, time.Now()).RegisterRoutes(r)
	})
	return r
}

func validBody() map[string]interface{} {
	return map[string]interface{}{
		"fullName":  "Nguyễn Thị A",
		"phone":     "0901234567",
		"email":     "a@test.com",
		"confirmed": true,
		"round":     "hop-bao",
	}
}

func post(t *testing.T, h http.Handler, body interface{}) (*httptest.ResponseRecorder, domain.CheckinResponse) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(http.MethodPost, "/api/checkin", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp domain.CheckinResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestCheckinHandler_SuccessThenDuplicate(t *testing.T) {
	store := newFakeStore()
	h := newTestRouter(store, 5)

	rec, resp := post(t, h, validBody())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, service.MsgCheckinSuccess, resp.Message)
	assert.True(t, strings.HasPrefix(resp.ConfirmationCode, "HB-"), resp.ConfirmationCode)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	require.Equal(t, 1, store.count())
	assert.Equal(t, "203.0.113.9", store.rows[0].IPAddress)

	rec, resp = post(t, h, validBody())

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, service.MsgAlreadyCheckedIn, resp.Message)
	require.NotNil(t, resp.DuplicateFields)
	assert.True(t, resp.DuplicateFields.Email)
	assert.Empty(t, resp.ConfirmationCode)
	assert.Equal(t, 1, store.count())
}

func TestCheckinHandler_DuplicateFieldsWireFormat(t *testing.T) {
	store := newFakeStore()
	h := newTestRouter(store, 5)
	post(t, h, validBody())

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(validBody()))
	req := httptest.NewRequest(http.MethodPost, "/api/checkin", &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	fields, ok := raw["duplicateFields"].(map[string]interface{})
	require.True(t, ok, rec.Body.String())
	assert.Equal(t, true, fields["email"])
	assert.NotContains(t, fields, "isDuplicate")
}

func TestCheckinHandler_NotConfirmed(t *testing.T) {
	store := newFakeStore()
	h := newTestRouter(store, 5)
	body := validBody()
	body["confirmed"] = false

	rec, resp := post(t, h, body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, service.MsgInvalidData, resp.Message)
	assert.Equal(t, service.MsgNotConfirmed, resp.Error)
	assert.Zero(t, store.count())
}

func TestCheckinHandler_EventClosed(t *testing.T) {
	store := newFakeStore()
	h := newTestRouter(store, 5)
	body := validBody()
	body["round"] = "chung-ket"

	rec, resp := post(t, h, body)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
	assert.Zero(t, store.count())
}

func TestCheckinHandler_MalformedJSON(t *testing.T) {
	store := newFakeStore()
	h := newTestRouter(store, 5)

	rec, resp := post(t, h, `{"fullName": "Nguyễn`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, service.MsgGenericError, resp.Message)
}

func TestCheckinHandler_WrongFieldType(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		value   interface{}
		wantErr string
	}{
		{"confirmed as string", "confirmed", "true", service.MsgNotConfirmed},
		{"phone as number", "phone", 901234567, service.MsgPhoneInvalid},
		{"round as number", "round", 1, service.MsgRoundInvalid},
		{"email as object", "email", map[string]string{"a": "b"}, service.MsgEmailInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			h := newTestRouter(store, 5)
			body := validBody()
			body[tt.field] = tt.value

			rec, resp := post(t, h, body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, service.MsgInvalidData, resp.Message)
			assert.Equal(t, tt.wantErr, resp.Error)
			assert.Zero(t, store.count())
		})
	}
}

func TestCheckinHandler_AppendFailure(t *testing.T) {
	store := newFakeStore()
	store.appendErr = errors.New("retry attempts exhausted: connection reset")
	h := newTestRouter(store, 5)

	rec, resp := post(t, h, validBody())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, service.MsgSaveFailed, resp.Message)
	assert.Empty(t, resp.ConfirmationCode)
}

func TestCheckinHandler_RateLimited(t *testing.T) {
	store := newFakeStore()
	h := newTestRouter(store, 5)
	body := validBody()
	body["confirmed"] = false

	for i := 0; i < 5; i++ {
		rec, _ := post(t, h, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "request %d", i+1)
		assert.Equal(t, strconv.Itoa(4-i), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec, resp := post(t, h, validBody())

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, resp.Success)
	assert.Greater(t, resp.RetryAfter, 0)
	assert.Equal(t, strconv.Itoa(resp.RetryAfter), rec.Header().Get("Retry-After"))
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Zero(t, store.count())
}

func TestCheckinHandler_Options(t *testing.T) {
	h := newTestRouter(newFakeStore(), 5)

	req := httptest.NewRequest(http.MethodOptions, "/api/checkin", nil)
	req.Header.Set("Origin", "https://hhsv.vn")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://hhsv.vn", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestCheckinHandler_PreflightWithoutMiddleware(t *testing.T) {
	h := &CheckinHandler{logger: logger.NewNop()}

	rec := httptest.NewRecorder()
	h.Preflight(rec, httptest.NewRequest(http.MethodOptions, "/api/checkin", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCheckinHandler_Health(t *testing.T) {
	store := newFakeStore()
	h := newTestRouter(store, 5)
	post(t, h, validBody())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/checkin", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CheckinHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Status)
	assert.True(t, resp.GoogleSheets.Success)
	require.Len(t, resp.Stats, 4)
	assert.Equal(t, 1, resp.Stats[0].Total)
	assert.NotZero(t, resp.Memory.SysBytes)
}

func TestCheckinHandler_HealthConnectionFailure(t *testing.T) {
	store := newFakeStore()
	store.connection = domain.ConnectionResult{Success: false, Message: "invalid PEM structure: missing header or footer line"}
	h := newTestRouter(store, 5)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/checkin", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp CheckinHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ERROR", resp.Status)
	assert.Contains(t, resp.Error, "invalid PEM structure")
	assert.Empty(t, resp.Stats)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded list", map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"}, "1.2.3.4"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 9.9.9.9 "}, "9.9.9.9"},
		{"real ip", map[string]string{"X-Real-IP": "8.8.8.8"}, "8.8.8.8"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "1.1.1.1"},
		{"none", map[string]string{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/checkin", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
