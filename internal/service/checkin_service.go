package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/internal/repository"
	apperrors "github.com/PhuccNguyen/hhsvhbvn/pkg/errors"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/logger"
)

// Response messages
const (
	MsgCheckinSuccess   = "Đã ghi nhận check-in. Hẹn gặp bạn tại sự kiện!"
	MsgAlreadyCheckedIn = "Bạn đã check-in cho sự kiện này rồi. Vui lòng kiểm tra email hoặc liên hệ BTC."
	MsgSaveFailed       = "Có lỗi xảy ra khi lưu dữ liệu. Vui lòng thử lại sau hoặc liên hệ BTC."
	MsgGenericError     = "Có lỗi xảy ra. Vui lòng thử lại sau."
	MsgStoreUpdating    = "Hệ thống đang được cập nhật. Vui lòng thử lại sau 5 phút."
	MsgStorePermission  = "Lỗi quyền truy cập. Vui lòng liên hệ BTC."
	MsgStoreNotFound    = "Không tìm thấy dữ liệu. Vui lòng liên hệ BTC."
)

// CheckinService runs the submission pipeline after rate limiting and body parsing:
// validate, check the round is open, check duplicates, issue a code and append.
type CheckinService struct {
	store     repository.SubmissionStore
	catalog   *domain.Catalog
	validator *Validator
	codes     *CodeGenerator
	policy    StatusPolicy
	stats     *StatsCache
	logger    *logger.Logger
	now       func() time.Time
}

// NewCheckinService creates the pipeline
func NewCheckinService(
	store repository.SubmissionStore,
	catalog *domain.Catalog,
	validator *Validator,
	policy StatusPolicy,
	log *logger.Logger,
) *CheckinService {
	return &CheckinService{
		store:     store,
		catalog:   catalog,
		validator: validator,
		codes:     NewCodeGenerator(),
		policy:    policy,
		logger:    log.Named("checkin_service"),
		now:       time.Now,
	}
}

// UseStatsCache serves health-check stats through cache
func (s *CheckinService) UseStatsCache(cache *StatsCache) {
	s.stats = cache
}

// Submit records one check-in. Failures are *errors.AppError values carrying the
// HTTP status and the submitter-facing message.
func (s *CheckinService) Submit(ctx context.Context, req domain.CheckinRequest, clientIP string) (*domain.Submission, error) {
	data, err := s.validator.Validate(req)
	if err != nil {
		return nil, apperrors.NewValidationError(MsgInvalidData, map[string]interface{}{"error": err.Error()})
	}

	event, _ := s.catalog.Get(data.Round)
	now := s.now()
	status := ResolveEventStatus(event, now, s.policy)
	if !status.CanRegister {
		return nil, apperrors.NewEventClosedError(status.Message)
	}

	dup, err := s.store.CheckDuplicate(ctx, data.Email, data.Phone, data.Round, data.ContestantID)
	switch {
	case err != nil:
		// Duplicate detection is best effort; a flaky read must not block registration
		s.logger.Warn("Duplicate check failed, continuing with submission",
			zap.String("round", data.Round),
			zap.Error(err))
	case dup.IsDuplicate:
		return nil, apperrors.NewConflictError(MsgAlreadyCheckedIn, map[string]interface{}{"duplicate": dup})
	}

	code, err := s.codes.Generate(data.Round)
	if err != nil {
		return nil, apperrors.NewInternalError(MsgGenericError, err)
	}

	sub := domain.Submission{
		FullName:         data.FullName,
		Phone:            data.Phone,
		Email:            data.Email,
		Confirmed:        data.Confirmed,
		Round:            domain.Round(data.Round),
		Region:           domain.Region(data.Region),
		ContestantID:     data.ContestantID,
		Timestamp:        now,
		ConfirmationCode: code,
		IPAddress:        clientIP,
	}

	if err := s.store.AppendSubmission(ctx, sub); err != nil {
		return nil, apperrors.NewInternalError(ClassifyStoreError(err), err)
	}
	if s.stats != nil {
		s.stats.Invalidate(ctx, data.Round)
	}

	return &sub, nil
}

// HealthCheck checks the store and, when reachable, collects per-round stats
func (s *CheckinService) HealthCheck(ctx context.Context) (domain.ConnectionResult, []domain.SheetStats) {
	conn := s.store.TestConnection(ctx)
	if !conn.Success {
		return conn, nil
	}

	events := s.catalog.All()
	stats := make([]domain.SheetStats, 0, len(events))
	for _, e := range events {
		st, err := s.sheetStats(ctx, string(e.ID))
		if err != nil {
			s.logger.Warn("Failed to read sheet stats", zap.String("round", string(e.ID)), zap.Error(err))
			st = domain.SheetStats{Round: e.ID}
		}
		stats = append(stats, st)
	}
	return conn, stats
}

func (s *CheckinService) sheetStats(ctx context.Context, round string) (domain.SheetStats, error) {
	if s.stats != nil {
		return s.stats.GetSheetStats(ctx, round, s.store.GetSheetStats)
	}
	return s.store.GetSheetStats(ctx, round)
}

// ClassifyStoreError maps store failures to a message an attendee can act on
func ClassifyStoreError(err error) string {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusForbidden:
			if strings.Contains(gerr.Message, "has not been used") {
				return MsgStoreUpdating
			}
			return MsgStorePermission
		case http.StatusNotFound:
			return MsgStoreNotFound
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "API has not been used"):
		return MsgStoreUpdating
	case strings.Contains(msg, "permission"):
		return MsgStorePermission
	case strings.Contains(msg, "not found"):
		return MsgStoreNotFound
	}
	return MsgSaveFailed
}
