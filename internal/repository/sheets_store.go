package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/credentials"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/logger"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/retry"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/utils"
)

// Worksheet layout
const (
	TimestampLayout = "02/01/2006 15:04:05"
	headerRange     = "A1:K1"
	dataRange       = "A:K"

	colTimestamp  = 0
	colPhone      = 2
	colEmail      = 3
	colContestant = 6

	confirmedYes = "Có"
	confirmedNo  = "Không"

	recentWindow = 24 * time.Hour
)

// Header is the first row of every round worksheet
var Header = []interface{}{
	"Timestamp",
	"Họ và tên",
	"Số điện thoại",
	"Email",
	"Phân loại",
	"Khu vực",
	"Mã thí sinh",
	"Xác nhận",
	"Vòng thi",
	"Mã xác nhận",
	"Địa chỉ IP",
}

// ErrUnknownRound is returned for rounds missing from the catalog
var ErrUnknownRound = errors.New("unknown round")

// SheetsStoreConfig wires a SheetsStore
type SheetsStoreConfig struct {
	Credentials credentials.Provider
	Catalog     *domain.Catalog
	Index       DuplicateIndex
	Retry       retry.Policy
	Logger      *logger.Logger

	// Endpoint replaces the Google endpoint and skips OAuth; used against emulators
	Endpoint   string
	HTTPClient *http.Client
}

// SheetsStore keeps one worksheet per round in a Google spreadsheet and
// answers duplicate checks through a side index rebuilt from those rows.
type SheetsStore struct {
	creds   credentials.Provider
	catalog *domain.Catalog
	index   DuplicateIndex
	retry   retry.Policy
	logger  *logger.Logger
	newAPI  apiFactory
	now     func() time.Time

	mu            sync.Mutex
	api           sheetsAPI
	spreadsheetID string
	ensured       map[string]bool
	sheetLocks    map[string]*sync.Mutex
}

// NewSheetsStore creates a store; the Google client is built on first use
func NewSheetsStore(cfg SheetsStoreConfig) *SheetsStore {
	factory := newServiceAccountAPI
	if cfg.Endpoint != "" {
		client := cfg.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		factory = newEndpointAPI(cfg.Endpoint, client)
	}

	index := cfg.Index
	if index == nil {
		index = NewMemoryIndex(DefaultIndexWarmTTL)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	policy := cfg.Retry
	if policy.Retryable == nil {
		policy.Retryable = IsRetryable
	}

	return &SheetsStore{
		creds:      cfg.Credentials,
		catalog:    cfg.Catalog,
		index:      index,
		retry:      policy,
		logger:     log.Named("sheets"),
		newAPI:     factory,
		now:        time.Now,
		ensured:    make(map[string]bool),
		sheetLocks: make(map[string]*sync.Mutex),
	}
}

// client returns the cached API client, creating it on first use
func (s *SheetsStore) client(ctx context.Context) (sheetsAPI, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.api != nil {
		return s.api, s.spreadsheetID, nil
	}

	account, err := s.creds.Credentials(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("google sheets authentication failed: %w", err)
	}
	api, err := s.newAPI(ctx, account)
	if err != nil {
		return nil, "", fmt.Errorf("google sheets authentication failed: %w", err)
	}

	s.api = api
	s.spreadsheetID = account.SpreadsheetID
	s.logger.Info("Google Sheets client initialized", zap.String("client_email", account.ClientEmail))
	return s.api, s.spreadsheetID, nil
}

func (s *SheetsStore) sheetFor(round string) (string, error) {
	event, ok := s.catalog.Get(round)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownRound, round)
	}
	return event.SheetName, nil
}

func (s *SheetsStore) sheetLock(sheet string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.sheetLocks[sheet]
	if !ok {
		lock = &sync.Mutex{}
		s.sheetLocks[sheet] = lock
	}
	return lock
}

// ensureSheet creates the worksheet and header row once per process
func (s *SheetsStore) ensureSheet(ctx context.Context, api sheetsAPI, spreadsheetID, sheet string) error {
	lock := s.sheetLock(sheet)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	done := s.ensured[sheet]
	s.mu.Unlock()
	if done {
		return nil
	}

	titles, err := retry.Do(ctx, s.retry, func(ctx context.Context) ([]string, error) {
		return api.SheetTitles(ctx, spreadsheetID)
	})
	if err != nil {
		return fmt.Errorf("failed to list worksheets: %w", err)
	}

	if !contains(titles, sheet) {
		err := retry.Run(ctx, s.retry, func(ctx context.Context) error {
			return api.AddSheet(ctx, spreadsheetID, sheet)
		})
		switch {
		case err == nil:
			s.logger.Info("Created worksheet", zap.String("sheet", sheet))
		case isSheetExists(err):
			// Another instance created it after we listed titles
			s.logger.Debug("Worksheet already exists", zap.String("sheet", sheet))
		default:
			return fmt.Errorf("failed to create worksheet %s: %w", sheet, err)
		}
	}

	header, err := retry.Do(ctx, s.retry, func(ctx context.Context) ([][]interface{}, error) {
		return api.GetValues(ctx, spreadsheetID, sheet+"!"+headerRange)
	})
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", sheet, err)
	}
	if len(header) == 0 {
		if err := retry.Run(ctx, s.retry, func(ctx context.Context) error {
			return api.UpdateValues(ctx, spreadsheetID, sheet+"!"+headerRange, [][]interface{}{Header})
		}); err != nil {
			return fmt.Errorf("failed to write header of %s: %w", sheet, err)
		}
		s.logger.Info("Created header row", zap.String("sheet", sheet))
	}

	s.mu.Lock()
	s.ensured[sheet] = true
	s.mu.Unlock()
	return nil
}

// AppendSubmission implements SubmissionStore
func (s *SheetsStore) AppendSubmission(ctx context.Context, sub domain.Submission) error {
	sheet, err := s.sheetFor(string(sub.Round))
	if err != nil {
		return err
	}
	api, spreadsheetID, err := s.client(ctx)
	if err != nil {
		return err
	}
	if err := s.ensureSheet(ctx, api, spreadsheetID, sheet); err != nil {
		return err
	}

	row := submissionRow(sub)
	if err := retry.Run(ctx, s.retry, func(ctx context.Context) error {
		return api.AppendValues(ctx, spreadsheetID, sheet+"!"+dataRange, [][]interface{}{row})
	}); err != nil {
		return fmt.Errorf("failed to append to %s: %w", sheet, err)
	}

	if err := s.index.Add(ctx, string(sub.Round), identityOf(sub.Email, sub.Phone, sub.ContestantID)); err != nil {
		s.logger.WithError(err).Warn("Failed to update duplicate index")
	}
	return nil
}

// CheckDuplicate implements SubmissionStore. A cold index costs one full read
// of the worksheet, which also rebuilds the index for later lookups.
func (s *SheetsStore) CheckDuplicate(ctx context.Context, email, phone, round, contestantID string) (domain.DuplicateCheckResult, error) {
	want := identityOf(email, phone, contestantID)

	warm, err := s.index.IsWarm(ctx, round)
	if err != nil {
		s.logger.WithError(err).Warn("Duplicate index unavailable, scanning sheet")
	}
	if warm {
		res, err := s.index.Lookup(ctx, round, want)
		if err == nil {
			return res, nil
		}
		s.logger.WithError(err).Warn("Duplicate index lookup failed, scanning sheet")
	}

	entries, err := s.identities(ctx, round)
	if err != nil {
		return domain.DuplicateCheckResult{}, err
	}
	if err := s.index.Rebuild(ctx, round, entries); err != nil {
		s.logger.WithError(err).Warn("Failed to rebuild duplicate index")
	}

	return scanForDuplicate(entries, want), nil
}

// RebuildIndex reloads a round's identities from the worksheet into the
// duplicate index and returns how many rows were indexed.
func (s *SheetsStore) RebuildIndex(ctx context.Context, round string) (int, error) {
	entries, err := s.identities(ctx, round)
	if err != nil {
		return 0, err
	}
	if err := s.index.Rebuild(ctx, round, entries); err != nil {
		return 0, fmt.Errorf("failed to rebuild duplicate index for %s: %w", round, err)
	}
	return len(entries), nil
}

func (s *SheetsStore) identities(ctx context.Context, round string) ([]Identity, error) {
	rows, err := s.readRows(ctx, round)
	if err != nil {
		return nil, err
	}
	entries := make([]Identity, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, identityOf(get(row, colEmail), get(row, colPhone), get(row, colContestant)))
	}
	return entries, nil
}

// scanForDuplicate reports every field of want found in any row, the same
// answer a warm index lookup gives
func scanForDuplicate(entries []Identity, want Identity) domain.DuplicateCheckResult {
	var email, phone, contestant bool
	for _, e := range entries {
		email = email || (want.Email != "" && e.Email == want.Email)
		phone = phone || (want.Phone != "" && e.Phone == want.Phone)
		contestant = contestant || (want.ContestantID != "" && e.ContestantID == want.ContestantID)
	}
	if !email && !phone && !contestant {
		return domain.DuplicateCheckResult{}
	}
	return flagged(email, phone, contestant)
}

// GetSheetStats implements SubmissionStore
func (s *SheetsStore) GetSheetStats(ctx context.Context, round string) (domain.SheetStats, error) {
	rows, err := s.readRows(ctx, round)
	if err != nil {
		return domain.SheetStats{}, err
	}

	stats := domain.SheetStats{Round: domain.Round(round), Total: len(rows)}
	cutoff := s.now().Add(-recentWindow)
	for _, row := range rows {
		ts, err := time.ParseInLocation(TimestampLayout, get(row, colTimestamp), domain.VietnamTime)
		if err == nil && ts.After(cutoff) {
			stats.Recent++
		}
	}
	return stats, nil
}

// TestConnection implements SubmissionStore
func (s *SheetsStore) TestConnection(ctx context.Context) domain.ConnectionResult {
	api, spreadsheetID, err := s.client(ctx)
	if err != nil {
		return domain.ConnectionResult{Success: false, Message: err.Error()}
	}
	if _, err := retry.Do(ctx, s.retry, func(ctx context.Context) ([]string, error) {
		return api.SheetTitles(ctx, spreadsheetID)
	}); err != nil {
		return domain.ConnectionResult{Success: false, Message: err.Error()}
	}
	return domain.ConnectionResult{Success: true, Message: "Connection successful"}
}

// readRows returns the data rows of a round's worksheet, header and blank rows skipped
func (s *SheetsStore) readRows(ctx context.Context, round string) ([][]interface{}, error) {
	sheet, err := s.sheetFor(round)
	if err != nil {
		return nil, err
	}
	api, spreadsheetID, err := s.client(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSheet(ctx, api, spreadsheetID, sheet); err != nil {
		return nil, err
	}

	values, err := retry.Do(ctx, s.retry, func(ctx context.Context) ([][]interface{}, error) {
		return api.GetValues(ctx, spreadsheetID, sheet+"!"+dataRange)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", sheet, err)
	}

	rows := make([][]interface{}, 0, len(values))
	for i := 1; i < len(values); i++ {
		if len(values[i]) == 0 {
			continue
		}
		rows = append(rows, values[i])
	}
	return rows, nil
}

func submissionRow(sub domain.Submission) []interface{} {
	confirmed := confirmedNo
	if sub.Confirmed {
		confirmed = confirmedYes
	}
	return []interface{}{
		sub.Timestamp.In(domain.VietnamTime).Format(TimestampLayout),
		sub.FullName,
		// Leading apostrophe stops USER_ENTERED from turning +84... into a number
		"'" + sub.Phone,
		sub.Email,
		sub.Classification(),
		string(sub.Region),
		sub.ContestantID,
		confirmed,
		string(sub.Round),
		sub.ConfirmationCode,
		sub.IPAddress,
	}
}

// identityOf normalizes identity fields the same way for stored rows and new submissions
func identityOf(email, phone, contestantID string) Identity {
	id := Identity{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		ContestantID: strings.TrimSpace(contestantID),
	}
	if p := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(phone), "'")); p != "" {
		id.Phone = utils.FormatPhoneNumber(p)
	}
	return id
}

// IsRetryable treats client errors from the Sheets API as permanent, except
// request timeouts and quota throttling.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		}
		return gerr.Code < 400 || gerr.Code >= 500
	}
	return true
}

// isSheetExists matches the 400 the API returns when addSheet names an existing title
func isSheetExists(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusBadRequest {
		return false
	}
	return strings.Contains(strings.ToLower(gerr.Message), "already exists")
}

func get(row []interface{}, idx int) string {
	if idx < len(row) {
		return strings.TrimSpace(fmt.Sprint(row[idx]))
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
