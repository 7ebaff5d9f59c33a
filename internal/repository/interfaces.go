package repository

import (
	"context"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
)

// SubmissionStore is the system of record for check-ins
type SubmissionStore interface {
	// AppendSubmission writes one immutable row to the round's worksheet
	AppendSubmission(ctx context.Context, submission domain.Submission) error

	// CheckDuplicate reports which identity fields already exist in the round
	CheckDuplicate(ctx context.Context, email, phone, round, contestantID string) (domain.DuplicateCheckResult, error)

	// GetSheetStats counts rows for a round
	GetSheetStats(ctx context.Context, round string) (domain.SheetStats, error)

	// TestConnection checks credentials and spreadsheet access
	TestConnection(ctx context.Context) domain.ConnectionResult
}

// Identity is the normalized set of fields that must be unique per round
type Identity struct {
	Email        string
	Phone        string
	ContestantID string
}

// Identity kinds stored in the duplicate index
const (
	KindEmail      = "email"
	KindPhone      = "phone"
	KindContestant = "contestant"
)

// pairs lists the non-empty kind/value pairs
func (id Identity) pairs() [][2]string {
	out := make([][2]string, 0, 3)
	if id.Email != "" {
		out = append(out, [2]string{KindEmail, id.Email})
	}
	if id.Phone != "" {
		out = append(out, [2]string{KindPhone, id.Phone})
	}
	if id.ContestantID != "" {
		out = append(out, [2]string{KindContestant, id.ContestantID})
	}
	return out
}

// DuplicateIndex is a side index over the worksheet rows keyed by
// (round, kind, value). A round is warm once it has been rebuilt from the
// sheet; cold rounds must be rebuilt before lookups can be trusted. Entries
// are never removed, so rows deleted from the sheet by hand stay indexed
// until the index storage is cleared.
type DuplicateIndex interface {
	// IsWarm reports whether the round's index reflects the worksheet
	IsWarm(ctx context.Context, round string) (bool, error)

	// Rebuild merges entries read from the sheet into the round and marks it
	// warm. Entries added while the sheet was being read are kept.
	Rebuild(ctx context.Context, round string, entries []Identity) error

	// Add records one newly appended submission
	Add(ctx context.Context, round string, id Identity) error

	// Lookup reports which fields of id are already present
	Lookup(ctx context.Context, round string, id Identity) (domain.DuplicateCheckResult, error)
}
