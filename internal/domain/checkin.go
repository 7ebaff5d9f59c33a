package domain

import (
	"time"
)

// Round identifies one event round of the pageant
type Round string

const (
	RoundHopBao   Round = "hop-bao"
	RoundSoKhao   Round = "so-khao"
	RoundBanKet   Round = "ban-ket"
	RoundChungKet Round = "chung-ket"
)

// Region is the preliminary-round venue chosen by the submitter
type Region string

const (
	RegionHanoi   Region = "HN"
	RegionDaNang  Region = "DN"
	RegionHCMCity Region = "HCM"
)

// Regions lists every accepted region code
var Regions = []Region{RegionHanoi, RegionDaNang, RegionHCMCity}

// IsValid reports whether r is one of the accepted region codes
func (r Region) IsValid() bool {
	for _, known := range Regions {
		if r == known {
			return true
		}
	}
	return false
}

// Sheet row classification
const (
	ClassContestant = "Thí sinh"
	ClassGuest      = "Khách mời"
)

// Vietnam has no daylight saving, so a fixed zone avoids depending on tzdata
var VietnamTime = time.FixedZone("Asia/Ho_Chi_Minh", 7*60*60)

// CheckinRequest is the JSON body of POST /api/checkin
type CheckinRequest struct {
	FullName     string `json:"fullName" validate:"vnname"`
	Phone        string `json:"phone" validate:"vnphone"`
	Email        string `json:"email" validate:"required,email"`
	Confirmed    bool   `json:"confirmed" validate:"eq=true"`
	Round        string `json:"round" validate:"round"`
	Region       string `json:"region,omitempty"`
	ContestantID string `json:"contestantId,omitempty" validate:"max=50"`
}

// Submission is one accepted check-in, immutable once appended to the store
type Submission struct {
	FullName         string    `json:"fullName"`
	Phone            string    `json:"phone"`
	Email            string    `json:"email"`
	Confirmed        bool      `json:"confirmed"`
	Round            Round     `json:"round"`
	Region           Region    `json:"region,omitempty"`
	ContestantID     string    `json:"contestantId,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	ConfirmationCode string    `json:"confirmationCode"`
	IPAddress        string    `json:"ipAddress,omitempty"`
}

// Classification returns the value written to the "Phân loại" column
func (s Submission) Classification() string {
	if s.ContestantID != "" {
		return ClassContestant
	}
	return ClassGuest
}

// DuplicateCheckResult reports which identity fields already exist in a round
type DuplicateCheckResult struct {
	IsDuplicate  bool   `json:"-"`
	Email        bool   `json:"email,omitempty"`
	Phone        bool   `json:"phone,omitempty"`
	ContestantID bool   `json:"contestantId,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Fields lists the collided field names for logging
func (d DuplicateCheckResult) Fields() []string {
	var fields []string
	if d.Email {
		fields = append(fields, "email")
	}
	if d.Phone {
		fields = append(fields, "phone")
	}
	if d.ContestantID {
		fields = append(fields, "contestantId")
	}
	return fields
}

// SheetStats summarizes one round's worksheet
type SheetStats struct {
	Round  Round `json:"round"`
	Total  int   `json:"total"`
	Recent int   `json:"recent"`
}

// ConnectionResult is the outcome of a store connectivity check
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CheckinResponse is the JSON envelope returned by POST /api/checkin
type CheckinResponse struct {
	Success          bool                  `json:"success"`
	Message          string                `json:"message"`
	ConfirmationCode string                `json:"confirmationCode,omitempty"`
	Error            string                `json:"error,omitempty"`
	DuplicateFields  *DuplicateCheckResult `json:"duplicateFields,omitempty"`
	RetryAfter       int                   `json:"retryAfter,omitempty"`
}
