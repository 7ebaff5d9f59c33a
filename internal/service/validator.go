package service

import (
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
	"github.com/PhuccNguyen/hhsvhbvn/pkg/utils"
)

// Validation messages shown to the submitter
const (
	MsgNameTooShort         = "Họ tên phải có ít nhất 2 ký tự"
	MsgNameTooLong          = "Họ tên không được vượt quá 100 ký tự"
	MsgNameInvalidChars     = "Họ tên chỉ được chứa chữ cái và khoảng trắng"
	MsgNameNeedsTwoWords    = "Vui lòng nhập đầy đủ họ và tên"
	MsgPhoneInvalid         = "Số điện thoại không hợp lệ"
	MsgEmailInvalid         = "Email không hợp lệ"
	MsgNotConfirmed         = "Bạn phải xác nhận tham dự"
	MsgRoundInvalid         = "Vòng thi không hợp lệ"
	MsgRegionRequired       = "Vui lòng chọn khu vực"
	MsgRegionInvalid        = "Khu vực không hợp lệ"
	MsgContestantIDTooLong  = "Mã thí sinh không được vượt quá 50 ký tự"
	MsgContestantIDRequired = "Vui lòng nhập mã thí sinh"
	MsgInvalidData          = "Dữ liệu không hợp lệ"
)

const (
	nameMinRunes = 2
	nameMaxRunes = 100
)

var nameChars = regexp.MustCompile(`^[\p{L}\p{M}\s]+$`)

// checked in this order; only the first failure is reported
var fieldOrder = map[string]int{
	"fullName":     0,
	"phone":        1,
	"email":        2,
	"confirmed":    3,
	"round":        4,
	"region":       5,
	"contestantId": 6,
}

// ValidatorOptions toggles the configurable rules
type ValidatorOptions struct {
	RequireTwoWordName bool
}

// Validator checks check-in payloads against the round catalog
type Validator struct {
	validate *validator.Validate
	catalog  *domain.Catalog
	opts     ValidatorOptions
}

// NewValidator creates a validator bound to the given round catalog
func NewValidator(catalog *domain.Catalog, opts ValidatorOptions) *Validator {
	v := &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		catalog:  catalog,
		opts:     opts,
	}

	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs
	_ = v.validate.RegisterValidation("vnname", func(fl validator.FieldLevel) bool {
		return v.nameError(fl.Field().String()) == ""
	})
	_ = v.validate.RegisterValidation("vnphone", func(fl validator.FieldLevel) bool {
		return utils.ValidateVietnamesePhone(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("round", func(fl validator.FieldLevel) bool {
		_, ok := v.catalog.Get(fl.Field().String())
		return ok
	})
	v.validate.RegisterStructValidation(v.roundFields, domain.CheckinRequest{})

	return v
}

// Validate normalizes req and checks it. On failure the returned error text is
// the first user-facing message.
func (v *Validator) Validate(req domain.CheckinRequest) (domain.CheckinRequest, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Round = strings.TrimSpace(req.Round)
	req.Region = strings.TrimSpace(req.Region)
	req.ContestantID = strings.TrimSpace(req.ContestantID)

	if err := v.validate.Struct(req); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok || len(verrs) == 0 {
			return req, &ValidationError{Message: MsgInvalidData}
		}
		return req, &ValidationError{Message: v.message(firstByFieldOrder(verrs), req)}
	}

	phone, err := utils.NormalizePhoneNumber(req.Phone)
	if err != nil {
		return req, &ValidationError{Message: MsgPhoneInvalid}
	}
	req.Phone = phone

	event, _ := v.catalog.Get(req.Round)
	if !event.HasRegion {
		req.Region = ""
	}
	if !event.HasContestantID {
		req.ContestantID = ""
	}
	return req, nil
}

// roundFields enforces the flags of the selected round
func (v *Validator) roundFields(sl validator.StructLevel) {
	req := sl.Current().Interface().(domain.CheckinRequest)

	if req.Region != "" && !domain.Region(req.Region).IsValid() {
		sl.ReportError(req.Region, "region", "Region", "region_invalid", "")
	}

	event, ok := v.catalog.Get(req.Round)
	if !ok {
		return
	}
	if event.HasRegion && req.Region == "" {
		sl.ReportError(req.Region, "region", "Region", "region_required", "")
	}
	if event.HasContestantID && req.ContestantID == "" {
		sl.ReportError(req.ContestantID, "contestantId", "ContestantID", "contestant_required", "")
	}
}

func (v *Validator) nameError(name string) string {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	switch {
	case n < nameMinRunes:
		return MsgNameTooShort
	case n > nameMaxRunes:
		return MsgNameTooLong
	case !nameChars.MatchString(name):
		return MsgNameInvalidChars
	case v.opts.RequireTwoWordName && len(strings.Fields(name)) < 2:
		return MsgNameNeedsTwoWords
	}
	return ""
}

func (v *Validator) message(fe validator.FieldError, req domain.CheckinRequest) string {
	switch fe.Field() {
	case "fullName":
		if msg := v.nameError(req.FullName); msg != "" {
			return msg
		}
		return MsgNameInvalidChars
	case "phone":
		return MsgPhoneInvalid
	case "email":
		return MsgEmailInvalid
	case "confirmed":
		return MsgNotConfirmed
	case "round":
		return MsgRoundInvalid
	case "region":
		if fe.Tag() == "region_required" {
			return MsgRegionRequired
		}
		return MsgRegionInvalid
	case "contestantId":
		if fe.Tag() == "contestant_required" {
			return MsgContestantIDRequired
		}
		return MsgContestantIDTooLong
	}
	return MsgInvalidData
}

// typeMismatchMessages answers JSON values of the wrong type per field
var typeMismatchMessages = map[string]string{
	"fullName":     MsgNameInvalidChars,
	"phone":        MsgPhoneInvalid,
	"email":        MsgEmailInvalid,
	"confirmed":    MsgNotConfirmed,
	"round":        MsgRoundInvalid,
	"region":       MsgRegionInvalid,
	"contestantId": MsgContestantIDTooLong,
}

// TypeMismatchMessage returns the user-facing message for a payload field
// whose JSON value has the wrong type
func TypeMismatchMessage(field string) string {
	if msg, ok := typeMismatchMessages[field]; ok {
		return msg
	}
	return MsgInvalidData
}

func firstByFieldOrder(errs validator.ValidationErrors) validator.FieldError {
	first := errs[0]
	for _, fe := range errs[1:] {
		if rank(fe) < rank(first) {
			first = fe
		}
	}
	return first
}

func rank(fe validator.FieldError) int {
	if r, ok := fieldOrder[fe.Field()]; ok {
		return r
	}
	return len(fieldOrder)
}

// ValidationError carries the single message surfaced to the submitter
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
