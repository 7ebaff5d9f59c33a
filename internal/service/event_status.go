package service

import (
	"fmt"
	"math"
	"time"

	"github.com/PhuccNguyen/hhsvhbvn/internal/domain"
)

// Resolver messages shown to the submitter
const (
	MsgDeadlinePassed   = "Đã hết thời hạn đăng ký cho sự kiện này."
	MsgCapacityReached  = "Sự kiện đã đạt số lượng đăng ký tối đa."
	MsgEventEnded       = "Sự kiện đã kết thúc."
	MsgNotOpenYet       = "Sự kiện chưa mở đăng ký"
	MsgOpen             = "Đang mở đăng ký"
	msgDaysUntilEvent   = "Còn %d ngày nữa đến sự kiện"
	msgHoursToRegister  = "Chỉ còn %d giờ để đăng ký!"
	endingSoonThreshold = 24 * time.Hour
)

// StatusPolicy holds product switches for registration
type StatusPolicy struct {
	// UnlimitedRegistration keeps every round open regardless of dates and capacity
	UnlimitedRegistration bool
}

// ResolveEventStatus derives the live status of a round. The first matching rule wins.
func ResolveEventStatus(event domain.EventInfo, now time.Time, policy StatusPolicy) domain.EventStatus {
	if policy.UnlimitedRegistration {
		return domain.EventStatus{Status: domain.StateOpen, CanRegister: true, Message: MsgOpen}
	}

	capacityReached := event.MaxCapacity != nil && event.CurrentCount != nil &&
		*event.CurrentCount >= *event.MaxCapacity

	if event.RegistrationDeadline != nil && now.After(*event.RegistrationDeadline) {
		return domain.EventStatus{Status: domain.StateClosed, Message: MsgDeadlinePassed}
	}

	if capacityReached {
		return domain.EventStatus{Status: domain.StateClosed, Message: MsgCapacityReached}
	}

	if event.EndDate != nil && now.After(*event.EndDate) {
		return domain.EventStatus{Status: domain.StateClosed, Message: MsgEventEnded}
	}

	declaredOpen := event.Status == domain.StateOpen

	if now.Before(event.StartDate) {
		days := ceilUnits(event.StartDate.Sub(now), 24*time.Hour)
		status := domain.EventStatus{
			Status:      domain.StateUpcoming,
			CanRegister: declaredOpen,
			DaysLeft:    &days,
			Message:     MsgNotOpenYet,
		}
		if declaredOpen {
			status.Message = fmt.Sprintf(msgDaysUntilEvent, days)
		}
		return status
	}

	if event.EndDate != nil && event.EndDate.Sub(now) <= endingSoonThreshold {
		hours := ceilUnits(event.EndDate.Sub(now), time.Hour)
		return domain.EventStatus{
			Status:      domain.StateEndingSoon,
			CanRegister: declaredOpen,
			HoursLeft:   &hours,
			Message:     fmt.Sprintf(msgHoursToRegister, hours),
		}
	}

	status := domain.EventStatus{Status: event.Status, CanRegister: declaredOpen, Message: MsgNotOpenYet}
	if declaredOpen {
		status.Message = MsgOpen
	}
	return status
}

func ceilUnits(d, unit time.Duration) int {
	return int(math.Ceil(float64(d) / float64(unit)))
}
