package entitlement

import "time"

// GraceStatus is the entitlement phase derived from the days remaining until
// the customer's end date. It is never stored.
type GraceStatus string

const (
	StatusNormal   GraceStatus = "normal"
	StatusWarning  GraceStatus = "warning"
	StatusGrace    GraceStatus = "grace"
	StatusDegraded GraceStatus = "degraded"
	StatusStopped  GraceStatus = "stopped"
)

var messages = map[GraceStatus]string{
	StatusNormal:   "service active",
	StatusWarning:  "service expiring soon, please renew",
	StatusGrace:    "service expired, grace period in effect",
	StatusDegraded: "service expired, automatic publishing paused",
	StatusStopped:  "service stopped, contact the administrator",
}

// Message returns the human readable text shown to the device operator.
func (s GraceStatus) Message() string {
	return messages[s]
}

// StatusFor partitions the integer line:
//
//	> 7      normal
//	1..7     warning
//	-3..0    grace
//	-7..-4   degraded
//	< -7     stopped
func StatusFor(remaining int) GraceStatus {
	switch {
	case remaining > 7:
		return StatusNormal
	case remaining >= 1:
		return StatusWarning
	case remaining >= -3:
		return StatusGrace
	case remaining >= -7:
		return StatusDegraded
	default:
		return StatusStopped
	}
}

// DaysBetween returns end minus today in whole calendar days. end is a
// calendar date and is read as-is; today is now seen in loc.
func DaysBetween(end, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	ey, em, ed := end.Date()
	ty, tm, td := now.In(loc).Date()

	endDay := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)
	today := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(endDay.Sub(today).Hours() / 24)
}
