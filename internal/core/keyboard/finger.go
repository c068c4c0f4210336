package keyboard

import "time"

type RejectionStatus int

const (
	NotRejected RejectionStatus = iota
	RejectedTouchdownOffKey
	RejectedMovedOffKey
)

func (s RejectionStatus) String() string {
	switch s {
	case NotRejected:
		return "not-rejected"
	case RejectedTouchdownOffKey:
		return "touchdown-off-key"
	case RejectedMovedOffKey:
		return "moved-off-key"
	default:
		return "unknown"
	}
}

type fingerRecord struct {
	serial        uint64
	arrived       time.Time
	maxPressure   int32
	maxTouchMajor int32
	// region is the index of the key the contact landed on, or -1.
	region   int
	code     uint16
	downSent bool
	status   RejectionStatus
}

func (f *fingerRecord) rejected() bool {
	return f.status != NotRejected
}
