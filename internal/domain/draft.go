package domain

import "time"

// DraftRecord is the persisted snapshot of a session. It carries exactly the
// state needed to rebuild the wizard where the user left off.
type DraftRecord struct {
	DraftID     string
	FlowID      string
	Form        FormData
	Index       int
	Completed   []int
	Attachments []MediaAttachment
	Status      SessionStatus
	UpdatedAt   time.Time
}
