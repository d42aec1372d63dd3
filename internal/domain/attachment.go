package domain

import "time"

// AttachmentKind enumerates supported media categories.
type AttachmentKind string

const (
	AttachmentKindPhoto     AttachmentKind = "photo"
	AttachmentKindFloorplan AttachmentKind = "floorplan"
	AttachmentKindDocument  AttachmentKind = "document"
)

// MediaAttachment is one uploaded item on a media step. Order positions are
// kept contiguous from zero by the media manager after every mutation.
type MediaAttachment struct {
	ID         string
	StorageKey string
	URL        string
	MIME       string
	Bytes      int64
	Kind       AttachmentKind
	Order      int
	CreatedAt  time.Time
}
