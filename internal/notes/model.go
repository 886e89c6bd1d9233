package notes

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultTitle is applied when a note is created without a title.
const DefaultTitle = "Untitled Note"

const maxIdentifierLength = 190

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("notes: invalid room id")
	// ErrNoteNotFound indicates that no note exists for a room identifier.
	ErrNoteNotFound = errors.New("notes: note not found")
)

// RoomID represents a validated room identifier. Room identifiers are
// client-generated and act as de facto capability tokens; they are not
// checked for collisions.
type RoomID string

// NewRoomID validates raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxIdentifierLength)
	}
	return RoomID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// Note models the persisted document for a room. At most one row exists
// per room; rows are created on first write and never deleted.
type Note struct {
	RoomID           string `gorm:"column:room_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:500;not null;default:''"`
	Content          string `gorm:"column:content;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_notes_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}
