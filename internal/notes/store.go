package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// StoreError wraps a store failure with a dotted operation code so the
// HTTP boundary can surface a stable identifier without parsing driver
// errors.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew    = "notes.store.new"
	opStoreGet    = "notes.store.get"
	opStoreUpsert = "notes.store.upsert"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// StoreConfig carries the dependencies for a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store is the sole owner of note persistence. It is the only write
// path for notes; concurrent writers for the same room resolve by last
// completed upsert.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store from the provided configuration.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// Get returns the note for the room, or ErrNoteNotFound when no note
// has been persisted for it yet. Absence is an expected condition on
// the live join path and only becomes a 404 at the REST boundary.
func (s *Store) Get(ctx context.Context, roomID RoomID) (Note, error) {
	if s.db == nil {
		s.logError(opStoreGet, "missing_database", errMissingDatabase, roomID)
		return Note{}, newStoreError(opStoreGet, "missing_database", errMissingDatabase)
	}

	var note Note
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID.String()).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, ErrNoteNotFound
	}
	if err != nil {
		s.logError(opStoreGet, "query_failed", err, roomID)
		return Note{}, newStoreError(opStoreGet, "query_failed", err)
	}

	return note, nil
}

// Upsert creates the room's note on first write and overwrites it in
// place afterwards. The title is only replaced when a non-blank value
// is supplied; a blank title on creation falls back to DefaultTitle.
// The read-modify-write runs inside a transaction with a row lock so
// two concurrent calls for the same room cannot interleave, and
// UpdatedAtSeconds advances strictly even when the clock does not.
func (s *Store) Upsert(ctx context.Context, roomID RoomID, title, content string) (Note, error) {
	if s.db == nil {
		s.logError(opStoreUpsert, "missing_database", errMissingDatabase, roomID)
		return Note{}, newStoreError(opStoreUpsert, "missing_database", errMissingDatabase)
	}

	var result Note
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock().UTC().Unix()

		var existing Note
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ?", roomID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = Note{
				RoomID:           roomID.String(),
				Title:            titleOrDefault(title, DefaultTitle),
				Content:          content,
				CreatedAtSeconds: now,
				UpdatedAtSeconds: now,
			}
			if err := tx.Create(&result).Error; err != nil {
				return newStoreError(opStoreUpsert, "note_insert_failed", err)
			}
			return nil
		}
		if err != nil {
			return newStoreError(opStoreUpsert, "note_select_failed", err)
		}

		if now <= existing.UpdatedAtSeconds {
			now = existing.UpdatedAtSeconds + 1
		}
		existing.Content = content
		existing.Title = titleOrDefault(title, existing.Title)
		existing.UpdatedAtSeconds = now
		if err := tx.Save(&existing).Error; err != nil {
			return newStoreError(opStoreUpsert, "note_save_failed", err)
		}
		result = existing
		return nil
	})
	if txErr != nil {
		s.logError(opStoreUpsert, "tx_failed", txErr, roomID)
		var storeErr *StoreError
		if errors.As(txErr, &storeErr) {
			return Note{}, txErr
		}
		return Note{}, newStoreError(opStoreUpsert, "tx_failed", txErr)
	}

	return result, nil
}

func titleOrDefault(title, fallback string) string {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func (s *Store) logError(operation, reason string, err error, roomID RoomID) {
	logger := noOpLogger
	if s != nil && s.logger != nil {
		logger = s.logger
	}
	logger.Error("notes store error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("room_id", roomID.String()),
		zap.Error(err))
}
