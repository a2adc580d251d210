package feed

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

const (
	opStoreNew   = "feed.store.new"
	opCreateNote = "feed.create_note"
	opGetNote    = "feed.get_note"
	opMarkNote   = "feed.mark_note_unavailable"
	opMarkByType = "feed.mark_notes_by_type"
	opMarkByPath = "feed.mark_notes_by_path"
	opRemoveNote = "feed.remove_note"
)

// StoreConfig describes the dependencies of the note store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Events   *EventBus
	Metrics  Metrics
	Logger   *zap.Logger
}

// Store owns the durable note entities and their atomic create and mutate
// operations. Every note is created together with its "original" publication
// in one transaction.
type Store struct {
	db      *gorm.DB
	clock   func() time.Time
	events  *EventBus
	metrics Metrics
	logger  *zap.Logger
}

// NewStore constructs the note store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:      cfg.Database,
		clock:   clock,
		events:  cfg.Events,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// CreateNoteRequest carries the caller-supplied fields for a new note.
type CreateNoteRequest struct {
	NoteType     NoteType
	Owner        UserID
	OwnerScope   string
	Body         string
	ResourcePath string
}

// CreatedNote reports the codes allocated for a new note and its original
// publication.
type CreatedNote struct {
	NoteCode int64
	PubCode  int64
}

func (r CreateNoteRequest) validate() error {
	if !r.NoteType.Valid() {
		return fmt.Errorf("%w: unknown note type %q", ErrInvalidScope, r.NoteType)
	}
	if r.NoteType.RequiresOwnerScope() && strings.TrimSpace(r.OwnerScope) == "" {
		return fmt.Errorf("%w: note type %q requires an owner scope", ErrInvalidScope, r.NoteType)
	}
	if !r.NoteType.HasResource() && r.ResourcePath != "" {
		return fmt.Errorf("%w: note type %q carries no backing resource", ErrInvalidScope, r.NoteType)
	}
	return nil
}

// CreateNote allocates a NoteCode and, atomically, inserts the note row and
// its original publication in the global scope.
func (s *Store) CreateNote(ctx context.Context, req CreateNoteRequest) (CreatedNote, error) {
	if err := req.validate(); err != nil {
		return CreatedNote{}, newServiceError(opCreateNote, "invalid_request", err)
	}

	now := s.clock().UTC().Unix()
	var created CreatedNote
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		noteCode, err := nextNoteCode(tx)
		if err != nil {
			return storageError(opCreateNote, "note_code_failed", err)
		}
		note := Note{
			NoteCode:         noteCode,
			NoteType:         req.NoteType,
			OwnerUser:        req.Owner.String(),
			OwnerScope:       strings.TrimSpace(req.OwnerScope),
			Body:             req.Body,
			ResourcePath:     req.ResourcePath,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&note).Error; err != nil {
			return storageError(opCreateNote, "note_insert_failed", err)
		}

		pubCode, err := nextPubCode(tx)
		if err != nil {
			return storageError(opCreateNote, "pub_code_failed", err)
		}
		publication := Publication{
			PubCode:          pubCode,
			NoteCode:         noteCode,
			PubType:          PubTypeOriginal,
			Publisher:        req.Owner.String(),
			ScopeKind:        ScopeGlobal,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&publication).Error; err != nil {
			return storageError(opCreateNote, "publication_insert_failed", err)
		}

		created = CreatedNote{NoteCode: noteCode, PubCode: pubCode}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateNote, txErr, zap.String("note_type", string(req.NoteType)))
		return CreatedNote{}, txErr
	}

	s.metrics.PublicationCreated(string(PubTypeOriginal))
	s.events.Publish(PublicationEvent{
		PubCode:   created.PubCode,
		NoteCode:  created.NoteCode,
		PubType:   PubTypeOriginal,
		Publisher: req.Owner.String(),
	})
	s.logger.Info("note created",
		zap.Int64("note_code", created.NoteCode),
		zap.Int64("pub_code", created.PubCode),
		zap.String("note_type", string(req.NoteType)))
	return created, nil
}

// GetNote returns the note for the given code. Unavailable notes are still
// returned with their flag set so callers can render tombstones; absent codes
// yield ErrNotFound.
func (s *Store) GetNote(ctx context.Context, noteCode int64) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).
		Where("note_code = ?", noteCode).
		Take(&note).Error
	if err != nil {
		wrapped := storageError(opGetNote, "note_select_failed", err)
		if !errors.Is(wrapped, ErrNotFound) {
			s.logError(opGetNote, wrapped, zap.Int64("note_code", noteCode))
		}
		return Note{}, wrapped
	}
	return note, nil
}

// MarkNoteUnavailable flips the availability flag of one note. Marking an
// already-unavailable note is a no-op; the returned flag reports whether the
// row changed.
func (s *Store) MarkNoteUnavailable(ctx context.Context, noteCode int64) (bool, error) {
	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_code = ? AND unavailable = ?", noteCode, false).
		Update("unavailable", true)
	if result.Error != nil {
		wrapped := storageError(opMarkNote, "note_update_failed", result.Error)
		s.logError(opMarkNote, wrapped, zap.Int64("note_code", noteCode))
		return false, wrapped
	}
	if result.RowsAffected > 0 {
		s.metrics.NotesHidden(int(result.RowsAffected))
	}
	return result.RowsAffected > 0, nil
}

// MarkNotesUnavailableByType hides the notes of the given type keyed by the
// supplied code. Used by collaborators that track their own entities (exam
// calls, forum threads) under a shared code.
func (s *Store) MarkNotesUnavailableByType(ctx context.Context, noteType NoteType, noteCode int64) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_type = ? AND note_code = ? AND unavailable = ?", noteType, noteCode, false).
		Update("unavailable", true)
	if result.Error != nil {
		wrapped := storageError(opMarkByType, "note_update_failed", result.Error)
		s.logError(opMarkByType, wrapped, zap.String("note_type", string(noteType)), zap.Int64("note_code", noteCode))
		return 0, wrapped
	}
	if result.RowsAffected > 0 {
		s.metrics.NotesHidden(int(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// MarkNotesUnavailableByPathPrefix hides every note whose resource path equals
// the deleted path or is lexically nested under it. A note at /a/b is hidden
// by deleting /a/b; a note at /a/bc is not.
func (s *Store) MarkNotesUnavailableByPathPrefix(ctx context.Context, path string) (int64, error) {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return 0, newServiceError(opMarkByPath, "empty_path", fmt.Errorf("resource path is required"))
	}
	pattern := likeEscape(trimmed) + "/%"
	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("unavailable = ? AND (resource_path = ? OR resource_path LIKE ? ESCAPE '\\')", false, trimmed, pattern).
		Update("unavailable", true)
	if result.Error != nil {
		wrapped := storageError(opMarkByPath, "note_update_failed", result.Error)
		s.logError(opMarkByPath, wrapped, zap.String("path", trimmed))
		return 0, wrapped
	}
	if result.RowsAffected > 0 {
		s.metrics.NotesHidden(int(result.RowsAffected))
		s.logger.Info("notes hidden by resource path",
			zap.String("path", trimmed),
			zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// RemoveNote hides the requester's own note and deletes only the requester's
// original publication row. Shares and comments by other users survive as
// history. Removal of an already-removed note reports changed=false.
func (s *Store) RemoveNote(ctx context.Context, noteCode int64, requester UserID, confirmed bool) (bool, error) {
	if !confirmed {
		return false, newServiceError(opRemoveNote, "not_confirmed",
			fmt.Errorf("%w: removal requires explicit confirmation", ErrForbidden))
	}

	changed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var note Note
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("note_code = ?", noteCode).
			Take(&note).Error
		if err != nil {
			return storageError(opRemoveNote, "note_select_failed", err)
		}
		if note.OwnerUser != requester.String() {
			return newServiceError(opRemoveNote, "not_owner",
				fmt.Errorf("%w: only the owner may remove a note", ErrForbidden))
		}
		if note.Unavailable {
			return nil
		}
		if err := tx.Model(&Note{}).
			Where("note_code = ?", noteCode).
			Update("unavailable", true).Error; err != nil {
			return storageError(opRemoveNote, "note_update_failed", err)
		}
		if err := tx.
			Where("note_code = ? AND publisher = ? AND pub_type = ?", noteCode, requester.String(), PubTypeOriginal).
			Delete(&Publication{}).Error; err != nil {
			return storageError(opRemoveNote, "publication_delete_failed", err)
		}
		changed = true
		return nil
	})
	if txErr != nil {
		s.logError(opRemoveNote, txErr, zap.Int64("note_code", noteCode), zap.String("requester", requester.String()))
		return false, txErr
	}
	if changed {
		s.metrics.NotesHidden(1)
	}
	return changed, nil
}

// likeEscape quotes the SQL LIKE metacharacters in a literal path fragment.
func likeEscape(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (s *Store) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{zap.String("operation", operation), zap.Error(err)}
	attrs = append(attrs, fields...)
	s.logger.Error("feed store error", attrs...)
}
