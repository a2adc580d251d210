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

const (
	opDispatcherNew  = "feed.dispatcher.new"
	opShare          = "feed.share"
	opUnshare        = "feed.unshare"
	opPublishComment = "feed.publish_comment"
)

var errMissingIDProvider = errors.New("id provider is required")

// DispatcherConfig describes the dependencies of the publication dispatcher.
type DispatcherConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Events     *EventBus
	Metrics    Metrics
	Logger     *zap.Logger
}

// Dispatcher turns share and comment actions into publication rows. PubCodes
// come from the shared serializing counter so the feed can page purely by
// integer comparison.
type Dispatcher struct {
	db      *gorm.DB
	clock   func() time.Time
	ids     IDProvider
	events  *EventBus
	metrics Metrics
	logger  *zap.Logger
}

// NewDispatcher constructs the publication dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opDispatcherNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opDispatcherNew, "missing_id_provider", errMissingIDProvider)
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
	return &Dispatcher{
		db:      cfg.Database,
		clock:   clock,
		ids:     cfg.IDProvider,
		events:  cfg.Events,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// ShareResult reports the outcome of a share. Changed is false when the
// (note, sharer, scope) share already existed; repeating a share is a no-op,
// never an error.
type ShareResult struct {
	PubCode int64
	Changed bool
}

// Share inserts a "shared" publication for the note into the given scope.
// Unavailable or absent notes yield ErrNotFound.
func (d *Dispatcher) Share(ctx context.Context, noteCode int64, sharer UserID, scope Scope) (ShareResult, error) {
	if err := scope.validate(); err != nil {
		return ShareResult{}, newServiceError(opShare, "invalid_scope", err)
	}

	now := d.clock().UTC().Unix()
	var result ShareResult
	txErr := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireAvailableNote(tx, opShare, noteCode); err != nil {
			return err
		}
		pubCode, err := nextPubCode(tx)
		if err != nil {
			return storageError(opShare, "pub_code_failed", err)
		}
		publication := Publication{
			PubCode:          pubCode,
			NoteCode:         noteCode,
			PubType:          PubTypeShared,
			Publisher:        sharer.String(),
			ScopeKind:        scope.Kind,
			ScopeUser:        scope.User,
			CreatedAtSeconds: now,
		}
		insert := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "note_code"}, {Name: "publisher"}, {Name: "pub_type"},
				{Name: "scope_kind"}, {Name: "scope_user"}, {Name: "comment_code"},
			},
			DoNothing: true,
		}).Create(&publication)
		if insert.Error != nil {
			return storageError(opShare, "publication_insert_failed", insert.Error)
		}
		if insert.RowsAffected == 0 {
			result = ShareResult{Changed: false}
			return nil
		}
		result = ShareResult{PubCode: pubCode, Changed: true}
		return nil
	})
	if txErr != nil {
		d.logError(opShare, txErr, zap.Int64("note_code", noteCode), zap.String("sharer", sharer.String()))
		return ShareResult{}, txErr
	}

	if result.Changed {
		d.metrics.PublicationCreated(string(PubTypeShared))
		d.events.Publish(PublicationEvent{
			PubCode:   result.PubCode,
			NoteCode:  noteCode,
			PubType:   PubTypeShared,
			Publisher: sharer.String(),
		})
	}
	return result, nil
}

// Unshare removes exactly the sharer's own share row for the scope. Removing
// a share that does not exist is a no-op reported through the changed flag.
func (d *Dispatcher) Unshare(ctx context.Context, noteCode int64, sharer UserID, scope Scope) (bool, error) {
	if err := scope.validate(); err != nil {
		return false, newServiceError(opUnshare, "invalid_scope", err)
	}
	result := d.db.WithContext(ctx).
		Where("note_code = ? AND publisher = ? AND pub_type = ? AND scope_kind = ? AND scope_user = ?",
			noteCode, sharer.String(), PubTypeShared, scope.Kind, scope.User).
		Delete(&Publication{})
	if result.Error != nil {
		wrapped := storageError(opUnshare, "publication_delete_failed", result.Error)
		d.logError(opUnshare, wrapped, zap.Int64("note_code", noteCode), zap.String("sharer", sharer.String()))
		return false, wrapped
	}
	return result.RowsAffected > 0, nil
}

// PublishedComment reports the stored comment and its feed occurrence.
type PublishedComment struct {
	Comment Comment
	PubCode int64
}

// PublishComment stores a comment on the note and inserts its comment-to-note
// publication. The parent note must exist and be available.
func (d *Dispatcher) PublishComment(ctx context.Context, noteCode int64, author UserID, content string) (PublishedComment, error) {
	if strings.TrimSpace(content) == "" {
		return PublishedComment{}, newServiceError(opPublishComment, "empty_content",
			fmt.Errorf("comment content is required"))
	}

	now := d.clock().UTC().Unix()
	var published PublishedComment
	txErr := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireAvailableNote(tx, opPublishComment, noteCode); err != nil {
			return err
		}
		commentCode, err := d.ids.NewID()
		if err != nil {
			return newServiceError(opPublishComment, "id_generation_failed", err)
		}
		comment := Comment{
			CommentCode:      commentCode,
			NoteCode:         noteCode,
			AuthorUser:       author.String(),
			Content:          content,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&comment).Error; err != nil {
			return storageError(opPublishComment, "comment_insert_failed", err)
		}
		pubCode, err := nextPubCode(tx)
		if err != nil {
			return storageError(opPublishComment, "pub_code_failed", err)
		}
		publication := Publication{
			PubCode:          pubCode,
			NoteCode:         noteCode,
			PubType:          PubTypeComment,
			Publisher:        author.String(),
			CommentCode:      commentCode,
			ScopeKind:        ScopeGlobal,
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&publication).Error; err != nil {
			return storageError(opPublishComment, "publication_insert_failed", err)
		}
		published = PublishedComment{Comment: comment, PubCode: pubCode}
		return nil
	})
	if txErr != nil {
		d.logError(opPublishComment, txErr, zap.Int64("note_code", noteCode), zap.String("author", author.String()))
		return PublishedComment{}, txErr
	}

	d.metrics.PublicationCreated(string(PubTypeComment))
	d.events.Publish(PublicationEvent{
		PubCode:   published.PubCode,
		NoteCode:  noteCode,
		PubType:   PubTypeComment,
		Publisher: author.String(),
	})
	return published, nil
}

// requireAvailableNote loads the note inside the transaction and rejects
// absent or unavailable notes with ErrNotFound.
func requireAvailableNote(tx *gorm.DB, operation string, noteCode int64) error {
	var note Note
	err := tx.Where("note_code = ?", noteCode).Take(&note).Error
	if err != nil {
		return storageError(operation, "note_select_failed", err)
	}
	if note.Unavailable {
		return newServiceError(operation, "note_unavailable",
			fmt.Errorf("%w: note %d is unavailable", ErrNotFound, noteCode))
	}
	return nil
}

func (d *Dispatcher) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{zap.String("operation", operation), zap.Error(err)}
	attrs = append(attrs, fields...)
	d.logger.Error("feed dispatcher error", attrs...)
}
