package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opTimelineNew = "feed.timeline.new"
	opFetchNew    = "feed.fetch_new"
	opFetchOld    = "feed.fetch_old"

	defaultFetchLimit = 20
	maxFetchLimit     = 200
)

var errMissingVisibility = errors.New("visibility resolver is required")

// VisibilityResolver is the boundary to the excluded user/role subsystem. It
// decides whether a viewer may see publications rendered into a scope.
type VisibilityResolver interface {
	CanView(ctx context.Context, viewer UserID, scope Scope) (bool, error)
}

// DefaultVisibility allows the global scope to everyone and a user scope only
// to its own user. Deployments plug the real role resolver in instead.
type DefaultVisibility struct{}

// CanView implements VisibilityResolver.
func (DefaultVisibility) CanView(_ context.Context, viewer UserID, scope Scope) (bool, error) {
	if scope.Kind == ScopeGlobal {
		return true, nil
	}
	return scope.User == viewer.String(), nil
}

// TimelineConfig describes the dependencies of the timeline feed.
type TimelineConfig struct {
	Database   *gorm.DB
	Visibility VisibilityResolver
	Metrics    Metrics
	Logger     *zap.Logger
	// Retention bounds how long cached back-catalog pages are kept before
	// PurgeExpired discards them. Zero disables the cache.
	Retention time.Duration
	Clock     func() time.Time
}

// Timeline retrieves publications in reverse-chronological cursor order.
// Pagination compares PubCodes only, so successive polls can never skip or
// duplicate an entry regardless of timestamp skew.
type Timeline struct {
	db         *gorm.DB
	visibility VisibilityResolver
	metrics    Metrics
	logger     *zap.Logger
	retention  time.Duration
	clock      func() time.Time
	pageCache  sync.Map
}

type cachedPage struct {
	entries  []Publication
	storedAt time.Time
}

// NewTimeline constructs the timeline feed.
func NewTimeline(cfg TimelineConfig) (*Timeline, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opTimelineNew, "missing_database", errMissingDatabase)
	}
	if cfg.Visibility == nil {
		return nil, newServiceError(opTimelineNew, "missing_visibility", errMissingVisibility)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Timeline{
		db:         cfg.Database,
		visibility: cfg.Visibility,
		metrics:    metrics,
		logger:     logger,
		retention:  cfg.Retention,
		clock:      clock,
	}, nil
}

// FetchNew returns every publication in the scope with PubCode greater than
// afterPubCode, newest first. The caller's next cursor is the maximum PubCode
// returned, or the previous cursor when the result is empty. A viewer without
// visibility gets an empty result, not an error.
func (t *Timeline) FetchNew(ctx context.Context, viewer UserID, scope Scope, afterPubCode int64) ([]Publication, error) {
	if err := scope.validate(); err != nil {
		return nil, newServiceError(opFetchNew, "invalid_scope", err)
	}
	visible, err := t.visibility.CanView(ctx, viewer, scope)
	if err != nil {
		t.logger.Warn("visibility check failed, treating scope as hidden", zap.Error(err))
		return []Publication{}, nil
	}
	if !visible {
		return []Publication{}, nil
	}

	var publications []Publication
	err = t.scopedQuery(ctx, scope).
		Where("publications.pub_code > ?", afterPubCode).
		Order("publications.pub_code DESC").
		Find(&publications).Error
	if err != nil {
		wrapped := storageError(opFetchNew, "query_failed", err)
		t.logError(opFetchNew, wrapped, zap.Int64("after", afterPubCode))
		return nil, wrapped
	}
	t.metrics.TimelineServed(len(publications))
	return publications, nil
}

// FetchOld returns up to limit publications with PubCode below beforePubCode,
// newest first. An empty result is the normal terminal condition of a
// backward walk. Full pages are cached for the retention window as a pure
// read-path optimization.
func (t *Timeline) FetchOld(ctx context.Context, viewer UserID, scope Scope, beforePubCode int64, limit int) ([]Publication, error) {
	if err := scope.validate(); err != nil {
		return nil, newServiceError(opFetchOld, "invalid_scope", err)
	}
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	if limit > maxFetchLimit {
		limit = maxFetchLimit
	}
	visible, err := t.visibility.CanView(ctx, viewer, scope)
	if err != nil {
		t.logger.Warn("visibility check failed, treating scope as hidden", zap.Error(err))
		return []Publication{}, nil
	}
	if !visible {
		return []Publication{}, nil
	}

	cacheKey := fmt.Sprintf("%s|%s|%d|%d", scope.Kind, scope.User, beforePubCode, limit)
	if page, ok := t.cachedPage(cacheKey); ok {
		t.metrics.TimelineServed(len(page))
		return page, nil
	}

	var publications []Publication
	err = t.scopedQuery(ctx, scope).
		Where("publications.pub_code < ?", beforePubCode).
		Order("publications.pub_code DESC").
		Limit(limit).
		Find(&publications).Error
	if err != nil {
		wrapped := storageError(opFetchOld, "query_failed", err)
		t.logError(opFetchOld, wrapped, zap.Int64("before", beforePubCode))
		return nil, wrapped
	}

	if t.retention > 0 && len(publications) == limit {
		t.pageCache.Store(cacheKey, cachedPage{entries: publications, storedAt: t.clock()})
	}
	t.metrics.TimelineServed(len(publications))
	return publications, nil
}

// PurgeExpired drops cached back-catalog pages older than the retention
// window. It is an externally triggered maintenance operation, not a loop.
func (t *Timeline) PurgeExpired() int {
	if t.retention <= 0 {
		return 0
	}
	cutoff := t.clock().Add(-t.retention)
	purged := 0
	t.pageCache.Range(func(key, value any) bool {
		page, ok := value.(cachedPage)
		if !ok || page.storedAt.Before(cutoff) {
			t.pageCache.Delete(key)
			purged++
		}
		return true
	})
	if purged > 0 {
		t.logger.Info("timeline cache purged", zap.Int("pages", purged))
	}
	return purged
}

// scopedQuery builds the shared feed filter: publications in the scope,
// excluding originals and comments of unavailable notes and unavailable
// comments. Shared publications stay surfaced so another user's saved share
// survives the owner's removal as history.
func (t *Timeline) scopedQuery(ctx context.Context, scope Scope) *gorm.DB {
	return t.db.WithContext(ctx).Model(&Publication{}).
		Joins("JOIN notes ON notes.note_code = publications.note_code").
		Joins("LEFT JOIN comments ON comments.comment_code = publications.comment_code").
		Where("publications.scope_kind = ? AND publications.scope_user = ?", scope.Kind, scope.User).
		Where("notes.unavailable = ? OR publications.pub_type = ?", false, PubTypeShared).
		Where("publications.comment_code = '' OR comments.unavailable = ?", false)
}

func (t *Timeline) cachedPage(key string) ([]Publication, bool) {
	if t.retention <= 0 {
		return nil, false
	}
	value, ok := t.pageCache.Load(key)
	if !ok {
		return nil, false
	}
	page, ok := value.(cachedPage)
	if !ok {
		return nil, false
	}
	if page.storedAt.Before(t.clock().Add(-t.retention)) {
		t.pageCache.Delete(key)
		return nil, false
	}
	return page.entries, true
}

func (t *Timeline) logError(operation string, err error, fields ...zap.Field) {
	attrs := []zap.Field{zap.String("operation", operation), zap.Error(err)}
	attrs = append(attrs, fields...)
	t.logger.Error("feed timeline error", attrs...)
}
