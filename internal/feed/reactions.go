package feed

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opLedgerNew     = "feed.ledger.new"
	opFavorite      = "feed.favorite"
	opUnfavorite    = "feed.unfavorite"
	opIsFavorited   = "feed.is_favorited"
	opFavoriteCount = "feed.favorite_count"
)

// LedgerConfig describes the dependencies of the reaction ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Metrics  Metrics
	Logger   *zap.Logger
}

// Ledger records favorites as set membership. Uniqueness is enforced by the
// favorites table's composite primary key, so concurrent calls by the same
// user collapse to one row and counts are always the true set cardinality.
type Ledger struct {
	db      *gorm.DB
	clock   func() time.Time
	metrics Metrics
	logger  *zap.Logger
}

// NewLedger constructs the reaction ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opLedgerNew, "missing_database", errMissingDatabase)
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
	return &Ledger{db: cfg.Database, clock: clock, metrics: metrics, logger: logger}, nil
}

// Favorite adds the (user, target) pair to the set. Favoriting an
// already-favorited target succeeds with changed=false.
func (l *Ledger) Favorite(ctx context.Context, user UserID, target FavoriteTarget) (bool, error) {
	if err := target.validate(); err != nil {
		return false, newServiceError(opFavorite, "invalid_target", err)
	}
	favorite := Favorite{
		UserID:           user.String(),
		TargetKind:       target.Kind,
		TargetCode:       target.Code,
		CreatedAtSeconds: l.clock().UTC().Unix(),
	}
	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&favorite)
	if result.Error != nil {
		wrapped := storageError(opFavorite, "favorite_insert_failed", result.Error)
		l.logError(opFavorite, wrapped, user, target)
		return false, wrapped
	}
	if result.RowsAffected > 0 {
		l.metrics.FavoriteToggled("favorite")
	}
	return result.RowsAffected > 0, nil
}

// Unfavorite removes the (user, target) pair. Unfavoriting a never-favorited
// target succeeds with changed=false.
func (l *Ledger) Unfavorite(ctx context.Context, user UserID, target FavoriteTarget) (bool, error) {
	if err := target.validate(); err != nil {
		return false, newServiceError(opUnfavorite, "invalid_target", err)
	}
	result := l.db.WithContext(ctx).
		Where("user_id = ? AND target_kind = ? AND target_code = ?", user.String(), target.Kind, target.Code).
		Delete(&Favorite{})
	if result.Error != nil {
		wrapped := storageError(opUnfavorite, "favorite_delete_failed", result.Error)
		l.logError(opUnfavorite, wrapped, user, target)
		return false, wrapped
	}
	if result.RowsAffected > 0 {
		l.metrics.FavoriteToggled("unfavorite")
	}
	return result.RowsAffected > 0, nil
}

// IsFavoritedBy reports whether the user has favorited the target.
func (l *Ledger) IsFavoritedBy(ctx context.Context, user UserID, target FavoriteTarget) (bool, error) {
	if err := target.validate(); err != nil {
		return false, newServiceError(opIsFavorited, "invalid_target", err)
	}
	var count int64
	err := l.db.WithContext(ctx).Model(&Favorite{}).
		Where("user_id = ? AND target_kind = ? AND target_code = ?", user.String(), target.Kind, target.Code).
		Count(&count).Error
	if err != nil {
		wrapped := storageError(opIsFavorited, "favorite_count_failed", err)
		l.logError(opIsFavorited, wrapped, user, target)
		return false, wrapped
	}
	return count > 0, nil
}

// FavoriteCount returns the cardinality of the target's favorite set. The
// count is always derived from the rows, never from a stored integer.
func (l *Ledger) FavoriteCount(ctx context.Context, target FavoriteTarget) (int64, error) {
	if err := target.validate(); err != nil {
		return 0, newServiceError(opFavoriteCount, "invalid_target", err)
	}
	var count int64
	err := l.db.WithContext(ctx).Model(&Favorite{}).
		Where("target_kind = ? AND target_code = ?", target.Kind, target.Code).
		Count(&count).Error
	if err != nil {
		wrapped := storageError(opFavoriteCount, "favorite_count_failed", err)
		l.logger.Error("feed ledger error", zap.String("operation", opFavoriteCount), zap.Error(wrapped))
		return 0, wrapped
	}
	return count, nil
}

func (l *Ledger) logError(operation string, err error, user UserID, target FavoriteTarget) {
	l.logger.Error("feed ledger error",
		zap.String("operation", operation),
		zap.String("user", user.String()),
		zap.String("target_kind", string(target.Kind)),
		zap.String("target_code", target.Code),
		zap.Error(err))
}
