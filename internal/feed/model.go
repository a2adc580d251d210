package feed

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NoteType is the closed set of postable content tags. The engine treats the
// tag as a grouping key with uniform lifecycle rules; per-type business text
// lives in the rendering and localization layers.
type NoteType string

const (
	// NoteTypeDocument marks a published course document.
	NoteTypeDocument NoteType = "document-publication"
	// NoteTypeExamAnnouncement marks an exam call announcement.
	NoteTypeExamAnnouncement NoteType = "exam-announcement"
	// NoteTypeSocialPost marks a free-form timeline post.
	NoteTypeSocialPost NoteType = "social-post"
	// NoteTypeForumPost marks a forum thread entry surfaced on the timeline.
	NoteTypeForumPost NoteType = "forum-post"
	// NoteTypeNotice marks an institutional notice.
	NoteTypeNotice NoteType = "notice"
)

// Valid reports whether the tag belongs to the closed set.
func (t NoteType) Valid() bool {
	switch t {
	case NoteTypeDocument, NoteTypeExamAnnouncement, NoteTypeSocialPost, NoteTypeForumPost, NoteTypeNotice:
		return true
	}
	return false
}

// RequiresOwnerScope reports whether notes of this type must carry an
// institutional owner scope (course, centre, degree or institution).
// User-level social posts are the only scope-free type.
func (t NoteType) RequiresOwnerScope() bool {
	return t != NoteTypeSocialPost
}

// HasResource reports whether notes of this type are backed by an uploaded
// resource and therefore carry a resource path subject to prefix invalidation.
func (t NoteType) HasResource() bool {
	return t == NoteTypeDocument || t == NoteTypeExamAnnouncement
}

// PubType distinguishes the social action behind a publication row.
type PubType string

const (
	// PubTypeOriginal is the publication created together with its note.
	PubTypeOriginal PubType = "original"
	// PubTypeShared is a re-publication of an existing note by another user.
	PubTypeShared PubType = "shared"
	// PubTypeComment is the feed occurrence of a comment on a note.
	PubTypeComment PubType = "comment-to-note"
)

// ScopeKind separates the global course feed from a single user's feed.
type ScopeKind string

const (
	// ScopeGlobal is the shared feed visible to every course participant.
	ScopeGlobal ScopeKind = "global"
	// ScopeUser is a single user's personal feed.
	ScopeUser ScopeKind = "user"
)

// Scope is the visibility boundary a publication is rendered into.
type Scope struct {
	Kind ScopeKind
	User string
}

// GlobalScope returns the shared feed scope.
func GlobalScope() Scope {
	return Scope{Kind: ScopeGlobal}
}

// UserScope returns the personal feed scope of the given user.
func UserScope(user string) Scope {
	return Scope{Kind: ScopeUser, User: user}
}

func (s Scope) validate() error {
	switch s.Kind {
	case ScopeGlobal:
		if s.User != "" {
			return fmt.Errorf("%w: global scope carries no user", ErrInvalidScope)
		}
		return nil
	case ScopeUser:
		if strings.TrimSpace(s.User) == "" {
			return fmt.Errorf("%w: user scope requires a user", ErrInvalidScope)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown scope kind %q", ErrInvalidScope, s.Kind)
}

const maxIdentifierLength = 190

// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
var ErrInvalidUserID = errors.New("feed: invalid user id")

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Note models a postable unit of content. Unavailable is monotone: once set it
// never reverses, and rows are never purged while publications, comments or
// favorites still reference them.
type Note struct {
	NoteCode         int64    `gorm:"column:note_code;primaryKey;autoIncrement:false"`
	NoteType         NoteType `gorm:"column:note_type;size:32;not null;index:idx_notes_type"`
	OwnerUser        string   `gorm:"column:owner_user;size:190;not null;index:idx_notes_owner"`
	OwnerScope       string   `gorm:"column:owner_scope;size:190;not null;default:''"`
	Body             string   `gorm:"column:body;type:text;not null;default:''"`
	ResourcePath     string   `gorm:"column:resource_path;size:512;not null;default:'';index:idx_notes_resource"`
	Unavailable      bool     `gorm:"column:unavailable;not null;default:false"`
	CreatedAtSeconds int64    `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Publication is a feed-visible occurrence of a note. PubCode is strictly
// increasing across the whole system and doubles as the pagination cursor.
// The uk_publication index enforces at most one row per
// (note, publisher, action, scope, comment) so re-sharing is a no-op.
type Publication struct {
	PubCode          int64     `gorm:"column:pub_code;primaryKey;autoIncrement:false;index:idx_pubs_scope_code,priority:3"`
	NoteCode         int64     `gorm:"column:note_code;not null;uniqueIndex:uk_publication,priority:1"`
	PubType          PubType   `gorm:"column:pub_type;size:16;not null;uniqueIndex:uk_publication,priority:3"`
	Publisher        string    `gorm:"column:publisher;size:190;not null;uniqueIndex:uk_publication,priority:2"`
	CommentCode      string    `gorm:"column:comment_code;size:190;not null;default:'';uniqueIndex:uk_publication,priority:6"`
	ScopeKind        ScopeKind `gorm:"column:scope_kind;size:8;not null;uniqueIndex:uk_publication,priority:4;index:idx_pubs_scope_code,priority:1"`
	ScopeUser        string    `gorm:"column:scope_user;size:190;not null;default:'';uniqueIndex:uk_publication,priority:5;index:idx_pubs_scope_code,priority:2"`
	CreatedAtSeconds int64     `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Publication) TableName() string {
	return "publications"
}

// Scope reconstructs the visibility scope of the publication row.
func (p Publication) Scope() Scope {
	return Scope{Kind: p.ScopeKind, User: p.ScopeUser}
}

// Comment is text attached to a note. Comments carry their own availability
// flag and their own favorite set, independent of the parent note.
type Comment struct {
	CommentCode      string `gorm:"column:comment_code;primaryKey;size:190;not null"`
	NoteCode         int64  `gorm:"column:note_code;not null;index:idx_comments_note"`
	AuthorUser       string `gorm:"column:author_user;size:190;not null"`
	Content          string `gorm:"column:content;type:text;not null"`
	Unavailable      bool   `gorm:"column:unavailable;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// TargetKind distinguishes the two favoritable entities.
type TargetKind string

const (
	// TargetNote marks a favorite on a note.
	TargetNote TargetKind = "note"
	// TargetComment marks a favorite on a comment.
	TargetComment TargetKind = "comment"
)

// FavoriteTarget identifies a note or a comment as the object of a favorite.
type FavoriteTarget struct {
	Kind TargetKind
	Code string
}

// NoteTarget builds the favorite target for a note.
func NoteTarget(noteCode int64) FavoriteTarget {
	return FavoriteTarget{Kind: TargetNote, Code: strconv.FormatInt(noteCode, 10)}
}

// CommentTarget builds the favorite target for a comment.
func CommentTarget(commentCode string) FavoriteTarget {
	return FavoriteTarget{Kind: TargetComment, Code: commentCode}
}

func (t FavoriteTarget) validate() error {
	if t.Kind != TargetNote && t.Kind != TargetComment {
		return fmt.Errorf("feed: unknown favorite target kind %q", t.Kind)
	}
	if strings.TrimSpace(t.Code) == "" {
		return fmt.Errorf("feed: empty favorite target code")
	}
	return nil
}

// Favorite is a (user, target) set-membership row. The composite primary key
// is the uniqueness constraint: a user favorites a given note or comment at
// most once, and counts are always the cardinality of this set.
type Favorite struct {
	UserID           string     `gorm:"column:user_id;primaryKey;size:190;not null"`
	TargetKind       TargetKind `gorm:"column:target_kind;primaryKey;size:16;not null"`
	TargetCode       string     `gorm:"column:target_code;primaryKey;size:190;not null"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Favorite) TableName() string {
	return "favorites"
}
