package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atlasuniv/coursefeed/internal/feed"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorContextKey = "coursefeed_actor"

var (
	errMissingStore      = errors.New("note store dependency required")
	errMissingDispatcher = errors.New("dispatcher dependency required")
	errMissingTimeline   = errors.New("timeline dependency required")
	errMissingLedger     = errors.New("ledger dependency required")
	errMissingTracker    = errors.New("tracker dependency required")
	errMissingSummarizer = errors.New("summarizer dependency required")
	errMissingTokens     = errors.New("actor token codec required")
	errMissingCursors    = errors.New("cursor codec required")
)

// StatusRecorder receives response status codes for metrics.
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// Dependencies bundles everything the HTTP handler needs.
type Dependencies struct {
	Store      *feed.Store
	Dispatcher *feed.Dispatcher
	Timeline   *feed.Timeline
	Ledger     *feed.Ledger
	Tracker    *feed.Tracker
	Summarizer *feed.Summarizer

	Tokens  *ActorTokens
	Cursors *CursorCodec

	RateLimiter     *RateLimiter
	MetricsHandler  http.Handler
	StatusRecorder  StatusRecorder
	Logger          *zap.Logger
	SummaryMaxChars int
}

// NewHTTPHandler wires the engine behind the HTTP surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.Store == nil:
		return nil, errMissingStore
	case deps.Dispatcher == nil:
		return nil, errMissingDispatcher
	case deps.Timeline == nil:
		return nil, errMissingTimeline
	case deps.Ledger == nil:
		return nil, errMissingLedger
	case deps.Tracker == nil:
		return nil, errMissingTracker
	case deps.Summarizer == nil:
		return nil, errMissingSummarizer
	case deps.Tokens == nil:
		return nil, errMissingTokens
	case deps.Cursors == nil:
		return nil, errMissingCursors
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	summaryMax := deps.SummaryMaxChars
	if summaryMax < 1 {
		summaryMax = 140
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		timeline:   deps.Timeline,
		ledger:     deps.Ledger,
		tracker:    deps.Tracker,
		summarizer: deps.Summarizer,
		tokens:     deps.Tokens,
		cursors:    deps.Cursors,
		logger:     logger,
		summaryMax: summaryMax,
	}

	if deps.StatusRecorder != nil {
		router.Use(func(c *gin.Context) {
			c.Next()
			deps.StatusRecorder.RecordHTTPStatus(c.Writer.Status())
		})
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notes/:code", handler.handleGetNote)
	protected.GET("/notes/:code/summary", handler.handleSummary)
	protected.GET("/timeline/new", handler.handleFetchNew)
	protected.GET("/timeline/older", handler.handleFetchOld)

	mutating := protected.Group("/")
	if deps.RateLimiter != nil {
		mutating.Use(deps.RateLimiter.Middleware())
	}
	mutating.POST("/notes", handler.handleCreateNote)
	mutating.DELETE("/notes/:code", handler.handleRemoveNote)
	mutating.POST("/notes/:code/shares", handler.handleShare)
	mutating.DELETE("/notes/:code/shares", handler.handleUnshare)
	mutating.POST("/notes/:code/comments", handler.handleComment)
	mutating.PUT("/favorites", handler.handleFavorite)
	mutating.DELETE("/favorites", handler.handleUnfavorite)
	mutating.POST("/resources/deleted", handler.handleResourceDeleted)
	mutating.POST("/entities/deleted", handler.handleEntityDeleted)
	mutating.POST("/maintenance/purge-cache", handler.handlePurgeCache)

	return router, nil
}

type httpHandler struct {
	store      *feed.Store
	dispatcher *feed.Dispatcher
	timeline   *feed.Timeline
	ledger     *feed.Ledger
	tracker    *feed.Tracker
	summarizer *feed.Summarizer
	tokens     *ActorTokens
	cursors    *CursorCodec
	logger     *zap.Logger
	summaryMax int
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	actor, err := h.tokens.Validate(strings.TrimPrefix(header, prefix))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(actorContextKey, actor.String())
	c.Next()
}

func (h *httpHandler) actor(c *gin.Context) feed.UserID {
	return feed.UserID(c.GetString(actorContextKey))
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, feed.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, feed.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, feed.ErrInvalidScope), errors.Is(err, feed.ErrInvalidUserID):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_scope"})
	case errors.Is(err, feed.ErrStorageUnavailable):
		h.logger.Error("storage unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

func noteCodeParam(c *gin.Context) (int64, bool) {
	code, err := strconv.ParseInt(c.Param("code"), 10, 64)
	if err != nil || code < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_code"})
		return 0, false
	}
	return code, true
}

func scopeFromStrings(kind, user string) (feed.Scope, bool) {
	switch feed.ScopeKind(kind) {
	case feed.ScopeGlobal, feed.ScopeKind(""):
		return feed.GlobalScope(), true
	case feed.ScopeUser:
		return feed.UserScope(user), true
	}
	return feed.Scope{}, false
}

type createNotePayload struct {
	NoteType     string `json:"note_type"`
	OwnerScope   string `json:"owner_scope"`
	Body         string `json:"body"`
	ResourcePath string `json:"resource_path"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var payload createNotePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	created, err := h.store.CreateNote(c.Request.Context(), feed.CreateNoteRequest{
		NoteType:     feed.NoteType(payload.NoteType),
		Owner:        h.actor(c),
		OwnerScope:   payload.OwnerScope,
		Body:         payload.Body,
		ResourcePath: payload.ResourcePath,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	cursor, err := h.cursors.Encode(created.PubCode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"note_code": created.NoteCode, "cursor": cursor})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	code, ok := noteCodeParam(c)
	if !ok {
		return
	}
	note, err := h.store.GetNote(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	count, err := h.ledger.FavoriteCount(c.Request.Context(), feed.NoteTarget(code))
	if err != nil {
		h.writeError(c, err)
		return
	}
	favorited, err := h.ledger.IsFavoritedBy(c.Request.Context(), h.actor(c), feed.NoteTarget(code))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"note_code":      note.NoteCode,
		"note_type":      note.NoteType,
		"owner_user":     note.OwnerUser,
		"owner_scope":    note.OwnerScope,
		"body":           note.Body,
		"unavailable":    note.Unavailable,
		"created_at_s":   note.CreatedAtSeconds,
		"favorite_count": count,
		"favorited":      favorited,
	})
}

func (h *httpHandler) handleRemoveNote(c *gin.Context) {
	code, ok := noteCodeParam(c)
	if !ok {
		return
	}
	confirmed := c.Query("confirmed") == "true"
	changed, err := h.store.RemoveNote(c.Request.Context(), code, h.actor(c), confirmed)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

type sharePayload struct {
	ScopeKind string `json:"scope_kind"`
	ScopeUser string `json:"scope_user"`
}

func (h *httpHandler) handleShare(c *gin.Context) {
	code, ok := noteCodeParam(c)
	if !ok {
		return
	}
	var payload sharePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	scope, ok := scopeFromStrings(payload.ScopeKind, payload.ScopeUser)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_scope"})
		return
	}
	result, err := h.dispatcher.Share(c.Request.Context(), code, h.actor(c), scope)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response := gin.H{"changed": result.Changed}
	if result.Changed {
		cursor, err := h.cursors.Encode(result.PubCode)
		if err != nil {
			h.writeError(c, err)
			return
		}
		response["cursor"] = cursor
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleUnshare(c *gin.Context) {
	code, ok := noteCodeParam(c)
	if !ok {
		return
	}
	scope, ok := scopeFromStrings(c.Query("scope_kind"), c.Query("scope_user"))
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_scope"})
		return
	}
	changed, err := h.dispatcher.Unshare(c.Request.Context(), code, h.actor(c), scope)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

type commentPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleComment(c *gin.Context) {
	code, ok := noteCodeParam(c)
	if !ok {
		return
	}
	var payload commentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	published, err := h.dispatcher.PublishComment(c.Request.Context(), code, h.actor(c), payload.Content)
	if err != nil {
		h.writeError(c, err)
		return
	}
	cursor, err := h.cursors.Encode(published.PubCode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"comment_code": published.Comment.CommentCode,
		"cursor":       cursor,
	})
}

type favoritePayload struct {
	TargetKind string `json:"target_kind"`
	TargetCode string `json:"target_code"`
}

func favoriteTarget(kind, code string) feed.FavoriteTarget {
	return feed.FavoriteTarget{Kind: feed.TargetKind(kind), Code: code}
}

func (h *httpHandler) handleFavorite(c *gin.Context) {
	var payload favoritePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	changed, err := h.ledger.Favorite(c.Request.Context(), h.actor(c), favoriteTarget(payload.TargetKind, payload.TargetCode))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (h *httpHandler) handleUnfavorite(c *gin.Context) {
	changed, err := h.ledger.Unfavorite(c.Request.Context(), h.actor(c),
		favoriteTarget(c.Query("target_kind"), c.Query("target_code")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

type timelineEntry struct {
	Cursor      string `json:"cursor"`
	NoteCode    int64  `json:"note_code"`
	PubType     string `json:"pub_type"`
	Publisher   string `json:"publisher"`
	CommentCode string `json:"comment_code,omitempty"`
	CreatedAtS  int64  `json:"created_at_s"`
}

func (h *httpHandler) timelineEntries(c *gin.Context, publications []feed.Publication) ([]timelineEntry, bool) {
	entries := make([]timelineEntry, 0, len(publications))
	for _, publication := range publications {
		cursor, err := h.cursors.Encode(publication.PubCode)
		if err != nil {
			h.writeError(c, err)
			return nil, false
		}
		entries = append(entries, timelineEntry{
			Cursor:      cursor,
			NoteCode:    publication.NoteCode,
			PubType:     string(publication.PubType),
			Publisher:   publication.Publisher,
			CommentCode: publication.CommentCode,
			CreatedAtS:  publication.CreatedAtSeconds,
		})
	}
	return entries, true
}

func (h *httpHandler) handleFetchNew(c *gin.Context) {
	scope, ok := scopeFromStrings(c.Query("scope_kind"), c.Query("scope_user"))
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_scope"})
		return
	}
	after, err := h.cursors.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
		return
	}
	publications, err := h.timeline.FetchNew(c.Request.Context(), h.actor(c), scope, after)
	if err != nil {
		h.writeError(c, err)
		return
	}
	entries, ok := h.timelineEntries(c, publications)
	if !ok {
		return
	}
	// The next poll cursor is the newest entry just returned; an empty
	// result leaves the caller's cursor unchanged.
	nextCursor := c.Query("cursor")
	if len(entries) > 0 {
		nextCursor = entries[0].Cursor
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "next_cursor": nextCursor})
}

func (h *httpHandler) handleFetchOld(c *gin.Context) {
	scope, ok := scopeFromStrings(c.Query("scope_kind"), c.Query("scope_user"))
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_scope"})
		return
	}
	before := int64(math.MaxInt64)
	if raw := c.Query("cursor"); raw != "" {
		decoded, err := h.cursors.Decode(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		before = decoded
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	publications, err := h.timeline.FetchOld(c.Request.Context(), h.actor(c), scope, before, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	entries, ok := h.timelineEntries(c, publications)
	if !ok {
		return
	}
	response := gin.H{"entries": entries}
	if len(entries) > 0 {
		response["next_cursor"] = entries[len(entries)-1].Cursor
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSummary(c *gin.Context) {
	code, ok := noteCodeParam(c)
	if !ok {
		return
	}
	note, err := h.store.GetNote(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	maxChars := h.summaryMax
	if raw := c.Query("max"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_max"})
			return
		}
		if parsed < maxChars {
			maxChars = parsed
		}
	}
	summary, err := h.summarizer.Summarize(c.Request.Context(), note, maxChars)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

type resourceDeletedPayload struct {
	Path string `json:"path"`
}

func (h *httpHandler) handleResourceDeleted(c *gin.Context) {
	var payload resourceDeletedPayload
	if err := c.ShouldBindJSON(&payload); err != nil || strings.TrimSpace(payload.Path) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	hidden, err := h.tracker.OnResourceDeleted(c.Request.Context(), payload.Path)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes_hidden": hidden})
}

type entityDeletedPayload struct {
	NoteType string `json:"note_type"`
	NoteCode int64  `json:"note_code"`
}

func (h *httpHandler) handleEntityDeleted(c *gin.Context) {
	var payload entityDeletedPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.NoteCode < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	hidden, err := h.tracker.OnEntityDeleted(c.Request.Context(), feed.NoteType(payload.NoteType), payload.NoteCode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes_hidden": hidden})
}

func (h *httpHandler) handlePurgeCache(c *gin.Context) {
	purged := h.timeline.PurgeExpired()
	c.JSON(http.StatusOK, gin.H{"pages_purged": purged})
}
