package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	opSummarizerNew = "feed.summarizer.new"
	opSummarize     = "feed.summarize"

	ellipsis = "…"
)

var errMissingLookup = errors.New("content lookup is required")

// ContentLookup is the boundary to the localization/content subsystem: given
// a note it returns the raw text to summarize.
type ContentLookup interface {
	ContentFor(ctx context.Context, note Note) (string, error)
}

// StoredContentLookup serves the note body the engine already stores, falling
// back to the type tag for structural notes with no body. Deployments swap in
// the localized lookup instead.
type StoredContentLookup struct{}

// ContentFor implements ContentLookup.
func (StoredContentLookup) ContentFor(_ context.Context, note Note) (string, error) {
	if strings.TrimSpace(note.Body) != "" {
		return note.Body, nil
	}
	return fmt.Sprintf("new %s", note.NoteType), nil
}

// Summarizer produces bounded plain-text digests for the external
// notification pathway.
type Summarizer struct {
	lookup ContentLookup
}

// NewSummarizer constructs the notification summarizer.
func NewSummarizer(lookup ContentLookup) (*Summarizer, error) {
	if lookup == nil {
		return nil, newServiceError(opSummarizerNew, "missing_lookup", errMissingLookup)
	}
	return &Summarizer{lookup: lookup}, nil
}

// Summarize renders the note's text content collapsed to single spaces and
// clipped to maxChars with an ellipsis marker when truncated.
func (s *Summarizer) Summarize(ctx context.Context, note Note, maxChars int) (string, error) {
	content, err := s.lookup.ContentFor(ctx, note)
	if err != nil {
		return "", newServiceError(opSummarize, "content_lookup_failed", err)
	}
	return Digest(content, maxChars), nil
}

// Digest collapses all whitespace runs in text to single spaces and truncates
// the result to maxChars runes, appending an ellipsis when clipped. It is a
// pure function; maxChars below one yields an empty string.
func Digest(text string, maxChars int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if maxChars < 1 {
		return ""
	}
	runes := []rune(collapsed)
	if len(runes) <= maxChars {
		return collapsed
	}
	if maxChars == 1 {
		return ellipsis
	}
	return string(runes[:maxChars-1]) + ellipsis
}
