package feed

// Metrics receives engine-level counters. The concrete Prometheus collector
// lives in internal/metrics; services fall back to a no-op sink when none is
// supplied.
type Metrics interface {
	PublicationCreated(pubType string)
	NotesHidden(count int)
	FavoriteToggled(action string)
	TimelineServed(entries int)
}

type nopMetrics struct{}

func (nopMetrics) PublicationCreated(string) {}
func (nopMetrics) NotesHidden(int)           {}
func (nopMetrics) FavoriteToggled(string)    {}
func (nopMetrics) TimelineServed(int)        {}
