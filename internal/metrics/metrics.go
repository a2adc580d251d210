// Package metrics collects and exposes Prometheus metrics for the feed engine.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records engine and HTTP counters against a Prometheus registry.
// It satisfies the feed.Metrics interface.
type Collector struct {
	registry        *prometheus.Registry
	publications    *prometheus.CounterVec
	notesHidden     prometheus.Counter
	favorites       *prometheus.CounterVec
	timelineEntries prometheus.Counter
	httpStatus      *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics on the registry.
func NewCollector(reg *prometheus.Registry) *Collector {
	c := &Collector{
		registry: reg,
		publications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursefeed_publications_total",
			Help: "Publications created, by publication type.",
		}, []string{"pub_type"}),
		notesHidden: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursefeed_notes_hidden_total",
			Help: "Notes marked unavailable.",
		}),
		favorites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursefeed_favorites_total",
			Help: "Favorite set mutations, by action.",
		}, []string{"action"}),
		timelineEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursefeed_timeline_entries_total",
			Help: "Publications served through timeline fetches.",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursefeed_http_status_total",
			Help: "HTTP responses, by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.publications,
		c.notesHidden,
		c.favorites,
		c.timelineEntries,
		c.httpStatus,
	)

	return c
}

// PublicationCreated counts a new publication row.
func (c *Collector) PublicationCreated(pubType string) {
	c.publications.WithLabelValues(pubType).Inc()
}

// NotesHidden counts notes flipped to unavailable.
func (c *Collector) NotesHidden(count int) {
	c.notesHidden.Add(float64(count))
}

// FavoriteToggled counts a favorite or unfavorite that changed state.
func (c *Collector) FavoriteToggled(action string) {
	c.favorites.WithLabelValues(action).Inc()
}

// TimelineServed counts entries returned by a timeline fetch.
func (c *Collector) TimelineServed(entries int) {
	c.timelineEntries.Add(float64(entries))
}

// RecordHTTPStatus counts a response status code.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler returns the scrape endpoint for the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
