// Package engine implements the ad placement decision core: campaign
// selection against targeting and scheduling rules, frequency capping,
// weighted variant rotation, idempotent event recording and stats
// aggregation. Everything else in the publishing platform is a
// collaborator that feeds this package or consumes its output.
package engine

import (
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/presslane/adserve/internal/metrics"
	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

var (
	// ErrNotFound is returned by TrackEvent when the referenced campaign
	// or ad variant does not exist. Serve-time absence is not an error.
	ErrNotFound = errors.New("engine: campaign or ad not found")

	// ErrInvalidEventType is returned before any write when TrackEvent is
	// called with an unknown or non-trackable event type.
	ErrInvalidEventType = errors.New("engine: invalid event type")
)

// Decision is the outcome of a serve call: the winning campaign and the
// variant chosen by weighted rotation. A nil Decision means "no ad".
type Decision struct {
	CampaignID string           `json:"campaign_id"`
	Ad         models.AdVariant `json:"ad"`
}

// Engine wires the decision components together. One instance serves all
// requests; it holds no per-request state.
type Engine struct {
	campaigns storage.CampaignRepo
	events    storage.EventStore
	guard     *FrequencyGuard
	freq      *RedisFrequencyStore // optional fast-path counters
	logger    *zap.Logger
	metrics   *metrics.Metrics

	now       func() time.Time
	randFloat func() float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRedisFrequency routes frequency-cap reads and writes through Redis
// counters instead of counting event rows.
func WithRedisFrequency(s *RedisFrequencyStore) Option {
	return func(e *Engine) { e.freq = s }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand overrides the random source used for campaign and variant
// selection. The function must return values in [0, 1). Used by tests to
// make selection deterministic.
func WithRand(f func() float64) Option {
	return func(e *Engine) { e.randFloat = f }
}

// NewEngine creates a decision engine over the given campaign repo and
// event store.
func NewEngine(campaigns storage.CampaignRepo, events storage.EventStore, opts ...Option) *Engine {
	e := &Engine{
		campaigns: campaigns,
		events:    events,
		logger:    zap.NewNop(),
		now:       time.Now,
		randFloat: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	var history FrequencyHistory = events
	if e.freq != nil {
		history = e.freq
	}
	e.guard = NewFrequencyGuard(history, e.now)
	return e
}
