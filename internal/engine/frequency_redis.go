package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/presslane/adserve/internal/models"
	"github.com/presslane/adserve/internal/storage"
)

const (
	// Session counters outlive any realistic session; the session ID
	// itself changes when a new session starts.
	sessionCounterTTL = 25 * time.Hour
	dailyCounterTTL   = 48 * time.Hour
)

// RedisFrequencyStore keeps per-viewer frequency counters in Redis so the
// serve path avoids scanning event rows. The recorder bumps the counters
// with pipelined atomic INCRs; reads fail open (count 0) on Redis errors
// so a cache outage degrades capping instead of blocking ad serving.
type RedisFrequencyStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisFrequencyStore creates a Redis-backed frequency counter store.
func NewRedisFrequencyStore(client *redis.Client, logger *zap.Logger) *RedisFrequencyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFrequencyStore{client: client, logger: logger}
}

// CountEvents reads the counter matching the query. A Since bound selects
// the daily counter for that day; no bound selects the session counter.
func (s *RedisFrequencyStore) CountEvents(ctx context.Context, q storage.FrequencyQuery) (int64, error) {
	key := freqKey(q.CampaignID, q.CollectionID, identifier(q.UserID, q.SessionID), string(q.Type), q.PageKey, daySuffix(q.Since))
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		s.logger.Warn("frequency counter read failed, failing open", zap.Error(err), zap.String("key", key))
		return 0, nil
	}
	return n, nil
}

// RecordEvent bumps the session and daily counters for an event. The day
// boundary follows loc, the campaign's timezone, so the daily counter and
// the guard's once_per_day window agree.
func (s *RedisFrequencyStore) RecordEvent(ctx context.Context, ev *models.AdEvent, loc *time.Location) {
	ident := identifier(ev.UserID, ev.SessionID)
	if ident == "" {
		return
	}
	day := daySuffix(startOfDay(ev.CreatedAt.In(loc)))

	pipe := s.client.Pipeline()
	// Both the page-scoped and unscoped counters are maintained so either
	// query shape finds its count.
	for _, pk := range uniqueStrings("", ev.PageKey) {
		sessionKey := freqKey(ev.CampaignID, ev.CollectionID, ident, string(ev.Type), pk, "")
		pipe.Incr(ctx, sessionKey)
		pipe.Expire(ctx, sessionKey, sessionCounterTTL)

		dailyKey := freqKey(ev.CampaignID, ev.CollectionID, ident, string(ev.Type), pk, day)
		pipe.Incr(ctx, dailyKey)
		pipe.Expire(ctx, dailyKey, dailyCounterTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("frequency counter update failed", zap.Error(err))
	}
}

func identifier(userID, sessionID string) string {
	if userID != "" {
		return "u:" + userID
	}
	if sessionID != "" {
		return "s:" + sessionID
	}
	return ""
}

func daySuffix(since time.Time) string {
	if since.IsZero() {
		return ""
	}
	return since.Format("2006-01-02")
}

func freqKey(campaignID, collectionID, ident, eventType, pageKey, day string) string {
	scope := campaignID
	if scope == "" {
		scope = "col:" + collectionID
	}
	parts := []string{"freq", scope, ident, eventType}
	if pageKey != "" {
		parts = append(parts, "p:"+pageKey)
	}
	if day != "" {
		parts = append(parts, day)
	}
	return strings.Join(parts, ":")
}

func uniqueStrings(values ...string) []string {
	seen := make(map[string]struct{}, len(values))
	res := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		res = append(res, v)
	}
	return res
}

var _ FrequencyHistory = (*RedisFrequencyStore)(nil)
