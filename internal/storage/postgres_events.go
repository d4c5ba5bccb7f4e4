package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/presslane/adserve/internal/models"
)

// PostgresEventStore implements EventStore on PostgreSQL. Idempotency is
// enforced by a partial unique index on dedupe_key; retention is a bulk
// delete driven by the sweeper in main.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore creates a PostgreSQL-backed event store.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

func (s *PostgresEventStore) Insert(ctx context.Context, ev *models.AdEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO ad_events (
			id, type, campaign_id, collection_id, ad_id,
			page_type, page_key, device, country, category,
			session_id, user_id, ip_hash, dedupe_key, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
	`, ev.ID, string(ev.Type), nullString(ev.CampaignID), nullString(ev.CollectionID), ev.AdID,
		nullString(ev.PageType), nullString(ev.PageKey), nullString(ev.Device),
		nullString(ev.Country), nullString(ev.Category),
		nullString(ev.SessionID), nullString(ev.UserID), nullString(ev.IPHash),
		nullString(ev.DedupeKey), ev.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresEventStore) CountEvents(ctx context.Context, q FrequencyQuery) (int64, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.CampaignID != "" {
		add("campaign_id = $%d", q.CampaignID)
	}
	if q.CollectionID != "" {
		add("collection_id = $%d", q.CollectionID)
	}
	if q.UserID != "" {
		add("user_id = $%d", q.UserID)
	}
	if q.SessionID != "" {
		add("session_id = $%d", q.SessionID)
	}
	if q.PageKey != "" {
		add("page_key = $%d", q.PageKey)
	}
	if q.Type != "" {
		add("type = $%d", string(q.Type))
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since)
	}
	query := "SELECT count(*) FROM ad_events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *PostgresEventStore) Aggregate(ctx context.Context, campaignID string, from, to time.Time) (map[models.EventType]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT type, count(*)
		FROM ad_events
		WHERE campaign_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		GROUP BY type
	`, campaignID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, fmt.Errorf("aggregate events: %w", err)
	}
	defer rows.Close()

	res := make(map[models.EventType]int64)
	for rows.Next() {
		var (
			typ string
			n   int64
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		res[models.EventType(typ)] = n
	}
	return res, rows.Err()
}

func (s *PostgresEventStore) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ad_events WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ EventStore = (*PostgresEventStore)(nil)
