package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/presslane/adserve/internal/models"
)

// PostgresCampaignRepo implements CampaignRepo on PostgreSQL. Campaign
// rules (targeting, schedule, frequency) live in JSONB columns; variants
// live in their own table so counters can be bumped with single-statement
// atomic updates instead of a fetch-mutate-save cycle.
type PostgresCampaignRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresCampaignRepo creates a PostgreSQL-backed campaign repo.
func NewPostgresCampaignRepo(pool *pgxpool.Pool) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{pool: pool}
}

const campaignColumns = `
	id, name, placement, status, targeting, schedule, frequency,
	stats_impressions, stats_clicks, stats_ctr, stats_conversions,
	created_at, updated_at`

func scanCampaign(row pgx.Row) (*models.Campaign, error) {
	var (
		c             models.Campaign
		targetingJSON []byte
		scheduleJSON  []byte
		frequencyJSON []byte
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Placement, &c.Status,
		&targetingJSON, &scheduleJSON, &frequencyJSON,
		&c.Stats.Impressions, &c.Stats.Clicks, &c.Stats.CTR, &c.Stats.Conversions,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(targetingJSON, &c.Targeting); err != nil {
		return nil, fmt.Errorf("decode targeting: %w", err)
	}
	if err := json.Unmarshal(scheduleJSON, &c.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if err := json.Unmarshal(frequencyJSON, &c.Frequency); err != nil {
		return nil, fmt.Errorf("decode frequency: %w", err)
	}
	return &c, nil
}

func (r *PostgresCampaignRepo) loadAds(ctx context.Context, campaignIDs []string) (map[string][]models.AdVariant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT campaign_id, ad_id, name, weight, is_active,
		       impressions, clicks, ctr, conversions
		FROM campaign_ads
		WHERE campaign_id = ANY($1)
		ORDER BY position, ad_id
	`, campaignIDs)
	if err != nil {
		return nil, fmt.Errorf("load ads: %w", err)
	}
	defer rows.Close()

	res := make(map[string][]models.AdVariant, len(campaignIDs))
	for rows.Next() {
		var (
			campaignID string
			ad         models.AdVariant
		)
		if err := rows.Scan(
			&campaignID, &ad.AdID, &ad.Name, &ad.Weight, &ad.IsActive,
			&ad.Stats.Impressions, &ad.Stats.Clicks, &ad.Stats.CTR, &ad.Stats.Conversions,
		); err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		res[campaignID] = append(res[campaignID], ad)
	}
	return res, rows.Err()
}

func (r *PostgresCampaignRepo) ListByPlacementAndStatus(ctx context.Context, placement models.Placement, status models.CampaignStatus) ([]*models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE placement = $1 AND status = $2
	`, string(placement), string(status))
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var (
		campaigns []*models.Campaign
		ids       []string
	)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return nil, nil
	}

	ads, err := r.loadAds(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range campaigns {
		c.Ads = ads[c.ID]
	}
	return campaigns, nil
}

func (r *PostgresCampaignRepo) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	c, err := scanCampaign(r.pool.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE id = $1
	`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	ads, err := r.loadAds(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	c.Ads = ads[id]
	return c, nil
}

func (r *PostgresCampaignRepo) Upsert(ctx context.Context, c *models.Campaign) error {
	targetingJSON, err := json.Marshal(c.Targeting)
	if err != nil {
		return fmt.Errorf("encode targeting: %w", err)
	}
	scheduleJSON, err := json.Marshal(c.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	frequencyJSON, err := json.Marshal(c.Frequency)
	if err != nil {
		return fmt.Errorf("encode frequency: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO campaigns (
			id, name, placement, status, targeting, schedule, frequency,
			stats_impressions, stats_clicks, stats_ctr, stats_conversions,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			placement = EXCLUDED.placement,
			status = EXCLUDED.status,
			targeting = EXCLUDED.targeting,
			schedule = EXCLUDED.schedule,
			frequency = EXCLUDED.frequency,
			updated_at = now()
	`, c.ID, c.Name, string(c.Placement), string(c.Status),
		targetingJSON, scheduleJSON, frequencyJSON,
		c.Stats.Impressions, c.Stats.Clicks, c.Stats.CTR, c.Stats.Conversions)
	if err != nil {
		return fmt.Errorf("upsert campaign: %w", err)
	}

	// Variants are written only as part of their campaign. Remove the ones
	// the caller dropped, then upsert the rest preserving counters.
	keep := make([]string, 0, len(c.Ads))
	for _, ad := range c.Ads {
		keep = append(keep, ad.AdID)
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM campaign_ads
		WHERE campaign_id = $1 AND NOT (ad_id = ANY($2))
	`, c.ID, keep)
	if err != nil {
		return fmt.Errorf("prune ads: %w", err)
	}

	for pos, ad := range c.Ads {
		_, err = tx.Exec(ctx, `
			INSERT INTO campaign_ads (
				ad_id, campaign_id, name, weight, is_active, position,
				impressions, clicks, ctr, conversions
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (ad_id) DO UPDATE SET
				name = EXCLUDED.name,
				weight = EXCLUDED.weight,
				is_active = EXCLUDED.is_active,
				position = EXCLUDED.position
		`, ad.AdID, c.ID, ad.Name, ad.Weight, ad.IsActive, pos,
			ad.Stats.Impressions, ad.Stats.Clicks, ad.Stats.CTR, ad.Stats.Conversions)
		if err != nil {
			return fmt.Errorf("upsert ad %s: %w", ad.AdID, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *PostgresCampaignRepo) Delete(ctx context.Context, id string) error {
	// campaign_ads cascades on delete.
	_, err := r.pool.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	return nil
}

// IncrementAdStats bumps a counter and recomputes CTR in one statement so
// concurrent track calls never lose updates.
func (r *PostgresCampaignRepo) IncrementAdStats(ctx context.Context, campaignID, adID string, eventType models.EventType) error {
	var query string
	switch eventType {
	case models.EventImpression, models.EventView:
		query = `
			UPDATE campaign_ads
			SET impressions = impressions + 1,
			    ctr = round(clicks::numeric / (impressions + 1) * 100, 2)::float8
			WHERE campaign_id = $1 AND ad_id = $2`
	case models.EventClick:
		query = `
			UPDATE campaign_ads
			SET clicks = clicks + 1,
			    ctr = CASE WHEN impressions > 0
			          THEN round((clicks + 1)::numeric / impressions * 100, 2)::float8
			          ELSE 0 END
			WHERE campaign_id = $1 AND ad_id = $2`
	case models.EventConversion:
		query = `
			UPDATE campaign_ads
			SET conversions = conversions + 1
			WHERE campaign_id = $1 AND ad_id = $2`
	default:
		return fmt.Errorf("increment stats: unsupported event type %q", eventType)
	}

	tag, err := r.pool.Exec(ctx, query, campaignID, adID)
	if err != nil {
		return fmt.Errorf("increment stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresCampaignRepo) UpdateCampaignStats(ctx context.Context, campaignID string, stats models.CampaignStats) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE campaigns
		SET stats_impressions = $2,
		    stats_clicks = $3,
		    stats_ctr = $4,
		    stats_conversions = $5,
		    updated_at = now()
		WHERE id = $1
	`, campaignID, stats.Impressions, stats.Clicks, stats.CTR, stats.Conversions)
	if err != nil {
		return fmt.Errorf("update campaign stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ CampaignRepo = (*PostgresCampaignRepo)(nil)

// nullString converts empty strings to NULL for optional columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime converts zero times to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
