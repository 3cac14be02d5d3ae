package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/storage/models"
	"github.com/thera-pipeline/matcher/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS candidate_profiles (
		company_key TEXT PRIMARY KEY,
		company_name TEXT NOT NULL,
		industry TEXT,
		country TEXT,
		apollo_score REAL NOT NULL DEFAULT 0,
		domain_health_score REAL NOT NULL DEFAULT 0,
		content_richness_score REAL NOT NULL DEFAULT 0,
		profile_text TEXT,
		content_hash TEXT,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_industry ON candidate_profiles(industry);
	CREATE INDEX IF NOT EXISTS idx_profiles_country ON candidate_profiles(country);
	CREATE INDEX IF NOT EXISTS idx_profiles_updated ON candidate_profiles(updated_at);

	CREATE TABLE IF NOT EXISTS match_events (
		event_id TEXT PRIMARY KEY,
		challenge_id TEXT NOT NULL,
		company_key TEXT NOT NULL,
		embedding_similarity REAL NOT NULL,
		industry_geo_score REAL NOT NULL,
		apollo_score REAL NOT NULL,
		ml_score REAL NOT NULL,
		final_score REAL NOT NULL,
		rule_features TEXT,
		reason TEXT,
		event_ts INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_challenge ON match_events(challenge_id);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON match_events(event_ts);

	CREATE TABLE IF NOT EXISTS outcomes (
		challenge_id TEXT NOT NULL,
		company_key TEXT NOT NULL,
		contacted INTEGER NOT NULL DEFAULT 0,
		contacted_at INTEGER,
		PRIMARY KEY (challenge_id, company_key)
	);

	CREATE TABLE IF NOT EXISTS ams_daily (
		date TEXT PRIMARY KEY,
		total_challenges INTEGER NOT NULL,
		total_shortlists INTEGER NOT NULL,
		avg_ams_challenge REAL NOT NULL,
		avg_embedding_similarity REAL NOT NULL,
		avg_ml_score REAL NOT NULL,
		computed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ams_challenge_daily (
		date TEXT NOT NULL,
		challenge_id TEXT NOT NULL,
		shortlist_size INTEGER NOT NULL,
		ams_challenge REAL NOT NULL,
		avg_embedding_similarity REAL NOT NULL,
		avg_ml_score REAL NOT NULL,
		top_score REAL NOT NULL,
		min_score REAL NOT NULL,
		score_std REAL NOT NULL,
		computed_at INTEGER NOT NULL,
		PRIMARY KEY (date, challenge_id)
	);

	CREATE TABLE IF NOT EXISTS job_watermarks (
		job TEXT PRIMARY KEY,
		watermark INTEGER NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// QueryProfiles returns catalog rows matching the filter, newest first,
// capped at limit. It never mutates the catalog.
func (c *Client) QueryProfiles(ctx context.Context, f models.ProfileFilter, limit int) ([]models.CandidateProfile, error) {
	query := `
		SELECT company_key, company_name, industry, country, apollo_score,
			domain_health_score, content_richness_score, profile_text, content_hash, updated_at
		FROM candidate_profiles
		WHERE (? = '' OR industry = ?)
		AND (? = '' OR country = ?)
		ORDER BY updated_at DESC, company_key ASC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, f.Industry, f.Industry, f.Country, f.Country, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

// ProfilesUpdatedSince returns catalog rows touched after the watermark, used
// by the incremental embedding batch.
func (c *Client) ProfilesUpdatedSince(ctx context.Context, since time.Time, limit int) ([]models.CandidateProfile, error) {
	query := `
		SELECT company_key, company_name, industry, country, apollo_score,
			domain_health_score, content_richness_score, profile_text, content_hash, updated_at
		FROM candidate_profiles
		WHERE updated_at > ?
		AND profile_text IS NOT NULL AND profile_text != ''
		AND content_hash IS NOT NULL AND content_hash != ''
		ORDER BY updated_at ASC, company_key ASC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed profiles: %w", err)
	}
	defer rows.Close()

	return scanProfiles(rows)
}

func scanProfiles(rows *sql.Rows) ([]models.CandidateProfile, error) {
	var profiles []models.CandidateProfile
	for rows.Next() {
		var p models.CandidateProfile
		var industry, country, profileText, contentHash sql.NullString
		var updatedAt int64

		// The catalog is owned by the upstream pipeline and the optional
		// columns can be NULL; one sparse row must not abort the query.
		err := rows.Scan(&p.CompanyKey, &p.CompanyName, &industry, &country,
			&p.ApolloScore, &p.DomainHealthScore, &p.ContentRichnessScore,
			&profileText, &contentHash, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}

		p.Industry = industry.String
		p.Country = country.String
		p.ProfileText = profileText.String
		p.ContentHash = contentHash.String
		p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}

	return profiles, nil
}

// AppendMatchEvents writes audit events in one transaction. Events are never
// updated in place.
func (c *Client) AppendMatchEvents(ctx context.Context, events []models.MatchEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO match_events (event_id, challenge_id, company_key, embedding_similarity,
			industry_geo_score, apollo_score, ml_score, final_score, rule_features, reason, event_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		featuresJSON, _ := json.Marshal(e.RuleFeatures)

		_, err := stmt.ExecContext(ctx,
			e.EventID,
			e.ChallengeID,
			e.CompanyKey,
			e.EmbeddingSimilarity,
			e.IndustryGeoScore,
			e.ApolloScore,
			e.MLScore,
			e.FinalScore,
			string(featuresJSON),
			e.Reason,
			e.EventTimestamp.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert match event %s: %w", e.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit match events: %w", err)
	}

	logger.Debug("Match events appended", zap.Int("count", len(events)))
	return nil
}

// EventsForDay returns every match event whose timestamp falls on the given
// UTC day (YYYY-MM-DD).
func (c *Client) EventsForDay(ctx context.Context, day string) ([]models.MatchEvent, error) {
	dayStart, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
		SELECT event_id, challenge_id, company_key, embedding_similarity,
			industry_geo_score, apollo_score, ml_score, final_score, rule_features, reason, event_ts
		FROM match_events
		WHERE event_ts >= ? AND event_ts < ?
		ORDER BY challenge_id ASC, final_score DESC, company_key ASC
	`

	rows, err := c.db.QueryContext(ctx, query, dayStart.Unix(), dayEnd.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query events for day: %w", err)
	}
	defer rows.Close()

	var events []models.MatchEvent
	for rows.Next() {
		var e models.MatchEvent
		var featuresJSON string
		var ts int64

		err := rows.Scan(&e.EventID, &e.ChallengeID, &e.CompanyKey, &e.EmbeddingSimilarity,
			&e.IndustryGeoScore, &e.ApolloScore, &e.MLScore, &e.FinalScore,
			&featuresJSON, &e.Reason, &ts)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		json.Unmarshal([]byte(featuresJSON), &e.RuleFeatures)
		e.EventTimestamp = time.Unix(ts, 0).UTC()
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}

	return events, nil
}

// TrainingRows joins match events since the cutoff with their outcome labels
// and candidate features. An event is a positive only when its candidate was
// contacted within contactWindow of the event; everything else, including
// contacts long after the match, is a negative.
func (c *Client) TrainingRows(ctx context.Context, since time.Time, contactWindow time.Duration) ([]models.TrainingRow, error) {
	query := `
		SELECT e.event_id, e.challenge_id, e.company_key, e.embedding_similarity,
			e.industry_geo_score, e.apollo_score, e.ml_score, e.final_score,
			e.rule_features, e.event_ts,
			p.domain_health_score, p.content_richness_score,
			CASE
				WHEN COALESCE(o.contacted, 0) = 1
					AND o.contacted_at IS NOT NULL
					AND o.contacted_at >= e.event_ts
					AND o.contacted_at <= e.event_ts + ?
				THEN 1 ELSE 0
			END
		FROM match_events e
		JOIN candidate_profiles p ON p.company_key = e.company_key
		LEFT JOIN outcomes o ON o.challenge_id = e.challenge_id AND o.company_key = e.company_key
		WHERE e.event_ts >= ?
		ORDER BY e.event_ts ASC, e.event_id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, int64(contactWindow.Seconds()), since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query training rows: %w", err)
	}
	defer rows.Close()

	var result []models.TrainingRow
	for rows.Next() {
		var r models.TrainingRow
		var featuresJSON string
		var ts int64

		err := rows.Scan(&r.Event.EventID, &r.Event.ChallengeID, &r.Event.CompanyKey,
			&r.Event.EmbeddingSimilarity, &r.Event.IndustryGeoScore, &r.Event.ApolloScore,
			&r.Event.MLScore, &r.Event.FinalScore, &featuresJSON, &ts,
			&r.Candidate.DomainHealthScore, &r.Candidate.ContentRichnessScore, &r.Label)
		if err != nil {
			return nil, fmt.Errorf("failed to scan training row: %w", err)
		}

		json.Unmarshal([]byte(featuresJSON), &r.Event.RuleFeatures)
		r.Event.EventTimestamp = time.Unix(ts, 0).UTC()
		r.Candidate.CompanyKey = r.Event.CompanyKey
		result = append(result, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate training rows: %w", err)
	}

	logger.Info("Training rows loaded", zap.Int("count", len(result)))
	return result, nil
}

// ReplaceAMSDay replaces all AMS records for the day in one transaction, so
// re-aggregation is idempotent and never leaves duplicates.
func (c *Client) ReplaceAMSDay(ctx context.Context, overall models.AMSOverall, challenges []models.AMSChallenge) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ams_daily WHERE date = ?`, overall.Date); err != nil {
		return fmt.Errorf("failed to clear ams_daily: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM ams_challenge_daily WHERE date = ?`, overall.Date); err != nil {
		return fmt.Errorf("failed to clear ams_challenge_daily: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ams_daily (date, total_challenges, total_shortlists, avg_ams_challenge,
			avg_embedding_similarity, avg_ml_score, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, overall.Date, overall.TotalChallenges, overall.TotalShortlists, overall.AvgAMSChallenge,
		overall.AvgEmbeddingSim, overall.AvgMLScore, overall.ComputedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert ams_daily: %w", err)
	}

	for _, ch := range challenges {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ams_challenge_daily (date, challenge_id, shortlist_size, ams_challenge,
				avg_embedding_similarity, avg_ml_score, top_score, min_score, score_std, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ch.Date, ch.ChallengeID, ch.ShortlistSize, ch.AMSChallenge,
			ch.AvgEmbeddingSim, ch.AvgMLScore, ch.TopScore, ch.MinScore, ch.ScoreStd,
			ch.ComputedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert ams_challenge_daily for %s: %w", ch.ChallengeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit AMS day: %w", err)
	}

	logger.Info("AMS day written",
		zap.String("date", overall.Date),
		zap.Int("challenges", len(challenges)),
	)
	return nil
}

func (c *Client) GetAMSOverall(ctx context.Context, from, to string) ([]models.AMSOverall, error) {
	query := `
		SELECT date, total_challenges, total_shortlists, avg_ams_challenge,
			avg_embedding_similarity, avg_ml_score, computed_at
		FROM ams_daily
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := c.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query ams_daily: %w", err)
	}
	defer rows.Close()

	var records []models.AMSOverall
	for rows.Next() {
		var r models.AMSOverall
		var computedAt int64

		err := rows.Scan(&r.Date, &r.TotalChallenges, &r.TotalShortlists, &r.AvgAMSChallenge,
			&r.AvgEmbeddingSim, &r.AvgMLScore, &computedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ams row: %w", err)
		}

		r.ComputedAt = time.Unix(computedAt, 0).UTC()
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) GetAMSChallenges(ctx context.Context, date string) ([]models.AMSChallenge, error) {
	query := `
		SELECT date, challenge_id, shortlist_size, ams_challenge, avg_embedding_similarity,
			avg_ml_score, top_score, min_score, score_std, computed_at
		FROM ams_challenge_daily
		WHERE date = ?
		ORDER BY challenge_id ASC
	`

	rows, err := c.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query ams_challenge_daily: %w", err)
	}
	defer rows.Close()

	var records []models.AMSChallenge
	for rows.Next() {
		var r models.AMSChallenge
		var computedAt int64

		err := rows.Scan(&r.Date, &r.ChallengeID, &r.ShortlistSize, &r.AMSChallenge,
			&r.AvgEmbeddingSim, &r.AvgMLScore, &r.TopScore, &r.MinScore, &r.ScoreStd, &computedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ams challenge row: %w", err)
		}

		r.ComputedAt = time.Unix(computedAt, 0).UTC()
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetWatermark returns the stored watermark for a job, or the zero time when
// the job has never run.
func (c *Client) GetWatermark(ctx context.Context, job string) (time.Time, error) {
	var watermark int64
	err := c.db.QueryRowContext(ctx, `SELECT watermark FROM job_watermarks WHERE job = ?`, job).Scan(&watermark)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get watermark: %w", err)
	}

	return time.Unix(watermark, 0).UTC(), nil
}

func (c *Client) SetWatermark(ctx context.Context, job string, watermark time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO job_watermarks (job, watermark) VALUES (?, ?)
		ON CONFLICT(job) DO UPDATE SET watermark = excluded.watermark
	`, job, watermark.Unix())
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}

	logger.Debug("Watermark updated", zap.String("job", job), zap.Time("watermark", watermark))
	return nil
}

// UpsertProfile exists for fixtures and local seeding; production writes come
// from the upstream pipeline.
func (c *Client) UpsertProfile(ctx context.Context, p models.CandidateProfile) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO candidate_profiles (company_key, company_name, industry, country,
			apollo_score, domain_health_score, content_richness_score, profile_text, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_key) DO UPDATE SET
			company_name = excluded.company_name,
			industry = excluded.industry,
			country = excluded.country,
			apollo_score = excluded.apollo_score,
			domain_health_score = excluded.domain_health_score,
			content_richness_score = excluded.content_richness_score,
			profile_text = excluded.profile_text,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`, p.CompanyKey, p.CompanyName, p.Industry, p.Country, p.ApolloScore,
		p.DomainHealthScore, p.ContentRichnessScore, p.ProfileText, p.ContentHash, p.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	return nil
}
