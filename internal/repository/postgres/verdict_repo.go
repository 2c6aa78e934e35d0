// Package postgres persists scored verdicts for audit and lookup.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"fraud_scorer/internal/domain"
	"fraud_scorer/internal/repository"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ repository.VerdictRepository = (*VerdictRepository)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS risk_verdicts (
	event_id          TEXT PRIMARY KEY,
	card_fingerprint  TEXT NOT NULL,
	rule_score        DOUBLE PRECISION NOT NULL,
	heuristic_score   DOUBLE PRECISION NOT NULL,
	final_score       DOUBLE PRECISION NOT NULL,
	label             TEXT NOT NULL,
	category_mismatch BOOLEAN NOT NULL,
	expected_category TEXT NOT NULL DEFAULT '',
	geo_invalid       BOOLEAN NOT NULL,
	amount_high       BOOLEAN NOT NULL,
	velocity_burst    BOOLEAN NOT NULL,
	high_amount       BOOLEAN NOT NULL,
	explanation       TEXT NOT NULL,
	advisory_used     BOOLEAN NOT NULL,
	degraded          BOOLEAN NOT NULL,
	scored_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS risk_verdicts_scored_at_idx ON risk_verdicts (scored_at DESC);
`

const selectColumns = `event_id, card_fingerprint, rule_score, heuristic_score, final_score, label,
	category_mismatch, expected_category, geo_invalid, amount_high, velocity_burst, high_amount,
	explanation, advisory_used, degraded, scored_at`

type VerdictRepository struct {
	pool *pgxpool.Pool
}

func NewVerdictRepository(pool *pgxpool.Pool) *VerdictRepository {
	return &VerdictRepository{pool: pool}
}

// NewPool opens a pool and verifies connectivity within 5 seconds.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func (r *VerdictRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create verdict schema: %w", err)
	}
	return nil
}

func (r *VerdictRepository) Save(ctx context.Context, v *domain.Verdict) error {
	query := `
		INSERT INTO risk_verdicts (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.pool.Exec(ctx, query,
		v.EventID,
		v.Fingerprint,
		v.RuleScore,
		v.HeuristicScore,
		v.FinalScore,
		string(v.Label),
		v.Flags.CategoryMismatch,
		v.Flags.ExpectedCategory,
		v.Flags.GeoInvalid,
		v.Flags.AmountHigh,
		v.Flags.VelocityBurst,
		v.Flags.HighAmount,
		v.Explanation,
		v.AdvisoryUsed,
		v.Degraded,
		v.ScoredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: verdict %s", repository.ErrDuplicate, v.EventID)
		}
		return fmt.Errorf("failed to save verdict: %w", err)
	}
	return nil
}

func (r *VerdictRepository) GetByEventID(ctx context.Context, eventID string) (*domain.Verdict, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM risk_verdicts WHERE event_id = $1`, eventID)

	v, err := scanVerdict(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: verdict %s", repository.ErrNotFound, eventID)
		}
		return nil, fmt.Errorf("failed to get verdict: %w", err)
	}
	return v, nil
}

func (r *VerdictRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Verdict, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `SELECT `+selectColumns+` FROM risk_verdicts ORDER BY scored_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer rows.Close()

	var result []*domain.Verdict
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verdicts: %w", err)
	}
	return result, nil
}

func (r *VerdictRepository) CountByLabel(ctx context.Context) (map[domain.RiskLabel]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT label, COUNT(*) FROM risk_verdicts GROUP BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to count verdicts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RiskLabel]int)
	for rows.Next() {
		var (
			label string
			count int
		)
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan label count: %w", err)
		}
		counts[domain.RiskLabel(label)] = count
	}
	return counts, rows.Err()
}

func scanVerdict(row pgx.Row) (*domain.Verdict, error) {
	var (
		v     domain.Verdict
		label string
	)
	err := row.Scan(
		&v.EventID,
		&v.Fingerprint,
		&v.RuleScore,
		&v.HeuristicScore,
		&v.FinalScore,
		&label,
		&v.Flags.CategoryMismatch,
		&v.Flags.ExpectedCategory,
		&v.Flags.GeoInvalid,
		&v.Flags.AmountHigh,
		&v.Flags.VelocityBurst,
		&v.Flags.HighAmount,
		&v.Explanation,
		&v.AdvisoryUsed,
		&v.Degraded,
		&v.ScoredAt,
	)
	if err != nil {
		return nil, err
	}
	v.Label = domain.RiskLabel(label)
	return &v, nil
}
