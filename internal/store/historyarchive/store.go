package historyarchive

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/schema"
)

// Store archives completed ReviewPacks to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store backed by the provided pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const insertSQL = `
INSERT INTO review_packs (
    session_id, household_id, status, generated_at,
    total_cents, confidence_cart, confidence_data, payload
)
VALUES (
    @session_id, @household_id, @status, to_timestamp(@generated_at),
    @total_cents, @confidence_cart, @confidence_data, @payload::jsonb
)
ON CONFLICT (session_id) DO UPDATE SET
    status          = EXCLUDED.status,
    total_cents     = EXCLUDED.total_cents,
    confidence_cart = EXCLUDED.confidence_cart,
    confidence_data = EXCLUDED.confidence_data,
    payload         = EXCLUDED.payload;
`

// Archive persists a completed ReviewPack, upserting by SessionID so a
// re-finalized pack replaces its prior archive entry.
func (s *Store) Archive(ctx context.Context, pack schema.ReviewPack) error {
	payload, err := json.Marshal(pack)
	if err != nil {
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("encode review pack payload"), errs.WithCause(err))
	}
	args := pgx.NamedArgs{
		"session_id":      pack.SessionID,
		"household_id":    pack.HouseholdID,
		"status":          string(pack.Status),
		"generated_at":    float64(pack.GeneratedAtNano) / float64(time.Second),
		"total_cents":     pack.Cart.After.TotalPrice.Cents(),
		"confidence_cart": pack.Confidence.CartAccuracy,
		"confidence_data": pack.Confidence.DataQuality,
		"payload":         payload,
	}
	if _, err := s.pool.Exec(ctx, insertSQL, args); err != nil {
		return errs.New(errs.CategoryState, errs.TypeSyncFailed,
			errs.WithMessage("archive review pack"), errs.WithCause(err),
			errs.WithRecoverable(true), errs.WithRetryStrategy(errs.RetryExponentialNetwork))
	}
	return nil
}

const recentSQL = `
SELECT payload
FROM review_packs
WHERE household_id = @household_id
ORDER BY generated_at DESC
LIMIT @limit;
`

// Recent returns the most recently archived review packs for a household,
// newest first.
func (s *Store) Recent(ctx context.Context, householdID string, limit int) ([]schema.ReviewPack, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, recentSQL, pgx.NamedArgs{"household_id": householdID, "limit": limit})
	if err != nil {
		return nil, errs.New(errs.CategoryState, errs.TypeSyncFailed,
			errs.WithMessage("query review pack history"), errs.WithCause(err),
			errs.WithRecoverable(true), errs.WithRetryStrategy(errs.RetryExponentialNetwork))
	}
	defer rows.Close()

	var packs []schema.ReviewPack
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errs.New(errs.CategoryState, errs.TypeCorruption,
				errs.WithMessage("scan review pack row"), errs.WithCause(err))
		}
		var pack schema.ReviewPack
		if err := json.Unmarshal(raw, &pack); err != nil {
			return nil, errs.New(errs.CategoryState, errs.TypeCorruption,
				errs.WithMessage("decode archived review pack"), errs.WithCause(err))
		}
		packs = append(packs, pack)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.CategoryState, errs.TypeSyncFailed,
			errs.WithMessage("iterate review pack history"), errs.WithCause(err))
	}
	return packs, nil
}
