package store

import (
	"context"
	"time"

	"github.com/aarondl/sqlboiler/v4/queries"
	"github.com/pkg/errors"
)

// GetScanCursor returns the last height covered for a chain, or defaultHeight
// when the chain has never been scanned.
func (s *Store) GetScanCursor(ctx context.Context, chainID string, defaultHeight int64) (int64, error) {
	var c ScanCursor
	err := queries.Raw(`SELECT * FROM scan_cursors WHERE chain_id = $1`, chainID).Bind(ctx, s.db, &c)
	if err != nil {
		err = wrapNotFound(err, "failed to load scan cursor")
		if errors.Is(err, ErrNotFound) {
			return defaultHeight, nil
		}

		return 0, err
	}

	return c.LastHeight, nil
}

// AdvanceScanCursor persists a new last height. The cursor only moves
// forward; a stale writer racing a fresher one loses silently.
func (s *Store) AdvanceScanCursor(ctx context.Context, chainID string, height int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_cursors (chain_id, last_height, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (chain_id) DO UPDATE SET last_height = EXCLUDED.last_height, updated_at = now()
		 WHERE scan_cursors.last_height < EXCLUDED.last_height`,
		chainID, height,
	)

	return errors.Wrap(err, "failed to advance scan cursor")
}

// AcquireLease takes or renews a named lease for the holder. It returns
// false when another holder owns an unexpired lease. This is the
// single-flight guard that keeps one scan per chain across replicas.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_leases (name, holder, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		 WHERE scan_leases.holder = EXCLUDED.holder OR scan_leases.expires_at < now()`,
		name, holder, time.Now().Add(ttl),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to acquire lease")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}

	return n == 1, nil
}

// ReleaseLease drops the holder's lease so the next cycle can start early.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scan_leases WHERE name = $1 AND holder = $2`,
		name, holder,
	)

	return errors.Wrap(err, "failed to release lease")
}
