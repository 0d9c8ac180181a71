package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrEthical07/goRotate/session"
)

// Register implements [session.Registry].
func (s *Store) Register(ctx context.Context, rec session.Record) error {
	const op = "session.postgres.Register"

	if err := rec.Validate(s.now()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	query := `
        INSERT INTO refresh_tokens(token_id, subject, family, issued_at, expires_at, revoked)
        VALUES ($1, $2, $3, $4, $5, FALSE)
    `

	_, err := s.db.Exec(ctx, query,
		rec.TokenID,
		rec.Subject,
		rec.Family,
		rec.IssuedAt.UTC(),
		rec.ExpiresAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, session.ErrDuplicateToken)
		}
		return fmt.Errorf("%s: %w", op, session.Unavailable(err))
	}

	return nil
}

// Lookup implements [session.Registry].
func (s *Store) Lookup(ctx context.Context, tokenID string) (*session.Record, error) {
	const op = "session.postgres.Lookup"

	query := `
        SELECT token_id, subject, family, issued_at, expires_at, revoked
        FROM refresh_tokens
        WHERE token_id = $1
    `

	var rec session.Record
	err := s.db.QueryRow(ctx, query, tokenID).Scan(
		&rec.TokenID,
		&rec.Subject,
		&rec.Family,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&rec.Revoked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, session.Unavailable(err))
	}

	if rec.Revoked {
		return nil, nil
	}

	now := s.now()
	if rec.Expired(now) {
		if err := s.deleteExpired(ctx, tokenID, now); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return nil, nil
	}

	return &rec, nil
}

// Consume implements [session.Registry]. The conditional DELETE takes the row
// lock, so only one concurrent caller observes RowsAffected() == 1.
func (s *Store) Consume(ctx context.Context, tokenID string) (bool, error) {
	const op = "session.postgres.Consume"

	query := `
        DELETE FROM refresh_tokens
        WHERE token_id = $1 AND revoked = FALSE AND expires_at >= $2
    `

	now := s.now()
	tag, err := s.db.Exec(ctx, query, tokenID, now.UTC())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, session.Unavailable(err))
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	if err := s.deleteExpired(ctx, tokenID, now); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return false, nil
}

// lockFamily serializes Rotate and RevokeFamily on one family for the rest of
// tx. Under READ COMMITTED a revoking UPDATE that started before a rotation
// committed would not see the successor row.
func lockFamily(ctx context.Context, tx pgx.Tx, family string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, family)
	return err
}

// Rotate implements [session.Registry]. The successor is inserted and the old
// row deleted in one transaction holding the family lock.
func (s *Store) Rotate(ctx context.Context, oldTokenID string, next session.Record) (bool, error) {
	const op = "session.postgres.Rotate"

	now := s.now()
	if err := next.Validate(now); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	deleteOld := `
        DELETE FROM refresh_tokens
        WHERE token_id = $1 AND subject = $2 AND family = $3
          AND revoked = FALSE AND expires_at >= $4
    `
	insertNext := `
        INSERT INTO refresh_tokens(token_id, subject, family, issued_at, expires_at, revoked)
        VALUES ($1, $2, $3, $4, $5, FALSE)
    `

	rotated := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := lockFamily(ctx, tx, next.Family); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, deleteOld, oldTokenID, next.Subject, next.Family, now.UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		if _, err := tx.Exec(ctx, insertNext,
			next.TokenID,
			next.Subject,
			next.Family,
			next.IssuedAt.UTC(),
			next.ExpiresAt.UTC(),
		); err != nil {
			return err
		}
		rotated = true
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return false, fmt.Errorf("%s: %w", op, session.ErrDuplicateToken)
		}
		return false, fmt.Errorf("%s: %w", op, session.Unavailable(err))
	}
	if rotated {
		return true, nil
	}

	if err := s.deleteExpired(ctx, oldTokenID, now); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return false, nil
}

// RevokeFamily implements [session.Registry].
func (s *Store) RevokeFamily(ctx context.Context, family string) (int, error) {
	const op = "session.postgres.RevokeFamily"

	query := `
        UPDATE refresh_tokens
        SET revoked = TRUE
        WHERE family = $1 AND revoked = FALSE
    `

	var revoked int64
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := lockFamily(ctx, tx, family); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, query, family)
		if err != nil {
			return err
		}
		revoked = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, session.Unavailable(err))
	}
	return int(revoked), nil
}

// FamiliesForSubject implements [session.Registry].
func (s *Store) FamiliesForSubject(ctx context.Context, subject string) ([]string, error) {
	const op = "session.postgres.FamiliesForSubject"

	query := `
        SELECT DISTINCT family
        FROM refresh_tokens
        WHERE subject = $1
        ORDER BY family
    `

	rows, err := s.db.Query(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, session.Unavailable(err))
	}

	families, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, session.Unavailable(err))
	}
	return families, nil
}

// SweepExpired implements [session.Registry]. Rows are deleted in batches so a
// large backlog does not hold one long transaction.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	const op = "session.postgres.SweepExpired"

	query := `
        DELETE FROM refresh_tokens
        WHERE token_id IN (
            SELECT token_id FROM refresh_tokens
            WHERE expires_at < $1
            LIMIT $2
        )
    `

	now := s.now().UTC()
	removed := 0
	for {
		tag, err := s.db.Exec(ctx, query, now, sweepBatch)
		if err != nil {
			return removed, fmt.Errorf("%s: %w", op, session.Unavailable(err))
		}
		n := int(tag.RowsAffected())
		removed += n
		if n < sweepBatch {
			return removed, nil
		}
	}
}

// Stats implements [session.Registry].
func (s *Store) Stats(ctx context.Context) (session.Stats, error) {
	const op = "session.postgres.Stats"

	query := `
        SELECT count(*), count(*) FILTER (WHERE revoked = FALSE AND expires_at >= $1)
        FROM refresh_tokens
    `

	var total, active int64
	if err := s.db.QueryRow(ctx, query, s.now().UTC()).Scan(&total, &active); err != nil {
		return session.Stats{}, fmt.Errorf("%s: %w", op, session.Unavailable(err))
	}
	return session.Stats{Total: int(total), Active: int(active)}, nil
}

// Ping implements [session.Registry].
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.db.Ping(ctx); err != nil {
		return time.Since(start), fmt.Errorf("session.postgres.Ping: %w", session.Unavailable(err))
	}
	return time.Since(start), nil
}

func (s *Store) deleteExpired(ctx context.Context, tokenID string, now time.Time) error {
	query := `
        DELETE FROM refresh_tokens
        WHERE token_id = $1 AND revoked = FALSE AND expires_at < $2
    `

	if _, err := s.db.Exec(ctx, query, tokenID, now.UTC()); err != nil {
		return session.Unavailable(err)
	}
	return nil
}
