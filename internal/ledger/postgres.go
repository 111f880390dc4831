package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// SQLSTATE codes treated as write conflicts.
const (
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

const entryColumns = `chain_key, seq, action, actor_kind, actor_id, resource_type, resource_id,
	metadata, created_at, link_hash, content_hash`

// PostgresStore persists chains to PostgreSQL. Appends to one chain key are
// serialised by a transaction-scoped advisory lock derived from the key, so
// unrelated chains never block each other.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	logger      *zap.Logger
}

// NewPostgresStore creates a PostgresStore. A non-positive lockTimeout
// selects DefaultLockTimeout.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration, logger *zap.Logger) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout, logger: logger}
}

// Append implements Store.
// It takes the chain's advisory lock, reads the tail, builds the entry and
// inserts it in one transaction. Nothing is written if any step fails.
func (s *PostgresStore) Append(ctx context.Context, chainKey string, build BuildFunc) (*Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ErrChainLookup, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// lock_timeout bounds the advisory lock wait below. Postgres reads 0 as
	// no limit, so sub-millisecond timeouts round up.
	timeout := lockTimeoutSetting(s.lockTimeout)
	if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", timeout); err != nil {
		return nil, fmt.Errorf("set lock_timeout: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", chainKey); err != nil {
		return nil, classify(chainKey, "acquire chain lock", err)
	}

	prev := Tail{ContentHash: GenesisHash}
	err = tx.QueryRow(ctx,
		"SELECT seq, content_hash FROM ledger_entries WHERE chain_key = $1 ORDER BY seq DESC LIMIT 1",
		chainKey,
	).Scan(&prev.Seq, &prev.ContentHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: read tail of %s: %v", ErrChainLookup, chainKey, err)
	}

	e, err := build(prev)
	if err != nil {
		return nil, err
	}
	e.Seq = prev.Seq + 1

	md, err := json.Marshal(e.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	var resType, resID *string
	if e.Resource != nil {
		resType, resID = &e.Resource.Type, &e.Resource.ID
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ChainKey, e.Seq, string(e.Action), string(e.Actor.Kind), e.Actor.ID,
		resType, resID, string(md), e.CreatedAt, e.LinkHash, e.ContentHash,
	); err != nil {
		return nil, classify(chainKey, "insert ledger entry", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(chainKey, "commit ledger tx", err)
	}
	return e, nil
}

// Tail implements Store.
func (s *PostgresStore) Tail(ctx context.Context, chainKey string) (Tail, error) {
	t := Tail{ContentHash: GenesisHash}
	err := s.pool.QueryRow(ctx,
		"SELECT seq, content_hash FROM ledger_entries WHERE chain_key = $1 ORDER BY seq DESC LIMIT 1",
		chainKey,
	).Scan(&t.Seq, &t.ContentHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Tail{}, fmt.Errorf("%w: read tail of %s: %v", ErrChainLookup, chainKey, err)
	}
	return t, nil
}

// Scan implements Store. Rows are streamed; the connection is held until
// the walk ends or the caller stops ranging.
func (s *PostgresStore) Scan(ctx context.Context, chainKey string) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		rows, err := s.pool.Query(ctx,
			`SELECT `+entryColumns+` FROM ledger_entries WHERE chain_key = $1 ORDER BY seq ASC`,
			chainKey,
		)
		if err != nil {
			yield(nil, fmt.Errorf("query ledger: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			s.logger.Warn("ledger scan interrupted", zap.String("chain_key", chainKey), zap.Error(err))
			yield(nil, fmt.Errorf("iterate ledger rows: %w", err))
		}
	}
}

// FindByHash implements Store.
func (s *PostgresStore) FindByHash(ctx context.Context, chainKey, contentHash string) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE chain_key = $1 AND content_hash = $2`,
		chainKey, contentHash,
	)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, contentHash, chainKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainLookup, err)
	}
	return e, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e                 Entry
		action, actorKind string
		resType, resID    *string
		md                []byte
	)
	if err := row.Scan(
		&e.ChainKey, &e.Seq, &action, &actorKind, &e.Actor.ID,
		&resType, &resID, &md, &e.CreatedAt, &e.LinkHash, &e.ContentHash,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan ledger row: %w", err)
	}
	e.Action = ActionKind(action)
	e.Actor.Kind = ActorKind(actorKind)
	if resType != nil || resID != nil {
		e.Resource = &ResourceRef{}
		if resType != nil {
			e.Resource.Type = *resType
		}
		if resID != nil {
			e.Resource.ID = *resID
		}
	}
	if err := json.Unmarshal(md, &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for seq %d: %w", e.Seq, err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// lockTimeoutSetting renders d as a lock_timeout value of at least 1ms.
func lockTimeoutSetting(d time.Duration) string {
	return strconv.FormatInt(max(d.Milliseconds(), 1), 10) + "ms"
}

// classify maps lock and uniqueness failures to ErrChainWriteConflict.
func classify(chainKey, op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s: %s: %s", ErrChainWriteConflict, chainKey, op, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %s: %v", ErrChainWriteConflict, chainKey, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
