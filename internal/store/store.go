// Package store persists pool snapshots and batch archives to PostgreSQL.
// It writes to three tables: pool_nodes (the current pool, replaced
// wholesale on every save), batches (one summary row per batch), and
// batch_results (one row per generated identity).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides the PostgreSQL persistence layer.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

var poolNodeColumns = []string{
	"id", "position", "identity", "fingerprint", "region",
	"request_count", "error_count", "success_rate",
	"created_at", "last_used_at", "cooldown_until", "active",
}

// SavePool replaces the stored pool snapshot with the given nodes. The whole
// replacement runs in one transaction so a reader never sees a half pool.
func (s *Store) SavePool(ctx context.Context, nodes []schemas.Node) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM pool_nodes;`); err != nil {
		return fmt.Errorf("failed to clear pool snapshot: %w", err)
	}

	rows := make([][]interface{}, len(nodes))
	for i, n := range nodes {
		identity, err := json.Marshal(n.Identity)
		if err != nil {
			return fmt.Errorf("failed to encode identity for node %s: %w", n.ID, err)
		}
		var fingerprint []byte
		if n.Fingerprint != nil {
			if fingerprint, err = json.Marshal(n.Fingerprint); err != nil {
				return fmt.Errorf("failed to encode fingerprint for node %s: %w", n.ID, err)
			}
		}
		rows[i] = []interface{}{
			n.ID, i, identity, fingerprint, n.Region,
			n.RequestCount, n.ErrorCount, n.SuccessRate,
			n.CreatedAt, n.LastUsedAt, n.CooldownUntil, n.Active,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"pool_nodes"}, poolNodeColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy pool nodes: %w", err)
	}
	if int(copyCount) != len(nodes) {
		return fmt.Errorf("mismatch in copied node count: expected %d, got %d", len(nodes), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Pool snapshot saved", zap.Int("nodes", len(nodes)))
	return nil
}

// LoadPool returns the stored pool snapshot in its saved order. An empty
// table yields an empty slice, not an error.
func (s *Store) LoadPool(ctx context.Context) ([]schemas.Node, error) {
	query := `
        SELECT id, identity, fingerprint, region, request_count, error_count,
               success_rate, created_at, last_used_at, cooldown_until, active
        FROM pool_nodes
        ORDER BY position ASC;
    `
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pool snapshot: %w", err)
	}
	defer rows.Close()

	var nodes []schemas.Node
	for rows.Next() {
		var (
			n           schemas.Node
			identity    []byte
			fingerprint []byte
		)
		err := rows.Scan(
			&n.ID, &identity, &fingerprint, &n.Region,
			&n.RequestCount, &n.ErrorCount, &n.SuccessRate,
			&n.CreatedAt, &n.LastUsedAt, &n.CooldownUntil, &n.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		if err := json.Unmarshal(identity, &n.Identity); err != nil {
			return nil, fmt.Errorf("failed to decode identity for node %s: %w", n.ID, err)
		}
		if len(fingerprint) > 0 {
			var fp schemas.Fingerprint
			if err := json.Unmarshal(fingerprint, &fp); err != nil {
				return nil, fmt.Errorf("failed to decode fingerprint for node %s: %w", n.ID, err)
			}
			n.Fingerprint = &fp
		}
		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return nodes, nil
}

var batchResultColumns = []string{
	"batch_id", "idx", "user_agent", "browser", "platform", "device_type",
	"identity", "fingerprint", "generated_in_ms", "created_at",
}

// ArchiveBatch records a completed batch: one summary row plus one row per
// generated identity.
func (s *Store) ArchiveBatch(ctx context.Context, batch *schemas.BatchResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	batchErrs := json.RawMessage("[]")
	if len(batch.Errors) > 0 {
		if batchErrs, err = json.Marshal(batch.Errors); err != nil {
			return fmt.Errorf("failed to encode batch errors: %w", err)
		}
	}

	summary := `
        INSERT INTO batches (id, requested, succeeded, failed, total_time_ms,
                             avg_gen_time_ms, unique_identities, errors, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `
	_, err = tx.Exec(ctx, summary,
		batch.BatchID, batch.Stats.Requested, batch.Stats.Succeeded, batch.Stats.Failed,
		batch.Stats.TotalTime.Milliseconds(), batch.Stats.AvgGenTime.Milliseconds(),
		batch.Stats.UniqueIdentities, batchErrs, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch summary: %w", err)
	}

	if len(batch.Results) > 0 {
		rows := make([][]interface{}, len(batch.Results))
		for i, r := range batch.Results {
			identity, err := json.Marshal(r.Identity)
			if err != nil {
				return fmt.Errorf("failed to encode identity at index %d: %w", r.Meta.Index, err)
			}
			var fingerprint []byte
			if r.Fingerprint != nil {
				if fingerprint, err = json.Marshal(r.Fingerprint); err != nil {
					return fmt.Errorf("failed to encode fingerprint at index %d: %w", r.Meta.Index, err)
				}
			}
			rows[i] = []interface{}{
				batch.BatchID, r.Meta.Index, r.Identity.UserAgent,
				string(r.Identity.Browser), string(r.Identity.Platform), string(r.Identity.DeviceType),
				identity, fingerprint,
				r.Meta.Duration.Milliseconds(), r.Meta.CreatedAt,
			}
		}

		copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"batch_results"}, batchResultColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy batch results: %w", err)
		}
		if int(copyCount) != len(batch.Results) {
			return fmt.Errorf("mismatch in copied result count: expected %d, got %d", len(batch.Results), copyCount)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Batch archived",
		zap.String("batch_id", batch.BatchID),
		zap.Int("results", len(batch.Results)))
	return nil
}

// ListBatches returns archived batch summaries, newest first.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]schemas.BatchRecord, error) {
	query := `
        SELECT id, requested, succeeded, failed, total_time_ms,
               avg_gen_time_ms, unique_identities, created_at
        FROM batches
        ORDER BY created_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	var records []schemas.BatchRecord
	for rows.Next() {
		var rec schemas.BatchRecord
		err := rows.Scan(
			&rec.ID, &rec.Requested, &rec.Succeeded, &rec.Failed,
			&rec.TotalTimeMS, &rec.AvgGenTimeMS, &rec.UniqueIdentities, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
