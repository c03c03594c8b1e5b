package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

// flexibleSQL quotes a query for pgxmock while tolerating whitespace drift.
func flexibleSQL(sql string) string {
	quoted := regexp.QuoteMeta(strings.TrimSpace(sql))
	return regexp.MustCompile(`\s+`).ReplaceAllString(quoted, `\s+`)
}

func testNodes() []schemas.Node {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []schemas.Node{
		{
			ID: "node-1",
			Identity: schemas.IdentityComponents{
				UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.71 Safari/537.36",
				Browser:   schemas.BrowserChrome,
				Platform:  schemas.PlatformWindows,
			},
			Fingerprint: &schemas.Fingerprint{ID: "fp-1", Data: map[string]any{"timezone": "UTC"}},
			Region:      "us-east",
			SuccessRate: 0.9,
			CreatedAt:   now,
			Active:      true,
		},
		{
			ID: "node-2",
			Identity: schemas.IdentityComponents{
				UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
				Browser:   schemas.BrowserFirefox,
				Platform:  schemas.PlatformLinux,
			},
			Region:      "eu-west",
			SuccessRate: 1,
			CreatedAt:   now,
			Active:      true,
		},
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSavePool(t *testing.T) {
	ctx := context.Background()

	t.Run("should replace the snapshot in one transaction", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta(`DELETE FROM pool_nodes;`)).
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		mockPool.ExpectCopyFrom(pgx.Identifier{"pool_nodes"}, poolNodeColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()

		require.NoError(t, store.SavePool(ctx, testNodes()))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback when the copy fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		copyErr := errors.New("copy interrupted")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta(`DELETE FROM pool_nodes;`)).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"pool_nodes"}, poolNodeColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err = store.SavePool(ctx, testNodes())
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject a short copy count", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(regexp.QuoteMeta(`DELETE FROM pool_nodes;`)).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"pool_nodes"}, poolNodeColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err = store.SavePool(ctx, testNodes())
		require.ErrorContains(t, err, "mismatch in copied node count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err = store.SavePool(ctx, testNodes())
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestLoadPool(t *testing.T) {
	ctx := context.Background()

	sqlLoadPool := `
		SELECT id, identity, fingerprint, region, request_count, error_count,
		       success_rate, created_at, last_used_at, cooldown_until, active
		FROM pool_nodes
		ORDER BY position ASC;
	`
	columns := []string{
		"id", "identity", "fingerprint", "region", "request_count", "error_count",
		"success_rate", "created_at", "last_used_at", "cooldown_until", "active",
	}

	t.Run("should restore nodes in their saved order", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		rows := pgxmock.NewRows(columns).
			AddRow("node-1",
				[]byte(`{"user_agent":"Mozilla/5.0 restored","browser":"chrome","platform":"windows","device_type":"desktop"}`),
				[]byte(`{"id":"fp-1","data":{"timezone":"UTC"}}`),
				"us-east", 12, 1, 0.85, now, now, time.Time{}, true).
			AddRow("node-2",
				[]byte(`{"user_agent":"Mozilla/5.0 restored too","browser":"firefox","platform":"linux","device_type":"desktop"}`),
				[]byte(nil),
				"eu-west", 0, 0, 1.0, now, time.Time{}, time.Time{}, true)

		mockPool.ExpectQuery(flexibleSQL(sqlLoadPool)).WillReturnRows(rows)

		nodes, err := store.LoadPool(ctx)
		require.NoError(t, err)
		require.Len(t, nodes, 2)

		assert.Equal(t, "node-1", nodes[0].ID)
		assert.Equal(t, schemas.BrowserChrome, nodes[0].Identity.Browser)
		require.NotNil(t, nodes[0].Fingerprint)
		assert.Equal(t, "fp-1", nodes[0].Fingerprint.ID)
		assert.Equal(t, "UTC", nodes[0].Fingerprint.Data["timezone"])
		assert.Equal(t, 12, nodes[0].RequestCount)
		assert.InDelta(t, 0.85, nodes[0].SuccessRate, 1e-9)
		assert.True(t, nodes[0].Active)

		assert.Equal(t, "node-2", nodes[1].ID)
		assert.Equal(t, schemas.BrowserFirefox, nodes[1].Identity.Browser)
		assert.Nil(t, nodes[1].Fingerprint, "Row without a fingerprint should stay nil")
		assert.True(t, nodes[1].CooldownUntil.IsZero())

		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return an empty pool for an empty table", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectQuery(flexibleSQL(sqlLoadPool)).WillReturnRows(pgxmock.NewRows(columns))

		nodes, err := store.LoadPool(ctx)
		require.NoError(t, err)
		assert.Empty(t, nodes)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should surface a corrupt identity payload", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		rows := pgxmock.NewRows(columns).
			AddRow("node-1", []byte(`{not json`), []byte(nil),
				"us-east", 0, 0, 1.0, now, time.Time{}, time.Time{}, true)

		mockPool.ExpectQuery(flexibleSQL(sqlLoadPool)).WillReturnRows(rows)

		_, err = store.LoadPool(ctx)
		require.ErrorContains(t, err, "failed to decode identity for node node-1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestArchiveBatch(t *testing.T) {
	ctx := context.Background()

	sqlArchive := `
		INSERT INTO batches (id, requested, succeeded, failed, total_time_ms,
		                     avg_gen_time_ms, unique_identities, errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`

	batch := &schemas.BatchResult{
		BatchID: "batch-7",
		Results: []schemas.GenerationResult{
			{
				Identity: schemas.IdentityComponents{
					UserAgent: "Mozilla/5.0 archived one",
					Browser:   schemas.BrowserChrome,
					Platform:  schemas.PlatformWindows,
				},
				Meta: schemas.GenerationMeta{BatchID: "batch-7", Index: 0, Duration: 5 * time.Millisecond},
			},
			{
				Identity: schemas.IdentityComponents{
					UserAgent: "Mozilla/5.0 archived two",
					Browser:   schemas.BrowserFirefox,
					Platform:  schemas.PlatformLinux,
				},
				Fingerprint: &schemas.Fingerprint{ID: "fp-2", Data: map[string]any{"timezone": "UTC"}},
				Meta:        schemas.GenerationMeta{BatchID: "batch-7", Index: 1, Duration: 7 * time.Millisecond},
			},
		},
		Errors: []schemas.BatchError{
			{Index: 2, Message: "synthetic failure", Kind: schemas.BatchErrorGeneration},
		},
		Stats: schemas.BatchStats{
			Requested:        3,
			Succeeded:        2,
			Failed:           1,
			TotalTime:        2 * time.Second,
			AvgGenTime:       6 * time.Millisecond,
			UniqueIdentities: 2,
		},
	}

	t.Run("should archive the summary and every result", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQL(sqlArchive)).
			WithArgs("batch-7", 3, 2, 1, int64(2000), int64(6), 2, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"batch_results"}, batchResultColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()

		require.NoError(t, store.ArchiveBatch(ctx, batch))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should skip the copy for a batch with no results", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		empty := &schemas.BatchResult{
			BatchID: "batch-8",
			Errors:  []schemas.BatchError{{Index: 0, Message: "no capacity", Kind: schemas.BatchErrorChunk}},
			Stats:   schemas.BatchStats{Requested: 1, Failed: 1},
		}

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQL(sqlArchive)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, store.ArchiveBatch(ctx, empty))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback when the summary insert fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		insertErr := errors.New("constraint violation")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQL(sqlArchive)).WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err = store.ArchiveBatch(ctx, batch)
		require.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestListBatches(t *testing.T) {
	ctx := context.Background()

	sqlList := `
		SELECT id, requested, succeeded, failed, total_time_ms,
		       avg_gen_time_ms, unique_identities, created_at
		FROM batches
		ORDER BY created_at DESC
		LIMIT $1;
	`
	columns := []string{
		"id", "requested", "succeeded", "failed", "total_time_ms",
		"avg_gen_time_ms", "unique_identities", "created_at",
	}

	t.Run("should list archived batches newest first", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		newest := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
		rows := pgxmock.NewRows(columns).
			AddRow("batch-9", 50, 49, 1, int64(1200), int64(24), 47, newest).
			AddRow("batch-8", 10, 10, 0, int64(300), int64(30), 10, newest.Add(-time.Hour))

		mockPool.ExpectQuery(flexibleSQL(sqlList)).
			WithArgs(20).
			WillReturnRows(rows)

		records, err := store.ListBatches(ctx, 20)
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, "batch-9", records[0].ID)
		assert.Equal(t, 50, records[0].Requested)
		assert.Equal(t, int64(1200), records[0].TotalTimeMS)
		assert.Equal(t, "batch-8", records[1].ID)
		assert.Equal(t, 0, records[1].Failed)

		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should propagate query errors", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		mockPool.ExpectPing().WillReturnError(nil)
		store, err := New(ctx, mockPool, zap.NewNop())
		require.NoError(t, err)

		queryErr := errors.New("relation does not exist")
		mockPool.ExpectQuery(flexibleSQL(sqlList)).WillReturnError(queryErr)

		_, err = store.ListBatches(ctx, 20)
		require.ErrorIs(t, err, queryErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
