package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MrEthical07/goRotate/session"
	"github.com/MrEthical07/goRotate/session/registrytest"
)

// Integration tests start a real PostgreSQL via testcontainers-go and apply
// the embedded goose migrations. Run locally with:
//
//	GO_TEST_INTEGRATION=1 go test ./session/postgres -v -race -count=1
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	var st *Store
	require.Eventually(t, func() bool {
		st, err = New(ctx, dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond, "connect: %v", err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(st.Close)

	return st.db
}

func TestIntegration_Conformance(t *testing.T) {
	pool := startPostgres(t)

	registrytest.Run(t, registrytest.Harness{
		New: func(t *testing.T, clock *registrytest.Clock) session.Registry {
			_, err := pool.Exec(context.Background(), "TRUNCATE refresh_tokens")
			require.NoError(t, err)
			return NewWithPool(pool, session.WithClock(clock.Now))
		},
	})
}

func TestIntegration_MigrateIsIdempotent(t *testing.T) {
	pool := startPostgres(t)
	st := NewWithPool(pool)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestIntegration_CanceledContextIsStoreFailure(t *testing.T) {
	pool := startPostgres(t)
	st := NewWithPool(pool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := st.Lookup(ctx, "tok-1")
	require.Nil(t, rec)
	require.ErrorIs(t, err, session.ErrStoreUnavailable)
	require.True(t, errors.Is(err, context.Canceled), "cause must remain visible: %v", err)
}

func TestIntegration_SweepCrossesBatchBoundary(t *testing.T) {
	pool := startPostgres(t)
	clock := registrytest.NewClock(time.Now())
	st := NewWithPool(pool, session.WithClock(clock.Now))
	ctx := context.Background()

	const n = sweepBatch + 7
	now := clock.Now().UTC()
	_, err := pool.Exec(ctx, `
        INSERT INTO refresh_tokens(token_id, subject, family, issued_at, expires_at)
        SELECT 'tok-' || g, 'user-1', 'fam-1', $1, $2
        FROM generate_series(1, $3) AS g
    `, now, now.Add(time.Minute), n)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	removed, err := st.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, n, removed)
}
