//go:build integration

package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:0.8.1-pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "aether_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/aether_test?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS "vector"`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		CREATE TABLE chat_memories (
			id UUID PRIMARY KEY,
			principal_id UUID NOT NULL,
			chat_id UUID NOT NULL,
			text TEXT NOT NULL,
			embedding vector(3) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	require.NoError(t, err)

	return pool
}

func TestPostgresRepository_UpsertAndSearch(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	principal := uuid.New()
	chatID := uuid.New()

	records := []*Record{
		{ID: uuid.New(), PrincipalID: principal, ChatID: chatID, Text: "likes hiking", Embedding: []float32{1, 0, 0}},
		{ID: uuid.New(), PrincipalID: principal, ChatID: chatID, Text: "lives in Lisbon", Embedding: []float32{0, 1, 0}},
		{ID: uuid.New(), PrincipalID: principal, ChatID: chatID, Text: "allergic to peanuts", Embedding: []float32{0, 0, 1}},
	}
	for _, rec := range records {
		require.NoError(t, repo.Upsert(ctx, rec))
	}

	matches, err := repo.Search(ctx, principal, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "likes hiking", matches[0].Record.Text)
	assert.InDelta(t, 1.0, matches[0].Similarity, 0.001)
}

func TestPostgresRepository_UpsertIsIdempotent(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	principal := uuid.New()
	rec := &Record{
		ID:          uuid.New(),
		PrincipalID: principal,
		ChatID:      uuid.New(),
		Text:        "original",
		Embedding:   []float32{1, 0, 0},
	}
	require.NoError(t, repo.Upsert(ctx, rec))

	rec.Text = "rewritten"
	require.NoError(t, repo.Upsert(ctx, rec))

	matches, err := repo.Search(ctx, principal, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "rewritten", matches[0].Record.Text)
}

func TestPostgresRepository_SearchFiltersByPrincipal(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()

	require.NoError(t, repo.Upsert(ctx, &Record{
		ID: uuid.New(), PrincipalID: alice, ChatID: uuid.New(),
		Text: "alice's secret", Embedding: []float32{1, 0, 0},
	}))
	require.NoError(t, repo.Upsert(ctx, &Record{
		ID: uuid.New(), PrincipalID: bob, ChatID: uuid.New(),
		Text: "bob's note", Embedding: []float32{1, 0, 0},
	}))

	matches, err := repo.Search(ctx, bob, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "bob's note", matches[0].Record.Text)
}
