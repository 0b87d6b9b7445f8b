package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Repository defines long-term memory persistence operations.
type Repository interface {
	Upsert(ctx context.Context, rec *Record) error
	Search(ctx context.Context, principalID uuid.UUID, embedding []float32, limit int) ([]Match, error)
}

// PostgresRepository implements Repository using pgx + pgvector.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new memory repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Upsert writes a record keyed by its turn ID. Writing the same turn
// twice replaces its text and embedding, so retries are safe.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *Record) error {
	vec := pgvector.NewVector(rec.Embedding)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_memories (id, principal_id, chat_id, text, embedding)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET text = EXCLUDED.text, embedding = EXCLUDED.embedding`,
		rec.ID, rec.PrincipalID, rec.ChatID, rec.Text, vec,
	)
	if err != nil {
		return fmt.Errorf("upserting memory: %w", err)
	}
	return nil
}

// Search returns the closest records for a principal by cosine
// similarity, best first. Records of other principals never match.
func (r *PostgresRepository) Search(ctx context.Context, principalID uuid.UUID, embedding []float32, limit int) ([]Match, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := r.pool.Query(ctx,
		`SELECT id, principal_id, chat_id, text, created_at,
		        1 - (embedding <=> $1) AS similarity
		 FROM chat_memories
		 WHERE principal_id = $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		vec, principalID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	var results []Match
	for rows.Next() {
		var m Record
		var similarity float64
		if err := rows.Scan(&m.ID, &m.PrincipalID, &m.ChatID, &m.Text, &m.CreatedAt, &similarity); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		results = append(results, Match{Record: m, Similarity: similarity})
	}
	return results, rows.Err()
}
