package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound        = errors.New("catalog: pool metadata not found")
	ErrInvalidMetadata = errors.New("catalog: name, image and description are required")
)

// PoolMeta is the display metadata of a pool.
type PoolMeta struct {
	PoolID      string    `json:"pool_id"`
	Admin       string    `json:"admin"`
	Name        string    `json:"name"`
	Image       string    `json:"image"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that every display field is filled in.
func (m PoolMeta) Validate() error {
	if m.PoolID == "" || m.Admin == "" {
		return fmt.Errorf("%w: pool id and admin required", ErrInvalidMetadata)
	}
	if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Image) == "" || strings.TrimSpace(m.Description) == "" {
		return ErrInvalidMetadata
	}
	return nil
}

// Store persists PoolMeta rows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const poolCols = `pool_id, admin, name, image, description, created_at`

// Upsert inserts or updates the metadata of a pool.
func (s *Store) Upsert(ctx context.Context, m PoolMeta) error {
	if err := m.Validate(); err != nil {
		return err
	}
	const query = `
		INSERT INTO pools (pool_id, admin, name, image, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (pool_id) DO UPDATE SET
			name        = EXCLUDED.name,
			image       = EXCLUDED.image,
			description = EXCLUDED.description,
			updated_at  = NOW()`
	if _, err := s.pool.Exec(ctx, query, m.PoolID, m.Admin, m.Name, m.Image, m.Description); err != nil {
		return fmt.Errorf("catalog: upsert pool %s: %w", m.PoolID, err)
	}
	return nil
}

// Get returns the metadata of a pool.
func (s *Store) Get(ctx context.Context, poolID string) (*PoolMeta, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+poolCols+` FROM pools WHERE pool_id = $1`, poolID)
	m, err := scanPool(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: get pool %s: %w", poolID, err)
	}
	return m, nil
}

// List returns pools newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*PoolMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolCols+` FROM pools ORDER BY created_at DESC, pool_id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("catalog: list pools: %w", err)
	}
	defer rows.Close()

	var out []*PoolMeta
	for rows.Next() {
		m, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan pool: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list pools: %w", err)
	}
	return out, nil
}

func scanPool(row pgx.Row) (*PoolMeta, error) {
	var m PoolMeta
	if err := row.Scan(&m.PoolID, &m.Admin, &m.Name, &m.Image, &m.Description, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
