package mapping

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const selectEnabled = `SELECT id::text, tenant, condition, action
FROM aoapi_mapping
WHERE tenant = $1 AND enabled
ORDER BY id`

// PostgresStore reads the aoapi_mapping table. condition and action are
// JSON columns.
type PostgresStore struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Load(ctx context.Context, tenant string) ([]Mapping, error) {
	rows, err := s.db.QueryContext(ctx, selectEnabled, tenant)
	if err != nil {
		return nil, fmt.Errorf("postgres: query mappings: %w", err)
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var (
			m            Mapping
			cond, action []byte
		)
		if err := rows.Scan(&m.ID, &m.Tenant, &cond, &action); err != nil {
			return nil, fmt.Errorf("postgres: scan mapping: %w", err)
		}
		if len(cond) > 0 {
			if err := json.Unmarshal(cond, &m.Condition); err != nil {
				return nil, fmt.Errorf("postgres: mapping %s condition: %w", m.ID, err)
			}
		}
		if err := json.Unmarshal(action, &m.Action); err != nil {
			return nil, fmt.Errorf("postgres: mapping %s action: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
