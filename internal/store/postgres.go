package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"coscribe/internal/models"
)

// PostgresStore persists rooms in two tables: `{prefix}rooms` holding the
// state envelope as JSONB, and `{prefix}doc_snapshots` holding raw CRDT
// snapshots per section. The prefix keeps environments apart in a shared
// database, same as the table-prefix scheme used for the rest of the stack.
type PostgresStore struct {
	pool          *pgxpool.Pool
	roomsTable    string
	snapshotTable string
}

// CreateConnectionPool builds a pgx pool with sane limits for a single
// coordinator process.
func CreateConnectionPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgresStore wraps a pool and bootstraps the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, tablePrefix string) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:          pool,
		roomsTable:    tablePrefix + "rooms",
		snapshotTable: tablePrefix + "doc_snapshots",
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			state      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.roomsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			room_id    TEXT NOT NULL,
			section_id TEXT NOT NULL,
			snapshot   BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (room_id, section_id)
		)`, s.snapshotTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

// LoadRoomState implements RoomStore.
func (s *PostgresStore) LoadRoomState(ctx context.Context, roomID string) (*models.RoomState, error) {
	var data []byte
	query := fmt.Sprintf(`SELECT state FROM %s WHERE id = $1`, s.roomsTable)
	err := s.pool.QueryRow(ctx, query, roomID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}

	state, migrated, err := DecodeRoomState(data)
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	if migrated {
		if err := s.SaveRoomState(ctx, roomID, state); err != nil {
			return nil, fmt.Errorf("persist migrated room %s: %w", roomID, err)
		}
	}
	return state, nil
}

// SaveRoomState implements RoomStore.
func (s *PostgresStore) SaveRoomState(ctx context.Context, roomID string, state *models.RoomState) error {
	data, err := EncodeRoomState(state)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, state, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
	`, s.roomsTable)
	if _, err := s.pool.Exec(ctx, query, roomID, data); err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

// SaveDocSnapshot implements RoomStore.
func (s *PostgresStore) SaveDocSnapshot(ctx context.Context, roomID, sectionID string, snapshot []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (room_id, section_id, snapshot, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (room_id, section_id) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = now()
	`, s.snapshotTable)
	if _, err := s.pool.Exec(ctx, query, roomID, sectionID, snapshot); err != nil {
		return fmt.Errorf("save doc snapshot %s/%s: %w", roomID, sectionID, err)
	}
	return nil
}

// LoadDocSnapshot implements RoomStore.
func (s *PostgresStore) LoadDocSnapshot(ctx context.Context, roomID, sectionID string) ([]byte, error) {
	var data []byte
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE room_id = $1 AND section_id = $2`, s.snapshotTable)
	err := s.pool.QueryRow(ctx, query, roomID, sectionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load doc snapshot %s/%s: %w", roomID, sectionID, err)
	}
	return data, nil
}

// DeleteDocSnapshot implements RoomStore.
func (s *PostgresStore) DeleteDocSnapshot(ctx context.Context, roomID, sectionID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE room_id = $1 AND section_id = $2`, s.snapshotTable)
	if _, err := s.pool.Exec(ctx, query, roomID, sectionID); err != nil {
		return fmt.Errorf("delete doc snapshot %s/%s: %w", roomID, sectionID, err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
