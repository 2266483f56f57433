package relay

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/village-live/pkg/village"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore keeps records in Postgres as JSONB documents with the columns the
// list queries filter and sort on.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPGStore connects to databaseURL and applies pending migrations.
func OpenPGStore(ctx context.Context, databaseURL string, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &PGStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info("applied migration",
			"version", r.Source.Version,
			"duration_ms", r.Duration.Milliseconds())
	}
	return nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) PutCall(ctx context.Context, call village.CallSession) error {
	doc, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("encode call: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO calls (id, elder_id, status, started_at, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET elder_id = EXCLUDED.elder_id, status = EXCLUDED.status,
		    started_at = EXCLUDED.started_at, doc = EXCLUDED.doc`,
		call.ID, call.ElderID, string(call.Status), call.StartedAt.UTC(), doc)
	if err != nil {
		return fmt.Errorf("upsert call %s: %w", call.ID, err)
	}
	return nil
}

func (s *PGStore) GetCall(ctx context.Context, id string) (village.CallSession, error) {
	var call village.CallSession
	err := s.getDoc(ctx, `SELECT doc FROM calls WHERE id = $1`, id, &call)
	return call, err
}

func (s *PGStore) ListCalls(ctx context.Context, filter CallFilter) ([]village.CallSession, error) {
	query := `SELECT doc FROM calls WHERE ($1 = '' OR elder_id = $1) ORDER BY started_at DESC, id`
	args := []any{filter.ElderID}
	if filter.Limit > 0 {
		query += ` LIMIT $2`
		args = append(args, filter.Limit)
	}
	return listDocs[village.CallSession](ctx, s.pool, query, args...)
}

func (s *PGStore) PutElder(ctx context.Context, elder village.Elder) error {
	doc, err := json.Marshal(elder)
	if err != nil {
		return fmt.Errorf("encode elder: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO elders (id, doc, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		elder.ID, doc, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert elder %s: %w", elder.ID, err)
	}
	return nil
}

func (s *PGStore) GetElder(ctx context.Context, id string) (village.Elder, error) {
	var elder village.Elder
	err := s.getDoc(ctx, `SELECT doc FROM elders WHERE id = $1`, id, &elder)
	return elder, err
}

func (s *PGStore) PutAction(ctx context.Context, action village.VillageAction) error {
	doc, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encode village action: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO village_actions (id, call_id, status, initiated_at, doc)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET call_id = EXCLUDED.call_id, status = EXCLUDED.status,
		    initiated_at = EXCLUDED.initiated_at, doc = EXCLUDED.doc`,
		action.ID, action.CallSessionID, string(action.Status), action.InitiatedAt.UTC(), doc)
	if err != nil {
		return fmt.Errorf("upsert village action %s: %w", action.ID, err)
	}
	return nil
}

func (s *PGStore) GetAction(ctx context.Context, id string) (village.VillageAction, error) {
	var action village.VillageAction
	err := s.getDoc(ctx, `SELECT doc FROM village_actions WHERE id = $1`, id, &action)
	return action, err
}

func (s *PGStore) ListActions(ctx context.Context, filter ActionFilter) ([]village.VillageAction, error) {
	return listDocs[village.VillageAction](ctx, s.pool, `
		SELECT doc FROM village_actions
		WHERE ($1 = '' OR call_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY initiated_at, id`,
		filter.CallID, string(filter.Status))
}

func (s *PGStore) getDoc(ctx context.Context, query, id string, dst any) error {
	var doc []byte
	if err := s.pool.QueryRow(ctx, query, id).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("query %s: %w", id, err)
	}
	if err := json.Unmarshal(doc, dst); err != nil {
		return fmt.Errorf("decode %s: %w", id, err)
	}
	return nil
}

func listDocs[T any](ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
