package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"opsdesk/internal/config"
	"opsdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) UpsertPortalConfig(ctx context.Context, portalID string, cfg *config.Config) error {
	return upsertPortalConfig(ctx, r.DB, portalID, cfg)
}

func (r Repo) UpsertPortalConfigTx(ctx context.Context, tx *sql.Tx, portalID string, cfg *config.Config) error {
	return upsertPortalConfig(ctx, tx, portalID, cfg)
}

func upsertPortalConfig(ctx context.Context, q querier, portalID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Portal.ID = portalID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = q.ExecContext(ctx, `INSERT INTO portal_configs(portal_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(portal_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, portalID, string(payload), now, now)
	return err
}

func (r Repo) GetPortalConfig(ctx context.Context, portalID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM portal_configs WHERE portal_id=?`, portalID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Portal.ID == "" {
		cfg.Portal.ID = portalID
	}
	return &cfg, cfg.Validate()
}

// SinglePortal returns the only configured portal id.
func (r Repo) SinglePortal(ctx context.Context) (string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT portal_id FROM portal_configs ORDER BY portal_id`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", ErrNotFound
	}
	if len(ids) > 1 {
		return "", fmt.Errorf("multiple portals exist; specify --portal")
	}
	return ids[0], nil
}

// EventFilters narrows event listings. Zero values match everything.
type EventFilters struct {
	GroupID    string
	Type       string
	EntityKind string
	EntityID   string
	Before     int64
	Limit      int
}

const eventColumns = "id,ts,type,COALESCE(group_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json"

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	conds := squirrel.Eq{}
	if f.GroupID != "" {
		conds["group_id"] = f.GroupID
	}
	if f.Type != "" {
		conds["type"] = f.Type
	}
	if f.EntityKind != "" {
		conds["entity_kind"] = f.EntityKind
	}
	if f.EntityID != "" {
		conds["entity_id"] = f.EntityID
	}
	sb := psql.Select(eventColumns).From("events").Where(conds).OrderBy("id DESC")
	if f.Before > 0 {
		sb = sb.Where(squirrel.Lt{"id": f.Before})
	}
	if f.Limit > 0 {
		sb = sb.Limit(uint64(f.Limit))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, err
	}
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, groupID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	sb := psql.Select(eventColumns).From("events").Where(squirrel.Gt{"id": cursor}).OrderBy("id ASC").Limit(uint64(limit))
	if groupID != "" {
		sb = sb.Where(squirrel.Eq{"group_id": groupID})
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, err
	}
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID, optionally scoped to a group.
func (r Repo) LatestEventID(ctx context.Context, groupID string) (int64, error) {
	sb := psql.Select("COALESCE(MAX(id),0)").From("events")
	if groupID != "" {
		sb = sb.Where(squirrel.Eq{"group_id": groupID})
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.GroupID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
