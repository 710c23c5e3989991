package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/corpaction-cli/internal/db"
	"github.com/sells-group/corpaction-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS securities (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	asset_class TEXT NOT NULL,
	exchange    TEXT NOT NULL DEFAULT '',
	currency    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS security_identifiers (
	security_id TEXT NOT NULL REFERENCES securities(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	type        TEXT NOT NULL,
	value       TEXT NOT NULL,
	value_key   TEXT NOT NULL,
	valid_from  DATE,
	valid_to    DATE,
	PRIMARY KEY (security_id, position)
);

CREATE TABLE IF NOT EXISTS corporate_actions (
	id                TEXT PRIMARY KEY,
	security_id       TEXT NOT NULL REFERENCES securities(id),
	security_name     TEXT NOT NULL DEFAULT '',
	event_type        TEXT NOT NULL,
	announcement_date DATE,
	ex_date           DATE NOT NULL,
	record_date       DATE,
	payment_date      DATE,
	amount            NUMERIC(20, 8),
	rate              TEXT NOT NULL DEFAULT '',
	currency          TEXT NOT NULL DEFAULT '',
	tax_treatment     TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	source            TEXT NOT NULL,
	notes             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_by        TEXT NOT NULL DEFAULT '',
	archived_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS conflicts (
	id               TEXT PRIMARY KEY,
	security_id      TEXT NOT NULL,
	security_name    TEXT NOT NULL DEFAULT '',
	event_type       TEXT NOT NULL,
	conflict_type    TEXT NOT NULL,
	sources          JSONB NOT NULL,
	details          TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'unresolved',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at      TIMESTAMPTZ,
	resolved_by      TEXT NOT NULL DEFAULT '',
	resolution       TEXT NOT NULL DEFAULT '',
	resolution_notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	rows_synced  BIGINT NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     JSONB
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	role       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_login TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
	user_email TEXT NOT NULL,
	action     TEXT NOT NULL,
	entity     TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_identifiers_value ON security_identifiers(value_key);
CREATE INDEX IF NOT EXISTS idx_actions_security ON corporate_actions(security_id, ex_date);
CREATE INDEX IF NOT EXISTS idx_actions_status ON corporate_actions(status);
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);
CREATE INDEX IF NOT EXISTS idx_sync_log_source ON sync_log(source, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Securities ---

var identifierColumns = []string{"security_id", "position", "type", "value", "value_key", "valid_from", "valid_to"}

func (s *PostgresStore) UpsertSecurity(ctx context.Context, sec *model.Security) error {
	if err := sec.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = now
	}
	sec.UpdatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert security")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO securities (id, name, asset_class, exchange, currency, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, asset_class = EXCLUDED.asset_class,
		   exchange = EXCLUDED.exchange, currency = EXCLUDED.currency, status = EXCLUDED.status,
		   updated_at = EXCLUDED.updated_at`,
		sec.ID, sec.Name, string(sec.AssetClass), sec.Exchange, sec.Currency, string(sec.Status), sec.CreatedAt, sec.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert security %s", sec.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM security_identifiers WHERE security_id = $1`, sec.ID); err != nil {
		return eris.Wrapf(err, "postgres: clear identifiers %s", sec.ID)
	}
	rows := make([][]any, 0, len(sec.Identifiers))
	for i, id := range sec.Identifiers {
		rows = append(rows, []any{sec.ID, i, string(id.Type), id.Value, model.IdentifierKey(id.Value), pgDate(id.ValidFrom), pgDate(id.ValidTo)})
	}
	if _, err := db.CopyFrom(ctx, tx, "security_identifiers", identifierColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert identifiers %s", sec.ID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert security")
}

func (s *PostgresStore) GetSecurity(ctx context.Context, id string) (*model.Security, error) {
	sec, err := scanSecurity(s.pool.QueryRow(ctx, `SELECT `+securityColumns+` FROM securities s WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: security %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get security %s", id)
	}
	secs := []model.Security{*sec}
	if err := s.attachIdentifiers(ctx, secs); err != nil {
		return nil, err
	}
	return &secs[0], nil
}

func (s *PostgresStore) ListSecurities(ctx context.Context, filter SecurityFilter) ([]model.Security, error) {
	w := filter.where(dollar)
	query := `SELECT ` + securityColumns + ` FROM securities s` + w.String() + ` ORDER BY s.name, s.id` + w.page(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list securities")
	}
	defer rows.Close()

	var secs []model.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan security")
		}
		secs = append(secs, *sec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list securities iterate")
	}
	if err := s.attachIdentifiers(ctx, secs); err != nil {
		return nil, err
	}
	return secs, nil
}

func (s *PostgresStore) attachIdentifiers(ctx context.Context, secs []model.Security) error {
	if len(secs) == 0 {
		return nil
	}
	idx := make(map[string]int, len(secs))
	ids := make([]string, len(secs))
	for i, sec := range secs {
		idx[sec.ID] = i
		ids[i] = sec.ID
	}
	rows, err := s.pool.Query(ctx,
		`SELECT security_id, type, value, valid_from, valid_to FROM security_identifiers
		 WHERE security_id = ANY($1) ORDER BY security_id, position`,
		ids,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: list identifiers")
	}
	defer rows.Close()

	for rows.Next() {
		var secID string
		var id model.Identifier
		var from, to pgtype.Date
		if err := rows.Scan(&secID, &id.Type, &id.Value, &from, &to); err != nil {
			return eris.Wrap(err, "postgres: scan identifier")
		}
		id.ValidFrom, id.ValidTo = fromPgDate(from), fromPgDate(to)
		i := idx[secID]
		secs[i].Identifiers = append(secs[i].Identifiers, id)
	}
	return eris.Wrap(rows.Err(), "postgres: list identifiers iterate")
}

func (s *PostgresStore) ListExchanges(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT exchange FROM securities WHERE exchange <> '' ORDER BY exchange`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list exchanges")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exchange")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list exchanges iterate")
}

func (s *PostgresStore) FindByIdentifier(ctx context.Context, value string) (*model.Security, *model.Identifier, error) {
	var secID string
	err := s.pool.QueryRow(ctx,
		`SELECT security_id FROM security_identifiers WHERE value_key = $1 ORDER BY security_id, position LIMIT 1`,
		model.IdentifierKey(value),
	).Scan(&secID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, eris.Wrapf(ErrNotFound, "postgres: identifier %q", value)
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: find by identifier")
	}
	sec, err := s.GetSecurity(ctx, secID)
	if err != nil {
		return nil, nil, err
	}
	id, ok := sec.MatchIdentifier(value)
	if !ok {
		return nil, nil, eris.Wrapf(ErrNotFound, "postgres: identifier %q", value)
	}
	return sec, &id, nil
}

func (s *PostgresStore) CountSecurities(ctx context.Context) (int, int, error) {
	var secs, ids int
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM securities), (SELECT count(*) FROM security_identifiers)`,
	).Scan(&secs, &ids)
	return secs, ids, eris.Wrap(err, "postgres: count securities")
}

// --- Corporate actions ---

var actionUpsert = db.UpsertConfig{
	Table: "corporate_actions",
	Columns: []string{
		"id", "security_id", "security_name", "event_type", "announcement_date", "ex_date", "record_date",
		"payment_date", "amount", "rate", "currency", "tax_treatment", "status", "source", "notes",
		"created_at", "created_by", "archived_at",
	},
	ConflictKeys: []string{"id"},
	// Re-ingesting a feed refreshes event terms but never rewinds the
	// lifecycle an analyst moved the action through.
	UpdateCols: []string{
		"security_name", "event_type", "announcement_date", "ex_date", "record_date", "payment_date",
		"amount", "rate", "currency", "tax_treatment", "notes",
	},
}

func (s *PostgresStore) UpsertActions(ctx context.Context, actions []model.CorporateAction) (int64, error) {
	rows := make([][]any, len(actions))
	for i := range actions {
		a := &actions[i]
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		rows[i] = []any{
			a.ID, a.SecurityID, a.SecurityName, string(a.EventType), pgDate(a.AnnouncementDate), pgDate(a.ExDate),
			pgDate(a.RecordDate), pgDate(a.PaymentDate), pgNumeric(a.Amount), a.Rate, a.Currency, a.TaxTreatment,
			string(a.Status), a.Source, a.Notes, a.CreatedAt.UTC(), a.CreatedBy, a.ArchivedAt,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, actionUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert actions")
}

func (s *PostgresStore) GetAction(ctx context.Context, id string) (*model.CorporateAction, error) {
	a, err := scanPgAction(s.pool.QueryRow(ctx, `SELECT `+actionColumns+` FROM corporate_actions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: action %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get action %s", id)
	}
	return a, nil
}

func (s *PostgresStore) ListActions(ctx context.Context, filter ActionFilter) ([]model.CorporateAction, error) {
	w := filter.where(dollar)
	query := `SELECT ` + actionColumns + ` FROM corporate_actions` + w.String() +
		` ORDER BY ex_date DESC, id` + w.page(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list actions")
	}
	defer rows.Close()

	var out []model.CorporateAction
	for rows.Next() {
		a, err := scanPgAction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan action")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list actions iterate")
}

func (s *PostgresStore) CountActions(ctx context.Context, filter ActionFilter) (int, error) {
	w := filter.where(dollar)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM corporate_actions`+w.String(), w.args...).Scan(&n)
	return n, eris.Wrap(err, "postgres: count actions")
}

func (s *PostgresStore) UpdateActionStatus(ctx context.Context, id string, status model.EventStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE corporate_actions SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update action status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "action %s", id)
	}
	return nil
}

func (s *PostgresStore) ArchiveSettledActions(ctx context.Context, cutoff model.Date) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE corporate_actions SET archived_at = now()
		 WHERE archived_at IS NULL AND status = $1 AND COALESCE(payment_date, ex_date) < $2`,
		string(model.EventSettled), pgDate(cutoff),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: archive settled actions")
	}
	return tag.RowsAffected(), nil
}

// --- Conflicts ---

func (s *PostgresStore) InsertConflict(ctx context.Context, c *model.Conflict) (bool, error) {
	sources, err := json.Marshal(c.Sources)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal conflict sources")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO conflicts (`+conflictColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, c.SecurityID, c.SecurityName, string(c.EventType), string(c.ConflictType), sources, c.Details,
		string(c.Status), c.CreatedAt.UTC(), c.ResolvedAt, c.ResolvedBy, c.Resolution, c.ResolutionNotes,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert conflict %s", c.ID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetConflict(ctx context.Context, id string) (*model.Conflict, error) {
	c, err := scanConflictJSON(s.pool.QueryRow(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: conflict %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get conflict %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Conflict, error) {
	w := filter.where(dollar)
	query := `SELECT ` + conflictColumns + ` FROM conflicts` + w.String() +
		` ORDER BY created_at DESC, id` + w.page(filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conflicts")
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		c, err := scanConflictJSON(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan conflict")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list conflicts iterate")
}

func (s *PostgresStore) CountConflicts(ctx context.Context, filter ConflictFilter) (int, error) {
	w := filter.where(dollar)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM conflicts`+w.String(), w.args...).Scan(&n)
	return n, eris.Wrap(err, "postgres: count conflicts")
}

func (s *PostgresStore) UpdateConflict(ctx context.Context, c *model.Conflict) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conflicts SET status = $1, resolved_at = $2, resolved_by = $3, resolution = $4, resolution_notes = $5
		 WHERE id = $6`,
		string(c.Status), c.ResolvedAt, c.ResolvedBy, c.Resolution, c.ResolutionNotes, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update conflict %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "conflict %s", c.ID)
	}
	return nil
}

// --- Sync log ---

func (s *PostgresStore) StartSync(ctx context.Context, source string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_log (source, status, started_at) VALUES ($1, 'running', now()) RETURNING id`,
		source,
	).Scan(&id)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start sync for %s", source)
	}
	return id, nil
}

func (s *PostgresStore) CompleteSync(ctx context.Context, id string, rows int64, metadata map[string]any) error {
	meta, err := marshalJSON(metadata)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_log SET status = 'complete', completed_at = now(), rows_synced = $1, metadata = $2 WHERE id = $3`,
		rows, meta, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "sync %s", id)
	}
	return nil
}

func (s *PostgresStore) FailSync(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_log SET status = 'failed', completed_at = now(), error = $1 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "sync %s", id)
	}
	return nil
}

func (s *PostgresStore) ListSyncs(ctx context.Context, filter SyncFilter) ([]model.SyncEntry, error) {
	w := filter.where(dollar)
	query := `SELECT id, source, status, started_at, completed_at, rows_synced, error, metadata FROM sync_log` +
		w.String() + ` ORDER BY started_at DESC` + w.page(filter.Limit, 0)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list syncs")
	}
	defer rows.Close()

	var out []model.SyncEntry
	for rows.Next() {
		var e model.SyncEntry
		var errStr *string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.Source, &e.Status, &e.StartedAt, &e.CompletedAt, &e.RowsSynced, &errStr, &meta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if meta != nil {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list syncs iterate")
}

// --- Users and audit ---

func (s *PostgresStore) UpsertUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, role, status, created_at, last_login) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, role = EXCLUDED.role,
		   status = EXCLUDED.status, last_login = EXCLUDED.last_login`,
		u.ID, u.Email, u.Name, string(u.Role), u.Status, u.CreatedAt.UTC(), u.LastLogin,
	)
	return eris.Wrapf(err, "postgres: upsert user %s", u.Email)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, email, name, role, status, created_at, last_login FROM users ORDER BY email`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list users")
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Status, &u.CreatedAt, &u.LastLogin); err != nil {
			return nil, eris.Wrap(err, "postgres: scan user")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list users iterate")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, ts, user_email, action, entity, details, status) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Timestamp.UTC(), e.User, e.Action, e.Entity, e.Details, e.Status,
	)
	return eris.Wrapf(err, "postgres: append audit %s", e.Action)
}

func (s *PostgresStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEntry, error) {
	w := filter.where(dollar)
	query := `SELECT id, ts, user_email, action, entity, details, status FROM audit_log` + w.String() +
		` ORDER BY ts DESC, id` + w.page(filter.Limit, 0)

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.User, &e.Action, &e.Entity, &e.Details, &e.Status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

func (s *PostgresStore) CountAudit(ctx context.Context, filter AuditFilter) (int, error) {
	w := filter.where(dollar)
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM audit_log`+w.String(), w.args...).Scan(&n)
	return n, eris.Wrap(err, "postgres: count audit")
}

// --- Key/value ---

func (s *PostgresStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: key %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get value %s", key)
	}
	return v, nil
}

func (s *PostgresStore) SetValue(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set value %s", key)
}

// helpers

func pgDate(d model.Date) pgtype.Date {
	return pgtype.Date{Time: d.Time, Valid: !d.IsZero()}
}

func fromPgDate(d pgtype.Date) model.Date {
	if !d.Valid {
		return model.Date{}
	}
	return model.DateOf(d.Time)
}

func pgNumeric(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func scanPgAction(row scannable) (*model.CorporateAction, error) {
	var a model.CorporateAction
	var ann, ex, rec, pay pgtype.Date
	var amount pgtype.Numeric
	err := row.Scan(&a.ID, &a.SecurityID, &a.SecurityName, &a.EventType, &ann, &ex, &rec, &pay, &amount,
		&a.Rate, &a.Currency, &a.TaxTreatment, &a.Status, &a.Source, &a.Notes, &a.CreatedAt, &a.CreatedBy, &a.ArchivedAt)
	if err != nil {
		return nil, err
	}
	a.AnnouncementDate, a.ExDate, a.RecordDate, a.PaymentDate = fromPgDate(ann), fromPgDate(ex), fromPgDate(rec), fromPgDate(pay)
	if amount.Valid && amount.Int != nil {
		d := decimal.NewFromBigInt(amount.Int, amount.Exp)
		a.Amount = &d
	}
	return &a, nil
}

func scanConflictJSON(row scannable) (*model.Conflict, error) {
	var c model.Conflict
	var sources []byte
	err := row.Scan(&c.ID, &c.SecurityID, &c.SecurityName, &c.EventType, &c.ConflictType, &sources, &c.Details,
		&c.Status, &c.CreatedAt, &c.ResolvedAt, &c.ResolvedBy, &c.Resolution, &c.ResolutionNotes)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sources, &c.Sources); err != nil {
		return nil, eris.Wrap(err, "unmarshal conflict sources")
	}
	return &c, nil
}
