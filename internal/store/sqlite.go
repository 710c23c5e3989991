package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/corpaction-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// Per-connection settings go in the DSN so every pooled connection gets them.
	if !strings.Contains(dsn, "_time_format") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS securities (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	asset_class TEXT NOT NULL,
	exchange    TEXT NOT NULL DEFAULT '',
	currency    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'active',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS security_identifiers (
	security_id TEXT NOT NULL REFERENCES securities(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	type        TEXT NOT NULL,
	value       TEXT NOT NULL,
	value_key   TEXT NOT NULL,
	valid_from  TEXT,
	valid_to    TEXT,
	PRIMARY KEY (security_id, position)
);

CREATE TABLE IF NOT EXISTS corporate_actions (
	id                TEXT PRIMARY KEY,
	security_id       TEXT NOT NULL REFERENCES securities(id),
	security_name     TEXT NOT NULL DEFAULT '',
	event_type        TEXT NOT NULL,
	announcement_date TEXT,
	ex_date           TEXT NOT NULL,
	record_date       TEXT,
	payment_date      TEXT,
	amount            TEXT,
	rate              TEXT NOT NULL DEFAULT '',
	currency          TEXT NOT NULL DEFAULT '',
	tax_treatment     TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'pending',
	source            TEXT NOT NULL,
	notes             TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	created_by        TEXT NOT NULL DEFAULT '',
	archived_at       DATETIME
);

CREATE TABLE IF NOT EXISTS conflicts (
	id               TEXT PRIMARY KEY,
	security_id      TEXT NOT NULL,
	security_name    TEXT NOT NULL DEFAULT '',
	event_type       TEXT NOT NULL,
	conflict_type    TEXT NOT NULL,
	sources          TEXT NOT NULL,
	details          TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'unresolved',
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	resolved_at      DATETIME,
	resolved_by      TEXT NOT NULL DEFAULT '',
	resolution       TEXT NOT NULL DEFAULT '',
	resolution_notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	rows_synced  INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     TEXT
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	role       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	last_login DATETIME
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	ts         DATETIME NOT NULL,
	user_email TEXT NOT NULL,
	action     TEXT NOT NULL,
	entity     TEXT NOT NULL DEFAULT '',
	details    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_identifiers_value ON security_identifiers(value_key);
CREATE INDEX IF NOT EXISTS idx_actions_security ON corporate_actions(security_id, ex_date);
CREATE INDEX IF NOT EXISTS idx_actions_status ON corporate_actions(status);
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);
CREATE INDEX IF NOT EXISTS idx_sync_log_source ON sync_log(source, started_at);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Securities ---

func (s *SQLiteStore) UpsertSecurity(ctx context.Context, sec *model.Security) error {
	if err := sec.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = now
	}
	sec.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert security")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO securities (id, name, asset_class, exchange, currency, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, asset_class = excluded.asset_class,
		   exchange = excluded.exchange, currency = excluded.currency, status = excluded.status,
		   updated_at = excluded.updated_at`,
		sec.ID, sec.Name, string(sec.AssetClass), sec.Exchange, sec.Currency, string(sec.Status), sec.CreatedAt, sec.UpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert security %s", sec.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM security_identifiers WHERE security_id = ?`, sec.ID); err != nil {
		return eris.Wrapf(err, "sqlite: clear identifiers %s", sec.ID)
	}
	for i, id := range sec.Identifiers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO security_identifiers (security_id, position, type, value, value_key, valid_from, valid_to) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sec.ID, i, string(id.Type), id.Value, model.IdentifierKey(id.Value), id.ValidFrom, id.ValidTo,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert identifier %s %s", id.Type, id.Value)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert security")
}

const securityColumns = `s.id, s.name, s.asset_class, s.exchange, s.currency, s.status, s.created_at, s.updated_at`

func (s *SQLiteStore) GetSecurity(ctx context.Context, id string) (*model.Security, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+securityColumns+` FROM securities s WHERE s.id = ?`, id)
	sec, err := scanSecurity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: security %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get security %s", id)
	}
	secs := []model.Security{*sec}
	if err := s.attachIdentifiers(ctx, secs); err != nil {
		return nil, err
	}
	return &secs[0], nil
}

func (s *SQLiteStore) ListSecurities(ctx context.Context, filter SecurityFilter) ([]model.Security, error) {
	w := filter.where(questionMark)
	query := `SELECT ` + securityColumns + ` FROM securities s` + w.String() + ` ORDER BY s.name, s.id` + w.page(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list securities")
	}
	defer rows.Close() //nolint:errcheck

	var secs []model.Security
	for rows.Next() {
		sec, err := scanSecurity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan security")
		}
		secs = append(secs, *sec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list securities iterate")
	}
	if err := s.attachIdentifiers(ctx, secs); err != nil {
		return nil, err
	}
	return secs, nil
}

// attachIdentifiers loads identifiers for secs in one query.
func (s *SQLiteStore) attachIdentifiers(ctx context.Context, secs []model.Security) error {
	if len(secs) == 0 {
		return nil
	}
	idx := make(map[string]int, len(secs))
	marks := make([]string, len(secs))
	args := make([]any, len(secs))
	for i, sec := range secs {
		idx[sec.ID] = i
		marks[i] = "?"
		args[i] = sec.ID
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT security_id, type, value, valid_from, valid_to FROM security_identifiers
		 WHERE security_id IN (`+strings.Join(marks, ", ")+`) ORDER BY security_id, position`,
		args...,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: list identifiers")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var secID string
		var id model.Identifier
		if err := rows.Scan(&secID, &id.Type, &id.Value, &id.ValidFrom, &id.ValidTo); err != nil {
			return eris.Wrap(err, "sqlite: scan identifier")
		}
		i := idx[secID]
		secs[i].Identifiers = append(secs[i].Identifiers, id)
	}
	return eris.Wrap(rows.Err(), "sqlite: list identifiers iterate")
}

func (s *SQLiteStore) ListExchanges(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT exchange FROM securities WHERE exchange <> '' ORDER BY exchange`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list exchanges")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exchange")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list exchanges iterate")
}

func (s *SQLiteStore) FindByIdentifier(ctx context.Context, value string) (*model.Security, *model.Identifier, error) {
	var secID string
	err := s.db.QueryRowContext(ctx,
		`SELECT security_id FROM security_identifiers WHERE value_key = ?
		 ORDER BY security_id, position LIMIT 1`,
		model.IdentifierKey(value),
	).Scan(&secID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, eris.Wrapf(ErrNotFound, "sqlite: identifier %q", value)
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: find by identifier")
	}
	sec, err := s.GetSecurity(ctx, secID)
	if err != nil {
		return nil, nil, err
	}
	id, ok := sec.MatchIdentifier(value)
	if !ok {
		return nil, nil, eris.Wrapf(ErrNotFound, "sqlite: identifier %q", value)
	}
	return sec, &id, nil
}

func (s *SQLiteStore) CountSecurities(ctx context.Context) (int, int, error) {
	var secs, ids int
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT count(*) FROM securities), (SELECT count(*) FROM security_identifiers)`,
	).Scan(&secs, &ids)
	return secs, ids, eris.Wrap(err, "sqlite: count securities")
}

// --- Corporate actions ---

const actionColumns = `id, security_id, security_name, event_type, announcement_date, ex_date, record_date,
	payment_date, amount, rate, currency, tax_treatment, status, source, notes, created_at, created_by, archived_at`

func (s *SQLiteStore) UpsertActions(ctx context.Context, actions []model.CorporateAction) (int64, error) {
	if len(actions) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert actions")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO corporate_actions (`+actionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET security_name = excluded.security_name, event_type = excluded.event_type,
		   announcement_date = excluded.announcement_date, ex_date = excluded.ex_date,
		   record_date = excluded.record_date, payment_date = excluded.payment_date, amount = excluded.amount,
		   rate = excluded.rate, currency = excluded.currency, tax_treatment = excluded.tax_treatment,
		   notes = excluded.notes`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert actions")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for i := range actions {
		a := &actions[i]
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		res, err := stmt.ExecContext(ctx, actionArgs(a)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert action %s", a.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert actions")
	}
	return n, nil
}

func actionArgs(a *model.CorporateAction) []any {
	var amount any
	if a.Amount != nil {
		amount = a.Amount.String()
	}
	return []any{
		a.ID, a.SecurityID, a.SecurityName, string(a.EventType), a.AnnouncementDate, a.ExDate, a.RecordDate,
		a.PaymentDate, amount, a.Rate, a.Currency, a.TaxTreatment, string(a.Status), a.Source, a.Notes,
		a.CreatedAt.UTC(), a.CreatedBy, a.ArchivedAt,
	}
}

func (s *SQLiteStore) GetAction(ctx context.Context, id string) (*model.CorporateAction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM corporate_actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: action %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get action %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListActions(ctx context.Context, filter ActionFilter) ([]model.CorporateAction, error) {
	w := filter.where(questionMark)
	query := `SELECT ` + actionColumns + ` FROM corporate_actions` + w.String() +
		` ORDER BY ex_date DESC, id` + w.page(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list actions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CorporateAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan action")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list actions iterate")
}

func (s *SQLiteStore) CountActions(ctx context.Context, filter ActionFilter) (int, error) {
	w := filter.where(questionMark)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM corporate_actions`+w.String(), w.args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count actions")
}

func (s *SQLiteStore) UpdateActionStatus(ctx context.Context, id string, status model.EventStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE corporate_actions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update action status %s", id)
	}
	return checkRowsAffected(res, "action", id)
}

func (s *SQLiteStore) ArchiveSettledActions(ctx context.Context, cutoff model.Date) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE corporate_actions SET archived_at = ?
		 WHERE archived_at IS NULL AND status = ? AND COALESCE(payment_date, ex_date) < ?`,
		time.Now().UTC(), string(model.EventSettled), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: archive settled actions")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// --- Conflicts ---

const conflictColumns = `id, security_id, security_name, event_type, conflict_type, sources, details, status,
	created_at, resolved_at, resolved_by, resolution, resolution_notes`

func (s *SQLiteStore) InsertConflict(ctx context.Context, c *model.Conflict) (bool, error) {
	sources, err := json.Marshal(c.Sources)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal conflict sources")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conflicts (`+conflictColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		c.ID, c.SecurityID, c.SecurityName, string(c.EventType), string(c.ConflictType), string(sources), c.Details,
		string(c.Status), c.CreatedAt.UTC(), c.ResolvedAt, c.ResolvedBy, c.Resolution, c.ResolutionNotes,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert conflict %s", c.ID)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*model.Conflict, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: conflict %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get conflict %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Conflict, error) {
	w := filter.where(questionMark)
	query := `SELECT ` + conflictColumns + ` FROM conflicts` + w.String() +
		` ORDER BY created_at DESC, id` + w.page(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conflicts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list conflicts iterate")
}

func (s *SQLiteStore) CountConflicts(ctx context.Context, filter ConflictFilter) (int, error) {
	w := filter.where(questionMark)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM conflicts`+w.String(), w.args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count conflicts")
}

func (s *SQLiteStore) UpdateConflict(ctx context.Context, c *model.Conflict) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conflicts SET status = ?, resolved_at = ?, resolved_by = ?, resolution = ?, resolution_notes = ?
		 WHERE id = ?`,
		string(c.Status), c.ResolvedAt, c.ResolvedBy, c.Resolution, c.ResolutionNotes, c.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update conflict %s", c.ID)
	}
	return checkRowsAffected(res, "conflict", c.ID)
}

// --- Sync log ---

func (s *SQLiteStore) StartSync(ctx context.Context, source string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, source, model.SyncRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start sync for %s", source)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteSync(ctx context.Context, id string, rows int64, metadata map[string]any) error {
	meta, err := marshalJSON(metadata)
	if err != nil {
		return err
	}
	var metaArg any
	if meta != nil {
		metaArg = string(meta)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = ?, completed_at = ?, rows_synced = ?, metadata = ? WHERE id = ?`,
		model.SyncComplete, time.Now().UTC(), rows, metaArg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync %s", id)
	}
	return checkRowsAffected(res, "sync", id)
}

func (s *SQLiteStore) FailSync(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_log SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		model.SyncFailed, time.Now().UTC(), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync %s", id)
	}
	return checkRowsAffected(res, "sync", id)
}

func (s *SQLiteStore) ListSyncs(ctx context.Context, filter SyncFilter) ([]model.SyncEntry, error) {
	w := filter.where(questionMark)
	query := `SELECT id, source, status, started_at, completed_at, rows_synced, error, metadata FROM sync_log` +
		w.String() + ` ORDER BY started_at DESC` + w.page(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list syncs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SyncEntry
	for rows.Next() {
		var e model.SyncEntry
		var completed sql.NullTime
		var errStr, meta sql.NullString
		if err := rows.Scan(&e.ID, &e.Source, &e.Status, &e.StartedAt, &completed, &e.RowsSynced, &errStr, &meta); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync entry")
		}
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		e.Error = errStr.String
		if meta.Valid {
			_ = json.Unmarshal([]byte(meta.String), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list syncs iterate")
}

// --- Users and audit ---

func (s *SQLiteStore) UpsertUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role, status, created_at, last_login) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET email = excluded.email, name = excluded.name, role = excluded.role,
		   status = excluded.status, last_login = excluded.last_login`,
		u.ID, u.Email, u.Name, string(u.Role), u.Status, u.CreatedAt.UTC(), u.LastLogin,
	)
	return eris.Wrapf(err, "sqlite: upsert user %s", u.Email)
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, name, role, status, created_at, last_login FROM users ORDER BY email`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list users")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.User
	for rows.Next() {
		var u model.User
		var last sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Status, &u.CreatedAt, &last); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user")
		}
		if last.Valid {
			t := last.Time
			u.LastLogin = &t
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list users iterate")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, ts, user_email, action, entity, details, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC(), e.User, e.Action, e.Entity, e.Details, e.Status,
	)
	return eris.Wrapf(err, "sqlite: append audit %s", e.Action)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEntry, error) {
	w := filter.where(questionMark)
	query := `SELECT id, ts, user_email, action, entity, details, status FROM audit_log` + w.String() +
		` ORDER BY ts DESC, id` + w.page(filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.User, &e.Action, &e.Entity, &e.Details, &e.Status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

func (s *SQLiteStore) CountAudit(ctx context.Context, filter AuditFilter) (int, error) {
	w := filter.where(questionMark)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_log`+w.String(), w.args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count audit")
}

// --- Key/value ---

func (s *SQLiteStore) GetValue(ctx context.Context, key string) ([]byte, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: key %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get value %s", key)
	}
	return []byte(v), nil
}

func (s *SQLiteStore) SetValue(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set value %s", key)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSecurity(row scannable) (*model.Security, error) {
	var sec model.Security
	err := row.Scan(&sec.ID, &sec.Name, &sec.AssetClass, &sec.Exchange, &sec.Currency, &sec.Status, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

func scanAction(row scannable) (*model.CorporateAction, error) {
	var a model.CorporateAction
	var amount decimal.NullDecimal
	var archived sql.NullTime
	err := row.Scan(&a.ID, &a.SecurityID, &a.SecurityName, &a.EventType, &a.AnnouncementDate, &a.ExDate,
		&a.RecordDate, &a.PaymentDate, &amount, &a.Rate, &a.Currency, &a.TaxTreatment, &a.Status, &a.Source,
		&a.Notes, &a.CreatedAt, &a.CreatedBy, &archived)
	if err != nil {
		return nil, err
	}
	if amount.Valid {
		d := amount.Decimal
		a.Amount = &d
	}
	if archived.Valid {
		t := archived.Time
		a.ArchivedAt = &t
	}
	return &a, nil
}

func scanConflict(row scannable) (*model.Conflict, error) {
	var c model.Conflict
	var sources string
	var resolved sql.NullTime
	err := row.Scan(&c.ID, &c.SecurityID, &c.SecurityName, &c.EventType, &c.ConflictType, &sources, &c.Details,
		&c.Status, &c.CreatedAt, &resolved, &c.ResolvedBy, &c.Resolution, &c.ResolutionNotes)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &c.Sources); err != nil {
		return nil, eris.Wrap(err, "unmarshal conflict sources")
	}
	if resolved.Valid {
		t := resolved.Time
		c.ResolvedAt = &t
	}
	return &c, nil
}
