package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/corpaction-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// defaultLimit caps list queries that do not set a limit.
const defaultLimit = 500

// SecurityFilter specifies criteria for listing securities. Empty fields
// match everything.
type SecurityFilter struct {
	Query      string               `json:"query,omitempty"` // substring of name or any identifier value
	AssetClass model.AssetClass     `json:"asset_class,omitempty"`
	Exchange   string               `json:"exchange,omitempty"`
	Status     model.SecurityStatus `json:"status,omitempty"`
	Limit      int                  `json:"limit,omitempty"` // <0 means no limit
	Offset     int                  `json:"offset,omitempty"`
}

// ActionFilter specifies criteria for listing corporate actions.
type ActionFilter struct {
	Query           string              `json:"query,omitempty"` // substring of security name or action id
	SecurityID      string              `json:"security_id,omitempty"`
	EventType       model.EventType     `json:"event_type,omitempty"`
	Statuses        []model.EventStatus `json:"statuses,omitempty"`
	Source          string              `json:"source,omitempty"`
	CreatedSince    time.Time           `json:"created_since,omitzero"`
	IncludeArchived bool                `json:"include_archived,omitempty"`
	Limit           int                 `json:"limit,omitempty"`
	Offset          int                 `json:"offset,omitempty"`
}

// ConflictFilter specifies criteria for listing conflicts.
type ConflictFilter struct {
	Status     model.ConflictStatus `json:"status,omitempty"`
	SecurityID string               `json:"security_id,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
	Offset     int                  `json:"offset,omitempty"`
}

// SyncFilter specifies criteria for listing sync log entries.
type SyncFilter struct {
	Source string    `json:"source,omitempty"`
	Status string    `json:"status,omitempty"`
	Since  time.Time `json:"since,omitzero"`
	Limit  int       `json:"limit,omitempty"`
}

// AuditFilter specifies criteria for listing audit entries.
type AuditFilter struct {
	Action string    `json:"action,omitempty"`
	Status string    `json:"status,omitempty"`
	User   string    `json:"user,omitempty"`
	Since  time.Time `json:"since,omitzero"`
	Limit  int       `json:"limit,omitempty"`
}

// Store defines the persistence interface for the corporate-actions service.
type Store interface {
	// Securities
	UpsertSecurity(ctx context.Context, sec *model.Security) error
	GetSecurity(ctx context.Context, id string) (*model.Security, error)
	ListSecurities(ctx context.Context, filter SecurityFilter) ([]model.Security, error)
	ListExchanges(ctx context.Context) ([]string, error)
	// FindByIdentifier returns the security owning an identifier whose value
	// equals value ignoring case, or ErrNotFound.
	FindByIdentifier(ctx context.Context, value string) (*model.Security, *model.Identifier, error)
	CountSecurities(ctx context.Context) (securities int, identifiers int, err error)

	// Corporate actions
	UpsertActions(ctx context.Context, actions []model.CorporateAction) (int64, error)
	GetAction(ctx context.Context, id string) (*model.CorporateAction, error)
	ListActions(ctx context.Context, filter ActionFilter) ([]model.CorporateAction, error)
	CountActions(ctx context.Context, filter ActionFilter) (int, error)
	UpdateActionStatus(ctx context.Context, id string, status model.EventStatus) error
	ArchiveSettledActions(ctx context.Context, cutoff model.Date) (int64, error)

	// Conflicts
	// InsertConflict stores c unless a conflict with the same ID exists and
	// reports whether a row was created.
	InsertConflict(ctx context.Context, c *model.Conflict) (bool, error)
	GetConflict(ctx context.Context, id string) (*model.Conflict, error)
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.Conflict, error)
	CountConflicts(ctx context.Context, filter ConflictFilter) (int, error)
	UpdateConflict(ctx context.Context, c *model.Conflict) error

	// Sync log
	StartSync(ctx context.Context, source string) (string, error)
	CompleteSync(ctx context.Context, id string, rows int64, metadata map[string]any) error
	FailSync(ctx context.Context, id string, errMsg string) error
	ListSyncs(ctx context.Context, filter SyncFilter) ([]model.SyncEntry, error)

	// Users and audit
	UpsertUser(ctx context.Context, u *model.User) error
	ListUsers(ctx context.Context) ([]model.User, error)
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEntry, error)
	CountAudit(ctx context.Context, filter AuditFilter) (int, error)

	// Key/value entries
	GetValue(ctx context.Context, key string) ([]byte, error)
	SetValue(ctx context.Context, key string, value []byte) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

func limitOf(n int) int {
	if n == 0 {
		return defaultLimit
	}
	return n
}
