package model

import "time"

// Role grants access to operations. Roles are ordered: analyst <
// senior_analyst < admin.
type Role string

const (
	RoleAnalyst       Role = "analyst"
	RoleSeniorAnalyst Role = "senior_analyst"
	RoleAdmin         Role = "admin"
)

// Level returns the role's rank; unknown roles rank 0.
func (r Role) Level() int {
	switch r {
	case RoleAnalyst:
		return 1
	case RoleSeniorAnalyst:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

// AtLeast reports whether r grants everything min grants.
func (r Role) AtLeast(min Role) bool {
	return r.Level() > 0 && r.Level() >= min.Level()
}

// User is an operator of the service.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      Role       `json:"role"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Audit outcome values.
const (
	AuditSuccess = "SUCCESS"
	AuditFailure = "FAILURE"
)

// Audit actions written by the service.
const (
	AuditLookup          = "lookup"
	AuditIngestEvent     = "ingest_event"
	AuditRejectRecord    = "reject_record"
	AuditSync            = "sync"
	AuditConflict        = "detect_conflict"
	AuditResolveConflict = "resolve_conflict"
	AuditArchiveConflict = "archive_conflict"
	AuditActionStatus    = "update_action_status"
	AuditArchiveActions  = "archive_actions"
	AuditSettings        = "update_settings"
)

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	Details   string    `json:"details"`
	Status    string    `json:"status"`
}

// ActivityType groups activity feed items.
type ActivityType string

const (
	ActivityLookup     ActivityType = "lookup"
	ActivityIngest     ActivityType = "ingest"
	ActivityConflict   ActivityType = "conflict"
	ActivitySync       ActivityType = "sync"
	ActivityResolution ActivityType = "resolution"
)

// ActivityItem is a dashboard feed entry derived from the audit log.
type ActivityItem struct {
	ID          string       `json:"id"`
	Type        ActivityType `json:"type"`
	Description string       `json:"description"`
	Timestamp   time.Time    `json:"timestamp"`
	Status      string       `json:"status"`
	Details     string       `json:"details,omitempty"`
}
