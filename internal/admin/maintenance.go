package admin

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/auth"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// ArchiveResult reports a retention run.
type ArchiveResult struct {
	Cutoff   model.Date `json:"cutoff"`
	Archived int64      `json:"archived"`
}

// Archive marks settled actions older than the retention period as archived.
func (s *Service) Archive(ctx context.Context) (*ArchiveResult, error) {
	if err := auth.Require(ctx, model.RoleAdmin); err != nil {
		return nil, err
	}
	cur, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := model.DateOf(s.now().UTC()).AddDays(-cur.RetentionDays)
	n, err := s.st.ArchiveSettledActions(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "admin: archive settled actions")
	}
	s.audit(ctx, model.AuditArchiveActions, "Retention",
		fmt.Sprintf("Archived %d settled actions before %s", n, cutoff))
	zap.L().Info("retention run complete", zap.Int64("archived", n), zap.Stringer("cutoff", cutoff))
	return &ArchiveResult{Cutoff: cutoff, Archived: n}, nil
}

// Users lists operators.
func (s *Service) Users(ctx context.Context) ([]model.User, error) {
	if err := auth.Require(ctx, model.RoleAdmin); err != nil {
		return nil, err
	}
	users, err := s.st.ListUsers(ctx)
	return users, eris.Wrap(err, "admin: list users")
}

// AuditLog returns one page of the audit log, newest first, with the total
// number of entries matching filter.
func (s *Service) AuditLog(ctx context.Context, filter store.AuditFilter) ([]model.AuditEntry, int, error) {
	if err := auth.Require(ctx, model.RoleAdmin); err != nil {
		return nil, 0, err
	}
	entries, err := s.st.ListAudit(ctx, filter)
	if err != nil {
		return nil, 0, eris.Wrap(err, "admin: list audit")
	}
	count := filter
	count.Limit = 0
	total, err := s.st.CountAudit(ctx, count)
	if err != nil {
		return nil, 0, eris.Wrap(err, "admin: count audit")
	}
	return entries, total, nil
}
