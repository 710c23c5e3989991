package reconcile

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/auth"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// Suggestion is the recommended source for an unresolved conflict.
type Suggestion struct {
	ConflictID string           `json:"conflict_id"`
	Source     string           `json:"source"`
	Confidence model.Confidence `json:"confidence"`
	Reason     string           `json:"reason"`
	Ranking    []string         `json:"ranking"`
}

// Service applies analyst decisions to conflicts and actions.
type Service struct {
	st     Store
	policy *Policy
	now    func() time.Time
}

// NewService creates a Service. A nil policy uses DefaultPolicy.
func NewService(st Store, policy *Policy) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Service{st: st, policy: policy, now: time.Now}
}

// Policy returns the active policy.
func (s *Service) Policy() *Policy { return s.policy }

// Suggest ranks a conflict's observations by policy priority for the
// disputed field, then confidence, then most recent retrieval.
func (s *Service) Suggest(ctx context.Context, id string) (*Suggestion, error) {
	c, err := s.st.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.suggest(c), nil
}

func (s *Service) suggest(c *model.Conflict) *Suggestion {
	obs := append([]model.Observation(nil), c.Sources...)
	sort.SliceStable(obs, func(i, j int) bool {
		ri, rj := s.policy.Rank(c.ConflictType, obs[i].Source), s.policy.Rank(c.ConflictType, obs[j].Source)
		if ri != rj {
			return ri < rj
		}
		if obs[i].Confidence.Rank() != obs[j].Confidence.Rank() {
			return obs[i].Confidence.Rank() > obs[j].Confidence.Rank()
		}
		return obs[i].RetrievedAt.After(obs[j].RetrievedAt)
	})

	sg := &Suggestion{ConflictID: c.ID}
	for _, o := range obs {
		sg.Ranking = append(sg.Ranking, o.Source)
	}
	if len(obs) == 0 {
		return sg
	}
	sg.Source = obs[0].Source
	sg.Confidence = obs[0].Confidence
	switch {
	case len(obs) == 1:
		sg.Reason = "only source"
	case s.policy.Rank(c.ConflictType, obs[0].Source) < s.policy.Rank(c.ConflictType, obs[1].Source):
		sg.Reason = "source priority for " + string(c.ConflictType)
	case obs[0].Confidence.Rank() > obs[1].Confidence.Rank():
		sg.Reason = "higher confidence"
	default:
		sg.Reason = "most recent retrieval"
	}
	return sg
}

// Resolve accepts source's report for conflict id. The winning action is
// confirmed and the other reports are voided.
func (s *Service) Resolve(ctx context.Context, id, source, notes string) (*model.Conflict, error) {
	if err := auth.Require(ctx, model.RoleSeniorAnalyst); err != nil {
		return nil, err
	}
	c, err := s.st.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	user := auth.Actor(ctx)
	if err := c.Resolve(source, user, notes, s.now()); err != nil {
		return nil, err
	}

	// Actions first: a failed update must leave the conflict unresolved.
	for _, o := range c.Sources {
		if o.ActionID == "" {
			continue
		}
		next := model.EventVoided
		if o.Source == source {
			next = model.EventConfirmed
		}
		if err := s.applyStatus(ctx, o.ActionID, next); err != nil {
			return nil, err
		}
	}
	if err := s.st.UpdateConflict(ctx, c); err != nil {
		return nil, eris.Wrapf(err, "reconcile: update conflict %s", id)
	}

	s.audit(ctx, model.AuditResolveConflict, c.ID, "Chose "+source+" source", model.AuditSuccess)
	zap.L().Info("conflict resolved",
		zap.String("conflict_id", c.ID),
		zap.String("source", source),
		zap.String("user", user),
	)
	return c, nil
}

// applyStatus moves an action toward next when its lifecycle allows it.
// Actions already at or past next, or deleted, are left alone.
func (s *Service) applyStatus(ctx context.Context, actionID string, next model.EventStatus) error {
	a, err := s.st.GetAction(ctx, actionID)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("reconcile: conflict references missing action", zap.String("action_id", actionID))
		return nil
	}
	if err != nil {
		return err
	}
	if !a.Status.CanTransition(next) {
		return nil
	}
	return eris.Wrapf(s.st.UpdateActionStatus(ctx, actionID, next), "reconcile: set %s %s", actionID, next)
}

// Archive shelves conflict id without choosing a source.
func (s *Service) Archive(ctx context.Context, id, notes string) (*model.Conflict, error) {
	if err := auth.Require(ctx, model.RoleSeniorAnalyst); err != nil {
		return nil, err
	}
	c, err := s.st.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.Archive(auth.Actor(ctx), notes, s.now()); err != nil {
		return nil, err
	}
	if err := s.st.UpdateConflict(ctx, c); err != nil {
		return nil, eris.Wrapf(err, "reconcile: update conflict %s", id)
	}
	s.audit(ctx, model.AuditArchiveConflict, c.ID, "Archived without resolution", model.AuditSuccess)
	return c, nil
}

// SetActionStatus moves action id to status, enforcing the lifecycle.
func (s *Service) SetActionStatus(ctx context.Context, id string, status model.EventStatus) (*model.CorporateAction, error) {
	if err := auth.Require(ctx, model.RoleSeniorAnalyst); err != nil {
		return nil, err
	}
	a, err := s.st.GetAction(ctx, id)
	if err != nil {
		return nil, err
	}
	from := a.Status
	if err := a.Transition(status); err != nil {
		s.audit(ctx, model.AuditActionStatus, "Event:"+id, string(from)+" -> "+string(status), model.AuditFailure)
		return nil, err
	}
	if err := s.st.UpdateActionStatus(ctx, id, status); err != nil {
		return nil, eris.Wrapf(err, "reconcile: set %s %s", id, status)
	}
	s.audit(ctx, model.AuditActionStatus, "Event:"+id, string(from)+" -> "+string(status), model.AuditSuccess)
	return a, nil
}

func (s *Service) audit(ctx context.Context, action, entity, details, status string) {
	err := s.st.AppendAudit(ctx, &model.AuditEntry{
		User:    auth.Actor(ctx),
		Action:  action,
		Entity:  entity,
		Details: details,
		Status:  status,
	})
	if err != nil {
		zap.L().Warn("reconcile: audit", zap.String("action", action), zap.String("entity", entity), zap.Error(err))
	}
}
