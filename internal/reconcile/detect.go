// Package reconcile detects disagreements between sources about the same
// corporate action and applies analysts' resolutions.
package reconcile

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/auth"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// conflictNamespace seeds deterministic conflict IDs.
var conflictNamespace = uuid.MustParse("6f1b7c3e-5d0a-4a8e-9c47-1f2d3e4a5b6c")

// Store is the persistence the reconciler needs.
type Store interface {
	GetAction(ctx context.Context, id string) (*model.CorporateAction, error)
	ListActions(ctx context.Context, filter store.ActionFilter) ([]model.CorporateAction, error)
	UpdateActionStatus(ctx context.Context, id string, status model.EventStatus) error
	InsertConflict(ctx context.Context, c *model.Conflict) (bool, error)
	GetConflict(ctx context.Context, id string) (*model.Conflict, error)
	ListConflicts(ctx context.Context, filter store.ConflictFilter) ([]model.Conflict, error)
	UpdateConflict(ctx context.Context, c *model.Conflict) error
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
}

// DetectResult summarizes one detection pass.
type DetectResult struct {
	Actions   int              `json:"actions"`
	Clusters  int              `json:"clusters"`
	Created   []model.Conflict `json:"created"`
	Duplicate int              `json:"duplicate"`
}

// Detector finds conflicting reports of the same event.
type Detector struct {
	st         Store
	window     int
	confidence map[string]model.Confidence
}

// NewDetector creates a Detector. Actions of one security whose ex-dates lie
// within windowDays of a cluster's first ex-date describe the same event.
// confidence maps source names to the label attached to their observations.
func NewDetector(st Store, windowDays int, confidence map[string]model.Confidence) *Detector {
	if windowDays <= 0 {
		windowDays = 3
	}
	return &Detector{st: st, window: windowDays, confidence: confidence}
}

// Detect scans every live action, or only securityID's when it is set, and
// records new conflicts.
func (d *Detector) Detect(ctx context.Context, securityID string) (*DetectResult, error) {
	actions, err := d.st.ListActions(ctx, store.ActionFilter{
		SecurityID: securityID,
		Statuses:   []model.EventStatus{model.EventPending, model.EventConfirmed, model.EventSettled},
		Limit:      -1,
	})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: list actions")
	}

	res := &DetectResult{Actions: len(actions)}
	bySecurity := make(map[string][]model.CorporateAction)
	var ids []string
	for _, a := range actions {
		if _, ok := bySecurity[a.SecurityID]; !ok {
			ids = append(ids, a.SecurityID)
		}
		bySecurity[a.SecurityID] = append(bySecurity[a.SecurityID], a)
	}
	sort.Strings(ids)

	for _, secID := range ids {
		known, err := d.knownFingerprints(ctx, secID)
		if err != nil {
			return nil, err
		}
		for _, cluster := range d.clusters(bySecurity[secID]) {
			res.Clusters++
			c := d.compare(cluster)
			if c == nil {
				continue
			}
			created, err := d.raise(ctx, c, known)
			if err != nil {
				return nil, err
			}
			if !created {
				res.Duplicate++
				continue
			}
			res.Created = append(res.Created, *c)
		}
	}

	zap.L().Info("conflict detection complete",
		zap.String("security_id", securityID),
		zap.Int("actions", res.Actions),
		zap.Int("clusters", res.Clusters),
		zap.Int("created", len(res.Created)),
		zap.Int("duplicate", res.Duplicate),
	)
	return res, nil
}

// Raise records c unless a conflict about the same event already exists,
// assigning its ID. It reports whether c was stored.
func (d *Detector) Raise(ctx context.Context, c *model.Conflict) (bool, error) {
	known, err := d.knownFingerprints(ctx, c.SecurityID)
	if err != nil {
		return false, err
	}
	return d.raise(ctx, c, known)
}

func (d *Detector) raise(ctx context.Context, c *model.Conflict, known map[string]bool) (bool, error) {
	fp := fingerprint(c)
	if known[fp] {
		return false, nil
	}
	c.ID = conflictID(fp)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	created, err := d.st.InsertConflict(ctx, c)
	if err != nil {
		return false, eris.Wrapf(err, "reconcile: insert conflict %s", c.ID)
	}
	if !created {
		return false, nil
	}
	known[fp] = true
	d.audit(ctx, c)
	return true, nil
}

func (d *Detector) knownFingerprints(ctx context.Context, securityID string) (map[string]bool, error) {
	existing, err := d.st.ListConflicts(ctx, store.ConflictFilter{SecurityID: securityID, Limit: -1})
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: list conflicts for %s", securityID)
	}
	known := make(map[string]bool, len(existing))
	for i := range existing {
		known[fingerprint(&existing[i])] = true
	}
	return known, nil
}

// clusters groups one security's actions into candidate events, keeping the
// earliest report per source.
func (d *Detector) clusters(actions []model.CorporateAction) [][]model.CorporateAction {
	sort.SliceStable(actions, func(i, j int) bool {
		a, b := actions[i], actions[j]
		if !a.ExDate.Equal(b.ExDate.Time) {
			return a.ExDate.Before(b.ExDate.Time)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.ID < b.ID
	})

	var out [][]model.CorporateAction
	var cur []model.CorporateAction
	seen := make(map[string]bool)
	for _, a := range actions {
		if len(cur) > 0 && a.ExDate.DaysBetween(cur[0].ExDate) > d.window {
			out = append(out, cur)
			cur, seen = nil, make(map[string]bool)
		}
		if seen[a.Source] {
			continue
		}
		seen[a.Source] = true
		cur = append(cur, a)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// compare returns a conflict for the first field class the cluster disagrees
// on, or nil when fewer than two sources report it or all agree.
func (d *Detector) compare(cluster []model.CorporateAction) *model.Conflict {
	if len(cluster) < 2 {
		return nil
	}

	var (
		kind   model.ConflictType
		values []string
	)
	switch {
	case differ(cluster, func(a model.CorporateAction) string { return string(a.EventType) }):
		kind = model.ConflictEventType
		values = distinct(cluster, func(a model.CorporateAction) string { return a.EventType.Label() })
	case differ(cluster, func(a model.CorporateAction) string { return a.ExDate.String() }):
		kind = model.ConflictDate
		values = distinct(cluster, func(a model.CorporateAction) string { return a.ExDate.Short() })
	case differ(cluster, amountOf):
		kind = model.ConflictAmount
		values = distinct(cluster, amountOf)
	case differ(cluster, func(a model.CorporateAction) string { return a.Rate }):
		kind = model.ConflictAmount
		values = distinct(cluster, func(a model.CorporateAction) string { return a.Rate })
	case differ(cluster, func(a model.CorporateAction) string { return a.Currency }):
		kind = model.ConflictAmount
		values = distinct(cluster, func(a model.CorporateAction) string { return a.Currency })
	default:
		return nil
	}

	first := cluster[0]
	c := &model.Conflict{
		SecurityID:   first.SecurityID,
		SecurityName: first.SecurityName,
		EventType:    first.EventType,
		ConflictType: kind,
		Details:      strings.Join(values, " vs "),
		Status:       model.ConflictUnresolved,
		CreatedAt:    time.Now().UTC(),
	}
	for _, a := range cluster {
		c.Sources = append(c.Sources, d.observe(a, kind))
	}
	return c
}

func (d *Detector) observe(a model.CorporateAction, kind model.ConflictType) model.Observation {
	data := map[string]string{"ex_date": a.ExDate.String()}
	if a.Amount != nil {
		data["amount"] = amountOf(a)
	}
	if a.Rate != "" {
		data["rate"] = a.Rate
	}
	if kind == model.ConflictEventType {
		data["event_type"] = string(a.EventType)
	}
	if a.Currency != "" && kind == model.ConflictAmount {
		data["currency"] = a.Currency
	}
	conf, ok := d.confidence[a.Source]
	if !ok {
		conf = model.ConfidenceMedium
	}
	return model.Observation{
		Source:      a.Source,
		ActionID:    a.ID,
		Data:        data,
		RetrievedAt: a.CreatedAt,
		Confidence:  conf,
	}
}

func (d *Detector) audit(ctx context.Context, c *model.Conflict) {
	err := d.st.AppendAudit(ctx, &model.AuditEntry{
		User:    auth.Actor(ctx),
		Action:  model.AuditConflict,
		Entity:  c.ID,
		Details: c.SecurityID + " " + string(c.ConflictType) + ": " + c.Details,
		Status:  model.AuditSuccess,
	})
	if err != nil {
		zap.L().Warn("reconcile: audit conflict", zap.String("conflict_id", c.ID), zap.Error(err))
	}
}

func amountOf(a model.CorporateAction) string {
	if a.Amount == nil {
		return ""
	}
	return a.Amount.StringFixed(2)
}

func differ(cluster []model.CorporateAction, key func(model.CorporateAction) string) bool {
	for _, a := range cluster[1:] {
		if key(a) != key(cluster[0]) {
			return true
		}
	}
	return false
}

func distinct(cluster []model.CorporateAction, key func(model.CorporateAction) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range cluster {
		v := key(a)
		if v == "" {
			v = "none"
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// fingerprint identifies the event a conflict is about independent of its
// ID: security, event type, conflict type, reporting sources and the
// earliest reported ex-date.
func fingerprint(c *model.Conflict) string {
	sources := make([]string, 0, len(c.Sources))
	anchor := ""
	for _, o := range c.Sources {
		sources = append(sources, strings.ToLower(o.Source))
		if ex := o.Data["ex_date"]; ex != "" && (anchor == "" || ex < anchor) {
			anchor = ex
		}
	}
	sort.Strings(sources)
	return strings.Join([]string{c.SecurityID, string(c.EventType), string(c.ConflictType), strings.Join(sources, ","), anchor}, "|")
}

func conflictID(fp string) string {
	return "CONF-" + strings.ToUpper(uuid.NewSHA1(conflictNamespace, []byte(fp)).String()[:8])
}
