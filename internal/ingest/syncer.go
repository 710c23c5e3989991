package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/corpaction-cli/internal/config"
	"github.com/sells-group/corpaction-cli/internal/fetcher"
	"github.com/sells-group/corpaction-cli/internal/kv"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/reconcile"
	"github.com/sells-group/corpaction-cli/internal/resilience"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// ErrUnknownSource is returned for a source name missing from configuration.
var ErrUnknownSource = errors.New("ingest: unknown source")

// SystemUser is recorded as the creator and auditor of ingested data.
const SystemUser = "system_ingest"

// Store is the persistence a Syncer needs.
type Store interface {
	FindByIdentifier(ctx context.Context, value string) (*model.Security, *model.Identifier, error)
	UpsertActions(ctx context.Context, actions []model.CorporateAction) (int64, error)
	ListActions(ctx context.Context, filter store.ActionFilter) ([]model.CorporateAction, error)
	StartSync(ctx context.Context, source string) (string, error)
	CompleteSync(ctx context.Context, id string, rows int64, metadata map[string]any) error
	FailSync(ctx context.Context, id string, errMsg string) error
	ListSyncs(ctx context.Context, filter store.SyncFilter) ([]model.SyncEntry, error)
	AppendAudit(ctx context.Context, e *model.AuditEntry) error
	GetValue(ctx context.Context, key string) ([]byte, error)
	SetValue(ctx context.Context, key string, value []byte) error
}

// Result is the outcome of syncing one source.
type Result struct {
	Source      string `json:"source"`
	SyncID      string `json:"sync_id,omitempty"`
	Records     int    `json:"records"`
	Rows        int64  `json:"rows"`
	New         int    `json:"new"`
	Rejected    int    `json:"rejected"`
	Conflicts   int    `json:"conflicts"`
	NotModified bool   `json:"not_modified,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Syncer runs source feeds into the store.
type Syncer struct {
	st       Store
	fetch    fetcher.ConditionalFetcher
	sources  []config.SourceConfig
	limit    int
	retry    resilience.RetryConfig
	breakers *resilience.Breakers
	detector *reconcile.Detector
	detectMu sync.Mutex
	onSynced []func(Result)
	now      func() time.Time
}

// NewSyncer creates a Syncer. detector may be nil to skip conflict
// detection after syncs.
func NewSyncer(st Store, f fetcher.ConditionalFetcher, cfg config.SyncConfig, detector *reconcile.Detector) *Syncer {
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}
	return &Syncer{
		st:       st,
		fetch:    f,
		sources:  cfg.Sources,
		limit:    limit,
		retry:    resilience.DefaultRetryConfig().WithAttempts(cfg.Retries),
		breakers: resilience.NewBreakers(resilience.BreakerConfig{}),
		detector: detector,
		now:      time.Now,
	}
}

// OnSynced registers fn to run after every completed sync. Register hooks
// before syncing starts.
func (s *Syncer) OnSynced(fn func(Result)) {
	s.onSynced = append(s.onSynced, fn)
}

// Sources returns the configured sources.
func (s *Syncer) Sources() []config.SourceConfig { return s.sources }

func (s *Syncer) source(name string) (config.SourceConfig, error) {
	for _, src := range s.sources {
		if strings.EqualFold(src.Name, name) {
			return src, nil
		}
	}
	return config.SourceConfig{}, eris.Wrapf(ErrUnknownSource, "%q", name)
}

func etagKey(source string) string { return "sync.etag." + strings.ToLower(source) }

// SyncSource fetches and ingests one source. Sources without a URL are
// skipped, and a source whose breaker is open is not fetched.
func (s *Syncer) SyncSource(ctx context.Context, name string) (*Result, error) {
	src, err := s.source(name)
	if err != nil {
		return nil, err
	}
	res := &Result{Source: src.Name}
	log := zap.L().With(zap.String("component", "ingest"), zap.String("source", src.Name))

	if src.URL == "" {
		res.Skipped = true
		log.Debug("source has no url, skipping")
		return res, nil
	}

	breaker := s.breakers.Get(src.Name)
	if err := breaker.Allow(); err != nil {
		res.Error = err.Error()
		return res, eris.Wrapf(err, "ingest: %s", src.Name)
	}

	syncID, err := s.st.StartSync(ctx, src.Name)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: start sync for %s", src.Name)
	}
	res.SyncID = syncID

	start := s.now()
	log.Info("starting sync")
	meta, err := s.ingest(ctx, src, res)
	breaker.Record(err)
	elapsed := time.Since(start)

	if err != nil {
		res.Error = err.Error()
		log.Error("sync failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		if logErr := s.st.FailSync(context.WithoutCancel(ctx), syncID, err.Error()); logErr != nil {
			log.Error("failed to record sync failure", zap.Error(logErr))
		}
		s.audit(ctx, model.AuditSync, "Source:"+src.Name, err.Error(), model.AuditFailure)
		return res, err
	}

	if err := s.st.CompleteSync(ctx, syncID, res.Rows, meta); err != nil {
		log.Error("failed to record sync completion", zap.Error(err))
	}
	p := message.NewPrinter(language.English)
	s.audit(ctx, model.AuditSync, "Source:"+src.Name, p.Sprintf("%d records updated", res.Rows), model.AuditSuccess)
	log.Info("sync complete",
		zap.Int64("rows", res.Rows),
		zap.Int("new", res.New),
		zap.Int("rejected", res.Rejected),
		zap.Bool("not_modified", res.NotModified),
		zap.Duration("elapsed", elapsed),
	)
	for _, fn := range s.onSynced {
		fn(*res)
	}
	return res, nil
}

func (s *Syncer) ingest(ctx context.Context, src config.SourceConfig, res *Result) (map[string]any, error) {
	etag, err := kv.Get(ctx, s.st, etagKey(src.Name), "")
	if err != nil {
		return nil, err
	}
	retry := s.retry
	retry.OnRetry = resilience.RetryLogger(src.Name, "download")
	dl, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (download, error) {
		return s.download(ctx, src.URL, etag)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: fetch %s", src.Name)
	}
	if !dl.changed {
		res.NotModified = true
		return map[string]any{"not_modified": true}, nil
	}
	newTag, data := dl.etag, dl.data

	recs, err := ParseFeed(data, src.Format, src.Sheet)
	if err != nil {
		return nil, err
	}
	res.Records = len(recs)

	runStart := s.now().UTC()
	var actions []model.CorporateAction
	for i, rec := range recs {
		a, out, err := s.convert(ctx, src, rec, runStart)
		if err != nil {
			return nil, err
		}
		switch out {
		case accepted:
			actions = append(actions, a)
		case ambiguous:
			res.Conflicts++
		default:
			res.Rejected++
			zap.L().Debug("rejected feed row", zap.String("source", src.Name), zap.Int("row", i+1))
		}
	}

	n, err := s.st.UpsertActions(ctx, actions)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: upsert %s actions", src.Name)
	}
	res.Rows = n

	fresh, err := s.st.ListActions(ctx, store.ActionFilter{Source: src.Name, CreatedSince: runStart, IncludeArchived: true, Limit: -1})
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list new actions")
	}
	res.New = len(fresh)
	for _, a := range fresh {
		s.audit(ctx, model.AuditIngestEvent, "Event:"+a.ID,
			"Added "+strings.ToLower(a.EventType.Label())+" for "+a.SecurityName, model.AuditSuccess)
	}

	if newTag != "" && newTag != etag {
		if err := kv.Set(ctx, s.st, etagKey(src.Name), newTag); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"records":   res.Records,
		"rejected":  res.Rejected,
		"conflicts": res.Conflicts,
		"new":       res.New,
		"format":    src.Format,
	}, nil
}

type download struct {
	data    []byte
	etag    string
	changed bool
}

func (s *Syncer) download(ctx context.Context, url, etag string) (download, error) {
	body, tag, changed, err := s.fetch.DownloadIfChanged(ctx, url, etag)
	if err != nil || !changed {
		return download{}, err
	}
	defer body.Close() //nolint:errcheck
	data, err := io.ReadAll(body)
	if err != nil {
		return download{}, err
	}
	return download{data: data, etag: tag, changed: true}, nil
}

type outcome int

const (
	rejected outcome = iota
	accepted
	ambiguous
)

// convert resolves rec to a security and builds its action. Rows whose
// identifiers point at different securities raise an identifier conflict.
func (s *Syncer) convert(ctx context.Context, src config.SourceConfig, rec Record, now time.Time) (model.CorporateAction, outcome, error) {
	ids := rec.Identifiers()
	if len(ids) == 0 {
		s.reject(ctx, src, "row has no identifiers")
		return model.CorporateAction{}, rejected, nil
	}

	var (
		matched []*model.Security
		via     []model.Identifier
	)
	for _, id := range ids {
		sec, _, err := s.st.FindByIdentifier(ctx, id.Value)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return model.CorporateAction{}, rejected, eris.Wrap(err, "ingest: resolve identifier")
		}
		dup := false
		for _, m := range matched {
			dup = dup || m.ID == sec.ID
		}
		if !dup {
			matched = append(matched, sec)
			via = append(via, id)
		}
	}

	switch len(matched) {
	case 0:
		s.reject(ctx, src, "no security matches "+describe(ids))
		return model.CorporateAction{}, rejected, nil
	case 1:
	default:
		if err := s.identifierConflict(ctx, src, rec, matched, via, now); err != nil {
			return model.CorporateAction{}, rejected, err
		}
		return model.CorporateAction{}, ambiguous, nil
	}

	a, err := rec.ToAction(matched[0], src.Name, now)
	if err != nil {
		s.reject(ctx, src, err.Error())
		return model.CorporateAction{}, rejected, nil
	}
	return a, accepted, nil
}

func (s *Syncer) identifierConflict(ctx context.Context, src config.SourceConfig, rec Record, matched []*model.Security, via []model.Identifier, now time.Time) error {
	event, _ := ParseEventType(rec.EventType)
	ex, _ := model.ParseDate(rec.ExDate)
	conf := model.Confidence(strings.ToUpper(src.Confidence))
	if !conf.Valid() {
		conf = model.ConfidenceMedium
	}

	c := &model.Conflict{
		SecurityID:   matched[0].ID,
		SecurityName: matched[0].Name,
		EventType:    event,
		ConflictType: model.ConflictIdentifier,
		Status:       model.ConflictUnresolved,
	}
	var parts []string
	for i, sec := range matched {
		parts = append(parts, string(via[i].Type)+" "+via[i].Value+" -> "+sec.ID)
		c.Sources = append(c.Sources, model.Observation{
			Source: sec.ID,
			Data: map[string]string{
				"feed":          src.Name,
				"identifier":    string(via[i].Type) + " " + via[i].Value,
				"security_name": sec.Name,
				"ex_date":       ex.String(),
			},
			RetrievedAt: now,
			Confidence:  conf,
		})
	}
	c.Details = strings.Join(parts, " vs ")

	if s.detector == nil {
		s.reject(ctx, src, "ambiguous identifiers: "+c.Details)
		return nil
	}
	_, err := s.detector.Raise(ctx, c)
	return err
}

func describe(ids []model.Identifier) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strings.ToLower(string(id.Type)) + "=" + id.Value
	}
	return strings.Join(parts, ", ")
}

func (s *Syncer) reject(ctx context.Context, src config.SourceConfig, reason string) {
	s.audit(ctx, model.AuditRejectRecord, "Source:"+src.Name, reason, model.AuditFailure)
}

func (s *Syncer) audit(ctx context.Context, action, entity, details, status string) {
	err := s.st.AppendAudit(context.WithoutCancel(ctx), &model.AuditEntry{
		User:    SystemUser,
		Action:  action,
		Entity:  entity,
		Details: details,
		Status:  status,
	})
	if err != nil {
		zap.L().Warn("ingest: audit", zap.String("action", action), zap.Error(err))
	}
}

// SyncAll syncs the named sources, or every configured source, with bounded
// concurrency, then runs conflict detection when any rows landed. A failing
// source does not stop the others; their errors are joined.
func (s *Syncer) SyncAll(ctx context.Context, names ...string) ([]Result, error) {
	if len(names) == 0 {
		for _, src := range s.sources {
			names = append(names, src.Name)
		}
	}
	for _, name := range names {
		if _, err := s.source(name); err != nil {
			return nil, err
		}
	}

	results := make([]Result, len(names))
	errs := make([]error, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, name := range names {
		g.Go(func() error {
			res, err := s.SyncSource(gctx, name)
			if res != nil {
				results[i] = *res
			} else {
				results[i] = Result{Source: name}
			}
			if err != nil {
				results[i].Error = err.Error()
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	var rows int64
	for _, r := range results {
		rows += r.Rows
	}
	if rows > 0 {
		if _, err := s.Detect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// Detect runs conflict detection across all securities. Runs are serialized.
func (s *Syncer) Detect(ctx context.Context) (*reconcile.DetectResult, error) {
	if s.detector == nil {
		return &reconcile.DetectResult{}, nil
	}
	s.detectMu.Lock()
	defer s.detectMu.Unlock()
	return s.detector.Detect(ctx, "")
}

// BreakerStates reports each source's circuit state.
func (s *Syncer) BreakerStates() map[string]resilience.BreakerState {
	return s.breakers.States()
}

// Confidences maps each configured source to the confidence label its
// reports carry, defaulting to MEDIUM.
func Confidences(sources []config.SourceConfig) map[string]model.Confidence {
	out := make(map[string]model.Confidence, len(sources))
	for _, src := range sources {
		c := model.Confidence(strings.ToUpper(src.Confidence))
		if !c.Valid() {
			c = model.ConfidenceMedium
		}
		out[src.Name] = c
	}
	return out
}
