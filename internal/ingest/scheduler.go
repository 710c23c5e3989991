package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/config"
	"github.com/sells-group/corpaction-cli/internal/model"
	"github.com/sells-group/corpaction-cli/internal/store"
)

// Run syncs every source that has a URL on its configured frequency until
// ctx is cancelled. A source whose last successful sync is older than its
// frequency is synced immediately. Run returns once all source loops exit.
func (s *Syncer) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "scheduler"))
	var wg sync.WaitGroup
	for _, src := range s.sources {
		if src.URL == "" || src.Frequency <= 0 {
			log.Debug("source not scheduled", zap.String("source", src.Name))
			continue
		}
		wg.Add(1)
		go func(src config.SourceConfig) {
			defer wg.Done()
			s.loop(ctx, src)
		}(src)
	}
	log.Info("scheduler started")
	<-ctx.Done()
	wg.Wait()
	log.Info("scheduler stopped")
	return nil
}

func (s *Syncer) loop(ctx context.Context, src config.SourceConfig) {
	if s.due(ctx, src) {
		s.tick(ctx, src)
	}
	t := time.NewTicker(src.Frequency)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx, src)
		}
	}
}

func (s *Syncer) tick(ctx context.Context, src config.SourceConfig) {
	res, err := s.SyncSource(ctx, src.Name)
	if err != nil {
		if ctx.Err() == nil {
			zap.L().Warn("scheduled sync failed", zap.String("source", src.Name), zap.Error(err))
		}
		return
	}
	if res.Rows > 0 {
		if _, err := s.Detect(ctx); err != nil && ctx.Err() == nil {
			zap.L().Warn("conflict detection failed", zap.String("source", src.Name), zap.Error(err))
		}
	}
}

func (s *Syncer) due(ctx context.Context, src config.SourceConfig) bool {
	runs, err := s.st.ListSyncs(ctx, store.SyncFilter{Source: src.Name, Status: model.SyncComplete, Limit: 1})
	if err != nil || len(runs) == 0 || runs[0].CompletedAt == nil {
		return true
	}
	return s.now().Sub(*runs[0].CompletedAt) >= src.Frequency
}
