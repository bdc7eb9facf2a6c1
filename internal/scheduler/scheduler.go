// Package scheduler periodically refreshes the cache entries that callers
// are expected to ask for.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/TobiSchelling/hrnews/internal/aggregate"
	"github.com/TobiSchelling/hrnews/internal/cache"
)

// Refresher runs a forced pass for a request.
type Refresher interface {
	Refresh(ctx context.Context, req aggregate.Request) aggregate.Response
}

type Scheduler struct {
	cron     *cron.Cron
	engine   Refresher
	requests []aggregate.Request

	mu      sync.Mutex
	initial *time.Timer
}

// New schedules a refresh of every region on spec, a standard cron
// expression or descriptor such as "@hourly".
func New(spec string, engine Refresher, regions []string) (*Scheduler, error) {
	c := cron.New()

	if len(regions) == 0 {
		regions = []string{""}
	}
	s := &Scheduler{cron: c, engine: engine}
	for _, r := range regions {
		s.requests = append(s.requests, aggregate.Request{Enabled: true, PreferredRegion: r})
	}

	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule. A first refresh runs after delay so that it
// does not compete with the first foreground requests.
func (s *Scheduler) Start(delay time.Duration) {
	s.cron.Start()
	if delay > 0 {
		s.mu.Lock()
		s.initial = time.AfterFunc(delay, s.runOnce)
		s.mu.Unlock()
	}
}

// Stop halts the schedule, cancels a pending first refresh and waits for
// a running scheduled refresh to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.initial != nil {
		s.initial.Stop()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// RunOnce refreshes every configured request immediately.
func (s *Scheduler) RunOnce() {
	s.runOnce()
}

func (s *Scheduler) runOnce() {
	log.Println("start refresh job...")
	start := time.Now()
	for _, req := range s.requests {
		resp := s.engine.Refresh(context.Background(), req)
		failed := 0
		for _, st := range resp.Sources {
			if st.Status != cache.StatusOK {
				failed++
			}
		}
		log.Printf("refreshed %q: %d articles, %d/%d sources failed", req.PreferredRegion, resp.Total, failed, len(resp.Sources))
	}
	log.Printf("refresh job done in %s", time.Since(start).Round(time.Millisecond))
}
