// Package soak drives a refmap.Map with a position-tracking workload:
// writers publish the latest position of a fixed population of
// identities while readers look them up. With weak or soft values a
// position survives only while a writer still retains it, so the
// workload keeps the reclamation path busy.
package soak

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/llxisdsh/refmap"
	"github.com/llxisdsh/refmap/internal/config"
)

// retainPerWriter is how many recent positions each writer keeps
// strongly reachable.
const retainPerWriter = 256

// Position is the last known position of a tracked identity.
type Position struct {
	ID  string    `codec:"id" json:"id"`
	Lat float64   `codec:"lat" json:"lat"`
	Lon float64   `codec:"lon" json:"lon"`
	Seq uint64    `codec:"seq" json:"seq"`
	At  time.Time `codec:"at" json:"at"`
}

// Report is a snapshot of the workload counters.
type Report struct {
	Writes   uint64
	Reads    uint64
	Hits     uint64
	Misses   uint64
	Computed uint64
	Size     int
}

// Tracker runs the workload. It implements lifecycle.Service.
type Tracker struct {
	cfg    config.SoakConfig
	logger hclog.Logger

	ids        []string
	identities *refmap.Set[string]
	positions  *refmap.Map[string, *Position]
	limiter    *rate.Limiter

	seq      atomic.Uint64
	writes   atomic.Uint64
	reads    atomic.Uint64
	hits     atomic.Uint64
	misses   atomic.Uint64
	computed atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Tracker for a validated configuration.
func New(cfg config.SoakConfig, logger hclog.Logger) *Tracker {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("soak")

	opts := []func(*refmap.MapConfig){
		refmap.WithPresize(cfg.Identities),
		refmap.WithValueStrength(cfg.Strength()),
		refmap.WithLogger(logger),
	}
	if cfg.SoftLimit > 0 {
		opts = append(opts, refmap.WithSoftLimit(cfg.SoftLimit))
	}

	limit, burst := rate.Inf, 0
	if cfg.Rate > 0 {
		limit, burst = rate.Limit(cfg.Rate), cfg.Burst
	}

	t := &Tracker{
		cfg:        cfg,
		logger:     logger,
		ids:        make([]string, cfg.Identities),
		identities: refmap.NewSet[string](refmap.WithPresize(cfg.Identities)),
		positions:  refmap.NewMap[string, *Position](opts...),
		limiter:    rate.NewLimiter(limit, burst),
	}
	for i := range t.ids {
		t.ids[i] = t.identities.Intern(ulid.Make().String())
	}
	return t
}

// Positions returns the tracked positions map.
func (t *Tracker) Positions() *refmap.Map[string, *Position] { return t.positions }

// Identities returns the set of tracked identities.
func (t *Tracker) Identities() *refmap.Set[string] { return t.identities }

func (t *Tracker) Name() string { return "soak" }

// Start launches the writers, readers and the reporter. They run until
// Stop; the caller bounds the run time.
func (t *Tracker) Start(ctx context.Context) error {
	ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.logger.Info("starting workload",
		"identities", len(t.ids),
		"writers", t.cfg.Writers,
		"readers", t.cfg.Readers,
		"value_strength", t.cfg.Strength(),
		"rate", t.cfg.Rate)

	for w := 0; w < t.cfg.Writers; w++ {
		t.wg.Add(1)
		go t.write(ctx, w)
	}
	for r := 0; r < t.cfg.Readers; r++ {
		t.wg.Add(1)
		go t.read(ctx)
	}
	t.wg.Add(1)
	go t.report(ctx)
	return nil
}

// Stop cancels the workload, waits for it to drain and writes the
// snapshot if one is configured.
func (t *Tracker) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for workload: %w", ctx.Err())
	}

	r := t.Report()
	t.logger.Info("workload finished",
		"writes", r.Writes, "reads", r.Reads, "hits", r.Hits,
		"misses", r.Misses, "computed", r.Computed, "size", r.Size)

	if t.cfg.Snapshot == "" {
		return nil
	}
	return t.writeSnapshot(t.cfg.Snapshot)
}

// Report returns the current counters.
func (t *Tracker) Report() Report {
	return Report{
		Writes:   t.writes.Load(),
		Reads:    t.reads.Load(),
		Hits:     t.hits.Load(),
		Misses:   t.misses.Load(),
		Computed: t.computed.Load(),
		Size:     t.positions.Size(),
	}
}

func (t *Tracker) newPosition(id string) *Position {
	return &Position{
		ID:  id,
		Lat: rand.Float64()*180 - 90,
		Lon: rand.Float64()*360 - 180,
		Seq: t.seq.Add(1),
		At:  time.Now(),
	}
}

func (t *Tracker) write(ctx context.Context, w int) {
	defer t.wg.Done()
	retained := make([]*Position, retainPerWriter)
	for i := 0; ; i++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return
		}
		id := t.ids[rand.IntN(len(t.ids))]
		p := t.newPosition(id)
		if old, loaded := t.positions.Put(id, p); loaded && old.ID != id {
			t.logger.Error("position stored under the wrong identity",
				"writer", w, "key", id, "position", old.ID)
		}
		retained[i%retainPerWriter] = p
		t.writes.Add(1)
	}
}

func (t *Tracker) read(ctx context.Context) {
	defer t.wg.Done()
	for i := 0; ctx.Err() == nil; i++ {
		id := t.ids[rand.IntN(len(t.ids))]
		t.reads.Add(1)
		if i%64 == 0 {
			p, err := t.positions.ComputeIfAbsent(id, func(id string) (*Position, error) {
				t.computed.Add(1)
				return t.newPosition(id), nil
			})
			if err == nil && p.ID != id {
				t.logger.Error("computed position has the wrong identity", "key", id)
			}
			continue
		}
		if p, ok := t.positions.Get(id); ok {
			if p.ID != id {
				t.logger.Error("position stored under the wrong identity", "key", id, "position", p.ID)
			}
			t.hits.Add(1)
		} else {
			t.misses.Add(1)
		}
	}
}

func (t *Tracker) report(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.ReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var fresh atomic.Int64
		cutoff := time.Now().Add(-t.cfg.ReportInterval)
		t.positions.ForEach(4, func(_ string, p *Position) {
			if p.At.After(cutoff) {
				fresh.Add(1)
			}
		})
		r := t.Report()
		handled, dropped := refmap.ReclaimStats()
		t.logger.Info("progress",
			"writes", r.Writes, "hits", r.Hits, "misses", r.Misses,
			"size", r.Size, "fresh", fresh.Load(),
			"reclaim_handled", handled, "reclaim_dropped", dropped)
		if t.logger.IsTrace() {
			t.logger.Trace(t.positions.Stats().ToString())
		}
	}
}

func (t *Tracker) writeSnapshot(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	n, err := t.positions.WriteTo(f)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	t.logger.Info("snapshot written", "path", path, "bytes", n)
	return nil
}

// LoadSnapshot reads a snapshot written on Stop into a strong map.
func LoadSnapshot(path string) (*refmap.Map[string, *Position], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	m := refmap.NewMap[string, *Position]()
	if _, err := m.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return m, nil
}
