// Package sweeper periodically removes expired entries from the cache tiers.
package sweeper

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Tier is a cache that can drop its expired entries.
type Tier interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Sweeper runs CleanupExpired on every tier at a fixed interval.
type Sweeper struct {
	tiers    map[string]Tier
	interval time.Duration
	log      logrus.FieldLogger
}

// New creates a sweeper. Nil tiers are skipped.
func New(interval time.Duration, tiers map[string]Tier, log logrus.FieldLogger) *Sweeper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	active := make(map[string]Tier, len(tiers))
	for name, t := range tiers {
		if t != nil {
			active[name] = t
		}
	}
	return &Sweeper{tiers: active, interval: interval, log: log.WithField("component", "sweeper")}
}

// RunOnce cleans every tier concurrently and returns the rows removed per
// tier. A failing tier does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) (map[string]int64, error) {
	counts := make([]int64, 0, len(s.tiers))
	names := make([]string, 0, len(s.tiers))
	for name := range s.tiers {
		names = append(names, name)
		counts = append(counts, 0)
	}

	var g errgroup.Group
	for i, name := range names {
		tier := s.tiers[name]
		g.Go(func() error {
			n, err := tier.CleanupExpired(ctx)
			if err != nil {
				s.log.WithError(err).WithField("tier", name).Warn("cleanup failed")
				return err
			}
			counts[i] = n
			return nil
		})
	}
	err := g.Wait()

	out := make(map[string]int64, len(names))
	for i, name := range names {
		out[name] = counts[i]
	}
	return out, err
}

// Run sweeps until ctx is done. A non-positive interval disables it.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 || len(s.tiers) == 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, _ := s.RunOnce(ctx)
			for tier, n := range counts {
				if n > 0 {
					s.log.WithFields(logrus.Fields{"tier": tier, "deleted": n}).Info("expired entries removed")
				}
			}
		}
	}
}
