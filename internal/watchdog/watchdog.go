// Package watchdog expires alerts whose wait window has lapsed. One Watchdog
// per process owns the timer; screens learn about expiries through the
// ExpiryPrompt signal instead of running their own timers.
package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/example/parkswap/internal/latch"
	"github.com/example/parkswap/internal/lifecycle"
	"github.com/example/parkswap/internal/localstate"
	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/observability"
	"github.com/example/parkswap/internal/signals"
	"github.com/example/parkswap/internal/storage"
)

type Config struct {
	Lifecycle *lifecycle.Service
	Store     storage.AlertStore
	Signals   signals.Publisher
	Logger    *slog.Logger
	// Latch may be shared with other watchers; a private one is created when nil.
	Latch    *latch.Latch
	Interval time.Duration
	// OwnerID restricts the watchdog to one owner's alerts. Empty watches all.
	OwnerID string
}

type Watchdog struct {
	life     *lifecycle.Service
	store    storage.AlertStore
	signals  signals.Publisher
	logger   *slog.Logger
	latch    *latch.Latch
	interval time.Duration
	ownerID  string
}

func New(c Config) *Watchdog {
	if c.Latch == nil {
		c.Latch = latch.New()
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Signals == nil {
		c.Signals = &signals.Recorder{}
	}
	return &Watchdog{
		life:     c.Lifecycle,
		store:    c.Store,
		signals:  c.Signals,
		logger:   c.Logger,
		latch:    c.Latch,
		interval: c.Interval,
		ownerID:  c.OwnerID,
	}
}

// Report lists what one tick did.
type Report struct {
	Expired  []string
	Prompted []string
	Pruned   []string
}

// Run ticks until ctx is done. Ticks never overlap.
func (w *Watchdog) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick expires every live alert whose wait window has lapsed. Among one
// owner's alerts expiring on the same tick only the most recently created is
// prompted; the others are pruned silently.
func (w *Watchdog) Tick(ctx context.Context) Report {
	start := time.Now()
	defer func() { observability.WatchdogTick.Observe(time.Since(start).Seconds()) }()

	var rep Report
	alerts, err := w.store.FilterAlerts(ctx, storage.AlertFilter{
		OwnerID:  w.ownerID,
		Statuses: []models.AlertStatus{models.StatusActive, models.StatusReserved},
	})
	if err != nil {
		observability.StoreErrors.WithLabelValues("filter_alerts").Inc()
		w.logger.Warn("watchdog filter failed", "error", err)
		return rep
	}

	type expired struct {
		alert   *models.Alert
		created time.Time
	}
	byOwner := make(map[string][]expired)
	for _, a := range alerts {
		if w.life.Remaining(ctx, a) > 0 {
			continue
		}
		key := latch.Key("expire", a.ID)
		if !w.latch.TryAcquire(key) {
			continue
		}
		ok, err := w.life.Expire(ctx, a.ID)
		if err != nil {
			// the marker only stamps the attempt; let the next tick retry
			w.latch.Release(key)
			if !errors.Is(err, models.ErrInvalidTransition) {
				w.logger.Warn("watchdog expire failed", "alert_id", a.ID, "error", err)
			}
			continue
		}
		if !ok {
			continue
		}
		rep.Expired = append(rep.Expired, a.ID)
		created, _ := localstate.ResolveCreatedAt(ctx, w.life.Stamps(), a, w.life.Clock().Now())
		byOwner[a.OwnerID] = append(byOwner[a.OwnerID], expired{alert: a, created: created})
	}

	owners := make([]string, 0, len(byOwner))
	for o := range byOwner {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	for _, owner := range owners {
		group := byOwner[owner]
		sort.Slice(group, func(i, j int) bool {
			if !group[i].created.Equal(group[j].created) {
				return group[i].created.After(group[j].created)
			}
			return group[i].alert.ID > group[j].alert.ID
		})
		for i, e := range group {
			if !w.latch.TryAcquire(latch.Key("prompt", e.alert.ID)) {
				continue
			}
			if i > 0 {
				rep.Pruned = append(rep.Pruned, e.alert.ID)
				w.logger.Debug("expired alert pruned", "alert_id", e.alert.ID, "owner_id", owner)
				continue
			}
			rep.Prompted = append(rep.Prompted, e.alert.ID)
			observability.ExpiryPrompts.Inc()
			w.signals.Publish(signals.ExpiryPrompt{AlertID: e.alert.ID, OwnerID: owner})
			w.signals.Publish(signals.Toast{UserID: owner, Title: "Alert expired", Text: "Your alert expired. Publish it again?"})
		}
	}
	return rep
}
