// Package demo files a synthetic reservation request a fixed delay after every
// published alert so the owner flow can be exercised without a second user.
package demo

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/example/parkswap/internal/matcher"
	"github.com/example/parkswap/internal/models"
	"github.com/example/parkswap/internal/signals"
)

var defaultBuyers = []models.Buyer{
	{Name: "Lucía", CarBrand: "Seat", CarModel: "Ibiza", CarColor: "red", CarPlate: "4821KLM"},
	{Name: "Marco", CarBrand: "Renault", CarModel: "Clio", CarColor: "white", CarPlate: "1190JHB"},
	{Name: "Inés", CarBrand: "Toyota", CarModel: "Yaris", CarColor: "grey", CarPlate: "7302LCD"},
}

type Simulator struct {
	matcher *matcher.Service
	delay   time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	n      int
	timers map[string]*time.Timer
}

func NewSimulator(m *matcher.Service, delay time.Duration, logger *slog.Logger) *Simulator {
	if delay <= 0 {
		delay = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{matcher: m, delay: delay, logger: logger, timers: make(map[string]*time.Timer)}
}

// Attach starts a timer for every AlertPublished signal on bus.
func (s *Simulator) Attach(bus *signals.Bus) func() {
	return bus.SubscribeKind(signals.KindAlertPublished, func(sig signals.Signal) {
		p, ok := sig.(signals.AlertPublished)
		if !ok {
			return
		}
		s.schedule(p.AlertID)
	})
}

func (s *Simulator) schedule(alertID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[alertID]; ok {
		return
	}
	s.timers[alertID] = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		delete(s.timers, alertID)
		s.mu.Unlock()
		_, _ = s.Fire(context.Background(), alertID)
	})
}

// Fire files one synthetic request against alertID now.
func (s *Simulator) Fire(ctx context.Context, alertID string) (*models.ReservationRequest, error) {
	s.mu.Lock()
	s.n++
	n := s.n
	s.mu.Unlock()

	b := defaultBuyers[(n-1)%len(defaultBuyers)]
	b.ID = "demo-buyer-" + strconv.Itoa(n)
	r, err := s.matcher.Request(ctx, alertID, b)
	if err != nil {
		s.logger.Info("demo request skipped", "alert_id", alertID, "error", err)
		return nil, err
	}
	s.logger.Info("demo request filed", "alert_id", alertID, "request_id", r.ID, "buyer_id", b.ID)
	return r, nil
}

// Pending reports how many timers are still waiting.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
