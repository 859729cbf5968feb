package a2a

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often a Sweeper expires overdue requests.
const DefaultSweepInterval = time.Minute

// Sweeper runs ExpireSweep on a fixed interval until stopped.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	wg   sync.WaitGroup
	quit chan struct{}
	once sync.Once
}

// NewSweeper creates a stopped Sweeper. A zero interval selects
// DefaultSweepInterval.
func NewSweeper(svc *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		svc:      svc,
		interval: interval,
		timeout:  interval,
		logger:   logger,
		quit:     make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs immediately.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.quit) })
	s.wg.Wait()
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.quit:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.svc.ExpireSweep(ctx); err != nil {
		s.logger.Error("authorization sweep failed", "error", err)
	}
}
