package generation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically reconciles generations that stopped making progress:
// lost webhooks, abandoned polls, tasks that were never created. It runs the
// same Reconcile as every other path, so a sweep can never disagree with a
// concurrent poll or webhook.
type Sweeper struct {
	svc        *Service
	repo       Repository
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	stopCh     chan struct{}
}

// NewSweeper creates a stale-generation sweeper
func NewSweeper(svc *Service, repo Repository, interval, staleAfter time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &Sweeper{
		svc:        svc,
		repo:       repo,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  50,
		stopCh:     make(chan struct{}),
	}
}

// Start begins the background sweeper
func (s *Sweeper) Start() {
	log.Info().
		Dur("interval", s.interval).
		Dur("stale_after", s.staleAfter).
		Msg("Starting generation sweeper...")
	go s.loop()
}

// Stop gracefully stops the background sweeper
func (s *Sweeper) Stop() {
	log.Info().Msg("Stopping generation sweeper...")
	close(s.stopCh)
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep reconciles one batch of stale generations.
func (s *Sweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.repo.ListStale(ctx, cutoff, s.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list stale generations")
		return
	}
	if len(stale) == 0 {
		return
	}

	processed, failed := 0, 0
	for i := range stale {
		g, err := s.svc.Reconcile(ctx, stale[i].ID, nil)
		if err != nil {
			failed++
			log.Error().Err(err).Str("generation_id", stale[i].ID.String()).Msg("Sweep reconcile failed")
			continue
		}
		processed++
		if g.Status.Terminal() {
			log.Info().
				Str("generation_id", g.ID.String()).
				Str("status", string(g.Status)).
				Msg("Stale generation settled")
		}
	}

	log.Info().
		Int("found", len(stale)).
		Int("processed", processed).
		Int("failed", failed).
		Msg("Sweep finished")
}
