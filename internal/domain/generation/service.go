package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pixora/pixora-api/internal/domain/asset"
	"github.com/pixora/pixora-api/internal/domain/credit"
	"github.com/pixora/pixora-api/internal/domain/model"
	"github.com/pixora/pixora-api/internal/pkg/kie"
)

// Ledger is the credit surface the lifecycle needs.
type Ledger interface {
	Reserve(ctx context.Context, ownerID, generationID uuid.UUID, amount credit.Amount) error
	Finalize(ctx context.Context, generationID uuid.UUID, actual credit.Amount) error
	Refund(ctx context.Context, generationID uuid.UUID) error
}

// Provider is the task adapter surface.
type Provider interface {
	CreateTask(ctx context.Context, providerModel string, payload map[string]interface{}, createPath string) (*kie.CreateResult, error)
	GetTaskStatus(ctx context.Context, taskID string, statusPath string) (*kie.StatusResult, error)
}

// Materializer turns a provider output URL into an owned asset.
type Materializer interface {
	Materialize(ctx context.Context, ownerID, generationID uuid.UUID, sourceURL string) (*asset.Asset, error)
}

// Catalog resolves models and presets.
type Catalog interface {
	GetByKey(ctx context.Context, key string) (*model.Model, error)
	GetPresetByKey(ctx context.Context, key string) (*model.Preset, error)
}

// Hint carries provider state delivered out of band (webhook). The
// reconciler treats it as a shortcut, never as the only source of truth.
type Hint struct {
	Status    kie.TaskStatus
	OutputURL string
	Error     string
}

// Config tunes the lifecycle.
type Config struct {
	MarkupPercent float64
	// StaleAfter bounds how long a generation may sit without a provider
	// task before it is failed and refunded.
	StaleAfter time.Duration
}

// Service orchestrates the generation lifecycle: reserve credits, submit to
// the provider, reconcile poll and webhook paths into one terminal state,
// and settle the reservation exactly once.
type Service struct {
	repo         Repository
	ledger       Ledger
	provider     Provider
	materializer Materializer
	catalog      Catalog
	rdb          *redis.Client // optional reconcile guard
	cfg          Config
}

func NewService(repo Repository, ledger Ledger, provider Provider, materializer Materializer, catalog Catalog, rdb *redis.Client, cfg Config) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	return &Service{
		repo:         repo,
		ledger:       ledger,
		provider:     provider,
		materializer: materializer,
		catalog:      catalog,
		rdb:          rdb,
		cfg:          cfg,
	}
}

// Create accepts a generation request: price it, reserve credits, submit the
// provider task. Insufficient credits abort before the provider is touched.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*Generation, error) {
	preset, err := s.catalog.GetPresetByKey(ctx, req.PresetKey)
	if err != nil {
		return nil, err
	}
	m, err := s.catalog.GetByKey(ctx, preset.ModelKey)
	if err != nil {
		return nil, err
	}

	estimate := model.EstimateCost(preset.BaseCost, m.PriceMultiplier, s.cfg.MarkupPercent)

	params := model.Params{}
	for k, v := range preset.Defaults {
		params[k] = v
	}
	for k, v := range req.Params {
		params[k] = v
	}

	g := &Generation{
		OwnerID:           ownerID,
		PresetKey:         preset.Key,
		ModelKey:          m.Key,
		Prompt:            req.Prompt,
		ReferenceImageURL: req.ReferenceImageURL,
		ReferenceVideoURL: req.ReferenceVideoURL,
		StartFrameURL:     req.StartFrameURL,
		EndFrameURL:       req.EndFrameURL,
		AudioURL:          req.AudioURL,
		Params:            params,
		Status:            StatusQueued,
		ReservedCost:      estimate,
	}
	if err := s.repo.Create(ctx, g); err != nil {
		return nil, err
	}

	if err := s.ledger.Reserve(ctx, ownerID, g.ID, estimate); err != nil {
		if errors.Is(err, credit.ErrInsufficientCredits) || errors.Is(err, credit.ErrAccountNotFound) {
			// Business outcome, never retried against the ledger.
			if _, mErr := s.repo.MarkFailed(ctx, g.ID, "insufficient credits", false); mErr != nil {
				log.Error().Err(mErr).Str("generation_id", g.ID.String()).Msg("failed to mark generation failed")
			}
			return nil, credit.ErrInsufficientCredits
		}
		return nil, err
	}

	payload := kie.BuildPayload(m.Key, kie.PayloadInput{
		Prompt:            req.Prompt,
		ReferenceImageURL: req.ReferenceImageURL,
		ReferenceVideoURL: req.ReferenceVideoURL,
		StartFrameURL:     req.StartFrameURL,
		EndFrameURL:       req.EndFrameURL,
		AudioURL:          req.AudioURL,
		Params:            params,
	}, kie.Capabilities(m.Capabilities))

	endpoints := kie.EndpointsFor(kie.Family(m.Family))
	created, err := s.provider.CreateTask(ctx, m.ProviderModel, payload, endpoints.CreatePath)
	if err != nil {
		return nil, s.failSubmission(ctx, g, err)
	}

	if err := s.repo.SetProviderTask(ctx, g.ID, created.TaskID); err != nil {
		log.Error().Err(err).Str("generation_id", g.ID.String()).Msg("failed to attach provider task")
	}
	if created.Status == kie.StatusProcessing {
		if err := s.repo.MarkProcessing(ctx, g.ID); err != nil {
			log.Error().Err(err).Str("generation_id", g.ID.String()).Msg("failed to mark processing")
		}
	}

	log.Info().
		Str("generation_id", g.ID.String()).
		Str("model", m.Key).
		Str("task_id", created.TaskID).
		Int64("reserved", int64(estimate)).
		Msg("generation submitted")

	return s.repo.GetByID(ctx, g.ID)
}

// failSubmission settles a generation whose provider submission failed: the
// reservation comes back in full and the error class decides retryability.
func (s *Service) failSubmission(ctx context.Context, g *Generation, cause error) error {
	if err := s.ledger.Refund(ctx, g.ID); err != nil && !errors.Is(err, credit.ErrAlreadySettled) {
		log.Error().Err(err).Str("generation_id", g.ID.String()).Msg("refund after failed submission failed")
	}

	var message string
	var retryable bool
	var result error
	switch {
	case kie.IsModelRejected(cause):
		message = fmt.Sprintf("provider rejected the task: %v", cause)
		result = fmt.Errorf("%w: %v", ErrProviderRejected, cause)
	case kie.IsTransient(cause):
		message = fmt.Sprintf("provider unavailable: %v", cause)
		retryable = true
		result = fmt.Errorf("%w: %v", ErrProviderUnavailable, cause)
	default:
		message = fmt.Sprintf("task submission failed: %v", cause)
		result = fmt.Errorf("%w: %v", ErrProviderRejected, cause)
	}

	if _, err := s.repo.MarkFailed(ctx, g.ID, message, retryable); err != nil {
		log.Error().Err(err).Str("generation_id", g.ID.String()).Msg("failed to mark generation failed")
	}

	return result
}

// Reconcile drives a generation toward its terminal state. It is the single
// convergence point for the poll path, the webhook path and the sweeper:
// every caller runs the same logic and conditional updates decide the
// winner. Terminal generations are returned unchanged.
func (s *Service) Reconcile(ctx context.Context, id uuid.UUID, hint *Hint) (*Generation, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status.Terminal() {
		return g, nil
	}

	if g.ProviderTaskID == nil {
		// Submission never completed. Give in-flight creation a grace
		// window, then fail and refund.
		if time.Since(g.CreatedAt) > s.cfg.StaleAfter {
			return s.settleFailure(ctx, g, "provider task was never created", false)
		}
		return g, nil
	}

	status, outputURL, provErr, fromPoll := s.resolveProviderState(ctx, g, hint)
	if status == "" {
		// Provider unreachable and no usable hint. Leave the row as is;
		// the sweeper or the next poll retries.
		return g, nil
	}

	switch status {
	case kie.StatusQueued, kie.StatusProcessing:
		if status == kie.StatusProcessing {
			if err := s.repo.MarkProcessing(ctx, g.ID); err != nil {
				log.Error().Err(err).Str("generation_id", g.ID.String()).Msg("failed to mark processing")
			}
		}
		return s.repo.GetByID(ctx, g.ID)

	case kie.StatusSucceeded:
		return s.settleSuccess(ctx, g, outputURL, fromPoll)

	case kie.StatusFailed:
		message := provErr
		if message == "" {
			message = "generation failed at provider"
		}
		return s.settleFailure(ctx, g, message, false)
	}

	return g, nil
}

// resolveProviderState decides what the provider currently says about the
// task. A terminal webhook hint short-circuits the poll; otherwise the
// provider is polled, guarded by a short Redis lock so concurrent
// reconcilers do not hammer the status endpoint. Correctness never depends
// on the lock.
func (s *Service) resolveProviderState(ctx context.Context, g *Generation, hint *Hint) (status kie.TaskStatus, outputURL, provErr string, fromPoll bool) {
	if hint != nil && hint.Status.Terminal() {
		if hint.Status == kie.StatusSucceeded && hint.OutputURL == "" {
			// A success hint without an output still needs the poll.
			log.Debug().Str("generation_id", g.ID.String()).Msg("success hint without output, polling provider")
		} else {
			return hint.Status, hint.OutputURL, hint.Error, false
		}
	}

	if s.rdb != nil && hint == nil {
		key := "reconcile:" + g.ID.String()
		ok, err := s.rdb.SetNX(ctx, key, "1", 15*time.Second).Result()
		if err == nil && !ok {
			// Another reconciler is polling right now.
			return "", "", "", false
		}
	}

	m, err := s.catalog.GetByKey(ctx, g.ModelKey)
	statusPath := ""
	if err == nil {
		statusPath = kie.EndpointsFor(kie.Family(m.Family)).StatusPath
	}

	res, err := s.provider.GetTaskStatus(ctx, *g.ProviderTaskID, statusPath)
	if err != nil {
		log.Warn().Err(err).Str("generation_id", g.ID.String()).Msg("provider status poll failed")
		return "", "", "", false
	}

	if uErr := s.repo.UpdateProgress(ctx, g.ID, string(res.Status), res.Progress, res.Raw); uErr != nil {
		log.Error().Err(uErr).Str("generation_id", g.ID.String()).Msg("failed to persist provider progress")
	}

	return res.Status, res.OutputURL, res.Error, true
}

// settleSuccess materializes the output, settles the reservation and moves
// the generation to succeeded. Ordering matters: the asset must exist
// before the status flips so no reader ever sees succeeded without an
// output.
func (s *Service) settleSuccess(ctx context.Context, g *Generation, outputURL string, fromPoll bool) (*Generation, error) {
	if outputURL == "" && !fromPoll {
		// Hint said success but carried no output; poll next time.
		return g, nil
	}
	if outputURL == "" {
		log.Warn().Str("generation_id", g.ID.String()).Msg("provider reports success without output url")
		return g, nil
	}

	if _, err := s.materializer.Materialize(ctx, g.OwnerID, g.ID, outputURL); err != nil {
		if errors.Is(err, asset.ErrFetchFailed) {
			log.Warn().Err(err).Str("generation_id", g.ID.String()).Msg("output fetch failed, will retry")
			return g, nil
		}
		return nil, err
	}

	// Full reservation is the actual cost; the provider does not report
	// per-task pricing.
	actual := g.ReservedCost
	if err := s.ledger.Finalize(ctx, g.ID, actual); err != nil {
		if errors.Is(err, credit.ErrAlreadySettled) {
			// A refund beat us despite a successful output. The money
			// went back to the user; keep the state safe and loud.
			log.Error().
				Str("generation_id", g.ID.String()).
				Msg("finalize raced a refund for a succeeded generation")
		} else if !errors.Is(err, credit.ErrNoReservation) {
			return nil, err
		}
	}

	won, err := s.repo.MarkSucceeded(ctx, g.ID, actual)
	if err != nil {
		return nil, err
	}
	if !won {
		log.Debug().Str("generation_id", g.ID.String()).Msg("another path already settled this generation")
	} else {
		log.Info().Str("generation_id", g.ID.String()).Msg("generation succeeded")
	}

	return s.repo.GetByID(ctx, g.ID)
}

func (s *Service) settleFailure(ctx context.Context, g *Generation, message string, retryable bool) (*Generation, error) {
	if err := s.ledger.Refund(ctx, g.ID); err != nil {
		if errors.Is(err, credit.ErrAlreadySettled) {
			log.Error().
				Str("generation_id", g.ID.String()).
				Msg("refund raced a finalize for a failed generation")
		} else if !errors.Is(err, credit.ErrNoReservation) {
			return nil, err
		}
	}

	won, err := s.repo.MarkFailed(ctx, g.ID, message, retryable)
	if err != nil {
		return nil, err
	}
	if won {
		log.Info().
			Str("generation_id", g.ID.String()).
			Str("reason", message).
			Msg("generation failed")
	}

	return s.repo.GetByID(ctx, g.ID)
}

// Cancel is the admin path for abandoning a stuck generation. The
// reservation is refunded and the status moves to cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Generation, error) {
	g, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}

	if err := s.ledger.Refund(ctx, g.ID); err != nil {
		if errors.Is(err, credit.ErrAlreadySettled) {
			return nil, ErrAlreadyTerminal
		}
		if !errors.Is(err, credit.ErrNoReservation) {
			return nil, err
		}
	}

	won, err := s.repo.MarkCancelled(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyTerminal
	}

	log.Info().Str("generation_id", g.ID.String()).Msg("generation cancelled by admin")
	return s.repo.GetByID(ctx, g.ID)
}

// GetForOwner returns the owner's generation after reconciling it, so a poll
// is never a stale read.
func (s *Service) GetForOwner(ctx context.Context, id, ownerID uuid.UUID) (*Generation, error) {
	if _, err := s.repo.GetByIDForOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}

	g, err := s.Reconcile(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// ListForOwner returns the owner's generations, newest first.
func (s *Service) ListForOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]Generation, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit, offset)
}

// HandleWebhook records the delivery and reconciles with the webhook's view
// of the task. Unknown tasks are reported as not found so the transport can
// still acknowledge the delivery.
func (s *Service) HandleWebhook(ctx context.Context, taskID string, hint *Hint, raw []byte) (*Generation, error) {
	g, err := s.repo.GetByProviderTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.RecordWebhook(ctx, g.ID, raw); err != nil {
		log.Error().Err(err).Str("generation_id", g.ID.String()).Msg("failed to record webhook payload")
	}

	return s.Reconcile(ctx, g.ID, hint)
}
