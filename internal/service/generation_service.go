package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loveaihub/loveaihub/internal/config"
	"github.com/loveaihub/loveaihub/internal/models"
	"github.com/loveaihub/loveaihub/internal/provider"
	"github.com/loveaihub/loveaihub/internal/repository"
)

// QuotaLedger reserves and releases generation quota. Reserve must be atomic
// with respect to concurrent requests for the same user.
type QuotaLedger interface {
	ReserveGeneration(ctx context.Context, userID string) (bool, error)
	ReleaseGeneration(ctx context.Context, userID string) error
}

// GenerationStore is the durable record of every generation attempt.
type GenerationStore interface {
	Create(ctx context.Context, gen *models.Generation) error
	Complete(ctx context.Context, id string, result models.Result) error
	Fail(ctx context.Context, id string, meta models.Metadata) error
	FindByID(ctx context.Context, userID, id string) (*models.Generation, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Generation, error)
	ListByUser(ctx context.Context, userID string, f repository.Filter) ([]models.Generation, error)
	Delete(ctx context.Context, userID, id string) error
	MarkStaleFailed(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ProviderAPI is the slice of the external AI provider the gateway calls.
type ProviderAPI interface {
	GenerateImage(ctx context.Context, req provider.ImageRequest) ([]provider.Asset, error)
	EditImage(ctx context.Context, req provider.ImageEditRequest) ([]provider.Asset, error)
	GenerateVideo(ctx context.Context, req provider.VideoRequest) (string, error)
	Chat(ctx context.Context, req provider.ChatRequest) (string, error)
	Speech(ctx context.Context, req provider.SpeechRequest) (*provider.Audio, error)
	Transcribe(ctx context.Context, req provider.TranscriptionRequest) (string, error)
	EnhancePrompt(ctx context.Context, prompt string) (string, error)
}

// AssetStore persists binary provider payloads and returns public URLs.
type AssetStore interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

type GenerationService struct {
	cfg    config.Config
	log    *slog.Logger
	ledger QuotaLedger
	store  GenerationStore
	api    ProviderAPI
	assets AssetStore // nil when object storage is not configured
}

func NewGenerationService(cfg config.Config, log *slog.Logger, ledger QuotaLedger, store GenerationStore, api ProviderAPI, assets AssetStore) *GenerationService {
	return &GenerationService{
		cfg:    cfg,
		log:    log,
		ledger: ledger,
		store:  store,
		api:    api,
		assets: assets,
	}
}

// Options are the kind-specific knobs of a generation request; they end up
// in the record's metadata.
type Options struct {
	N             int    `json:"n,omitempty"`
	Size          string `json:"size,omitempty"`
	Quality       string `json:"quality,omitempty"`
	Style         string `json:"style,omitempty"`
	Voice         string `json:"voice,omitempty"`
	Language      string `json:"language,omitempty"`
	Duration      int    `json:"duration,omitempty"`
	AudioURL      string `json:"audio_url,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	EnhancePrompt bool   `json:"enhance_prompt,omitempty"`
}

type GenerateRequest struct {
	Kind           models.GenerationKind `json:"kind"`
	Model          string                `json:"model"`
	Prompt         string                `json:"prompt"`
	IdempotencyKey string                `json:"-"`
	Options        Options               `json:"options"`
}

// Generate runs one end-to-end generation: reserve quota, record the attempt,
// call the provider, finalize the record. The quota reservation is atomic, so
// concurrent requests from a free-tier user near the limit cannot overshoot
// it; a failed provider call releases the reservation again. Provider calls
// are not retried.
func (s *GenerationService) Generate(ctx context.Context, user *models.User, req GenerateRequest) (*models.Generation, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, user.ID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	reserved, err := s.ledger.ReserveGeneration(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, models.ErrQuotaExceeded
	}

	prompt := req.Prompt
	if req.Options.EnhancePrompt && wantsEnhancedPrompt(req.Kind) {
		if enhanced, err := s.api.EnhancePrompt(ctx, prompt); err != nil {
			// best effort: keep the original prompt
			s.log.Warn("prompt enhancement failed", "user", user.ID, "err", err)
		} else if enhanced != "" {
			prompt = enhanced
		}
	}

	gen := &models.Generation{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Kind:           req.Kind,
		Model:          req.Model,
		Prompt:         prompt,
		Status:         models.StatusPending,
		Metadata:       metadataFromOptions(req.Options),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.Create(ctx, gen); err != nil {
		if relErr := s.ledger.ReleaseGeneration(ctx, user.ID); relErr != nil {
			s.log.Error("release after create failure", "user", user.ID, "err", relErr)
		}
		return nil, fmt.Errorf("create generation record: %w", err)
	}

	result, err := s.invoke(ctx, gen, req.Options)
	if err != nil {
		return nil, s.finishFailed(ctx, gen, err)
	}

	if err := s.store.Complete(ctx, gen.ID, *result); err != nil {
		// The provider call succeeded but the outcome could not be persisted.
		// The record stays pending and is reconciled by the stale sweep.
		s.log.Error("persist generation result", "generation", gen.ID, "err", err)
		return nil, fmt.Errorf("persist generation result: %w", err)
	}

	gen.Status = models.StatusCompleted
	gen.Result = result
	return gen, nil
}

// invoke dispatches to the kind-specific provider endpoint and normalizes the
// response into the tagged result shape.
func (s *GenerationService) invoke(ctx context.Context, gen *models.Generation, opts Options) (*models.Result, error) {
	switch gen.Kind {
	case models.KindImage:
		assets, err := s.api.GenerateImage(ctx, provider.ImageRequest{
			Model:   gen.Model,
			Prompt:  gen.Prompt,
			N:       opts.N,
			Size:    opts.Size,
			Quality: opts.Quality,
			Style:   opts.Style,
		})
		if err != nil {
			return nil, err
		}
		urls, err := s.assetURLs(ctx, assets)
		if err != nil {
			return nil, err
		}
		return &models.Result{Kind: models.KindImage, Images: urls}, nil

	case models.KindImageEdit:
		assets, err := s.api.EditImage(ctx, provider.ImageEditRequest{
			Model:    gen.Model,
			Prompt:   gen.Prompt,
			ImageURL: opts.ImageURL,
			Size:     opts.Size,
		})
		if err != nil {
			return nil, err
		}
		urls, err := s.assetURLs(ctx, assets)
		if err != nil {
			return nil, err
		}
		return &models.Result{Kind: models.KindImageEdit, Images: urls}, nil

	case models.KindVideo:
		url, err := s.api.GenerateVideo(ctx, provider.VideoRequest{
			Model:    gen.Model,
			Prompt:   gen.Prompt,
			Duration: opts.Duration,
		})
		if err != nil {
			return nil, err
		}
		return &models.Result{Kind: models.KindVideo, VideoURL: url}, nil

	case models.KindChat:
		text, err := s.api.Chat(ctx, provider.ChatRequest{
			Model:    gen.Model,
			Messages: []provider.ChatMessage{{Role: "user", Content: gen.Prompt}},
		})
		if err != nil {
			return nil, err
		}
		return &models.Result{Kind: models.KindChat, Text: text}, nil

	case models.KindAudio:
		audio, err := s.api.Speech(ctx, provider.SpeechRequest{
			Model: gen.Model,
			Input: gen.Prompt,
			Voice: opts.Voice,
		})
		if err != nil {
			return nil, err
		}
		if s.assets == nil {
			return nil, fmt.Errorf("audio generation requires asset storage")
		}
		url, err := s.assets.Upload(ctx, audio.Bytes, audio.Mime)
		if err != nil {
			return nil, fmt.Errorf("store audio asset: %w", err)
		}
		return &models.Result{Kind: models.KindAudio, AudioURL: url}, nil

	case models.KindTranscription:
		text, err := s.api.Transcribe(ctx, provider.TranscriptionRequest{
			Model:    gen.Model,
			AudioURL: opts.AudioURL,
			Language: opts.Language,
		})
		if err != nil {
			return nil, err
		}
		return &models.Result{Kind: models.KindTranscription, Transcript: text}, nil
	}
	return nil, fmt.Errorf("%w: unsupported kind %q", models.ErrValidation, gen.Kind)
}

// assetURLs keeps hosted URLs as-is and mirrors inline base64 payloads to
// object storage.
func (s *GenerationService) assetURLs(ctx context.Context, assets []provider.Asset) ([]string, error) {
	urls := make([]string, 0, len(assets))
	for _, asset := range assets {
		if asset.URL != "" {
			urls = append(urls, asset.URL)
			continue
		}
		if asset.B64 == "" {
			continue
		}
		if s.assets == nil {
			return nil, fmt.Errorf("inline image payload requires asset storage")
		}
		data, err := base64.StdEncoding.DecodeString(asset.B64)
		if err != nil {
			return nil, fmt.Errorf("decode image payload: %w", err)
		}
		url, err := s.assets.Upload(ctx, data, "image/png")
		if err != nil {
			return nil, fmt.Errorf("store image asset: %w", err)
		}
		urls = append(urls, url)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("provider returned no usable assets")
	}
	return urls, nil
}

// finishFailed marks the record failed, releases the quota reservation and
// converts the cause into the caller-facing error.
func (s *GenerationService) finishFailed(ctx context.Context, gen *models.Generation, cause error) error {
	meta := gen.Metadata
	meta.Error = &models.ErrorDetail{Message: cause.Error()}
	var provErr *provider.Error
	if errors.As(cause, &provErr) {
		meta.Error.Status = provErr.Status
		meta.Error.Message = provErr.Message
	}

	if err := s.store.Fail(ctx, gen.ID, meta); err != nil {
		s.log.Error("mark generation failed", "generation", gen.ID, "err", err)
	}
	if err := s.ledger.ReleaseGeneration(ctx, gen.UserID); err != nil {
		s.log.Error("release reservation", "user", gen.UserID, "err", err)
	}

	if provErr != nil && provErr.Unauthorized() {
		return fmt.Errorf("%w: provider rejected credentials", models.ErrUnauthenticated)
	}
	return cause
}

// ListHistory returns the user's generations, reconciling records stuck
// pending beyond the staleness threshold first.
func (s *GenerationService) ListHistory(ctx context.Context, userID string, f repository.Filter) ([]models.Generation, error) {
	if reconciled, err := s.store.MarkStaleFailed(ctx, s.cfg.StalePendingAfter); err != nil {
		s.log.Error("stale pending sweep", "err", err)
	} else if reconciled > 0 {
		s.log.Info("reconciled stale generations", "count", reconciled)
	}
	return s.store.ListByUser(ctx, userID, f)
}

func (s *GenerationService) Get(ctx context.Context, userID, id string) (*models.Generation, error) {
	gen, err := s.store.FindByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, models.ErrNotFound
	}
	return gen, nil
}

func (s *GenerationService) Delete(ctx context.Context, userID, id string) error {
	return s.store.Delete(ctx, userID, id)
}

// ReconcileStale runs the stale-pending sweep on demand (admin endpoint).
func (s *GenerationService) ReconcileStale(ctx context.Context) (int64, error) {
	return s.store.MarkStaleFailed(ctx, s.cfg.StalePendingAfter)
}

func validate(req GenerateRequest) error {
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unsupported kind %q", models.ErrValidation, req.Kind)
	}
	if req.Model == "" {
		return fmt.Errorf("%w: model is required", models.ErrValidation)
	}
	switch req.Kind {
	case models.KindTranscription:
		if req.Options.AudioURL == "" {
			return fmt.Errorf("%w: audio_url is required for transcription", models.ErrValidation)
		}
	case models.KindImageEdit:
		if req.Options.ImageURL == "" {
			return fmt.Errorf("%w: image_url is required for image edits", models.ErrValidation)
		}
		if req.Prompt == "" {
			return fmt.Errorf("%w: prompt is required", models.ErrValidation)
		}
	default:
		if req.Prompt == "" {
			return fmt.Errorf("%w: prompt is required", models.ErrValidation)
		}
	}
	return nil
}

func wantsEnhancedPrompt(kind models.GenerationKind) bool {
	switch kind {
	case models.KindImage, models.KindImageEdit, models.KindVideo:
		return true
	}
	return false
}

func metadataFromOptions(opts Options) models.Metadata {
	meta := models.Metadata{
		Size:     opts.Size,
		Quality:  opts.Quality,
		Style:    opts.Style,
		Voice:    opts.Voice,
		Language: opts.Language,
		Duration: opts.Duration,
	}
	extra := map[string]string{}
	if opts.AudioURL != "" {
		extra["audio_url"] = opts.AudioURL
	}
	if opts.ImageURL != "" {
		extra["image_url"] = opts.ImageURL
	}
	if opts.EnhancePrompt {
		extra["enhance_prompt"] = "true"
	}
	if len(extra) > 0 {
		meta.Extra = extra
	}
	return meta
}
