package relay

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"hookrelay/internal/engine/broker"
	"hookrelay/internal/engine/history"
	"hookrelay/internal/platform/models"
	"hookrelay/internal/platform/repositories"
)

type RelayRepository interface {
	Create(ctx context.Context, relay *models.Relay) error
	GetByID(ctx context.Context, id string) (*models.Relay, error)
	ListByProject(ctx context.Context, projectID string) ([]*models.Relay, error)
	Update(ctx context.Context, relay *models.Relay) error
	Delete(ctx context.Context, id string) error
}

type EndpointProvider interface {
	CreateRelayEndpoint(ctx context.Context) (*broker.Endpoint, error)
	DeleteRelayEndpoint(ctx context.Context, webhookUUID string) error
}

type ScopeDeleter interface {
	DeleteScope(ctx context.Context, scope string) error
}

type CreateInput struct {
	Description    string `json:"description"`
	RelayToURL     string `json:"relay_to_url"`
	CaptureOnly    bool   `json:"capture_only"`
	Enabled        *bool  `json:"enabled"`
	PollingEnabled *bool  `json:"polling_enabled"`
}

// UpdateInput is a partial update; nil fields are left unchanged.
type UpdateInput struct {
	Description    *string `json:"description"`
	RelayToURL     *string `json:"relay_to_url"`
	CaptureOnly    *bool   `json:"capture_only"`
	Enabled        *bool   `json:"enabled"`
	PollingEnabled *bool   `json:"polling_enabled"`
}

// Service manages relay settings and their broker endpoints.
type Service struct {
	repo      RelayRepository
	endpoints EndpointProvider
	history   ScopeDeleter
}

func NewService(repo RelayRepository, endpoints EndpointProvider, h ScopeDeleter) *Service {
	return &Service{repo: repo, endpoints: endpoints, history: h}
}

func (s *Service) Create(ctx context.Context, projectID string, input *CreateInput) (*models.Relay, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, configError("project_id is required")
	}

	now := time.Now().UnixMilli()
	relay := &models.Relay{
		ID:             uuid.New().String(),
		ProjectID:      projectID,
		Description:    strings.TrimSpace(input.Description),
		RelayToURL:     strings.TrimSpace(input.RelayToURL),
		CaptureOnly:    input.CaptureOnly,
		Enabled:        true,
		PollingEnabled: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if input.Enabled != nil {
		relay.Enabled = *input.Enabled
	}
	if input.PollingEnabled != nil {
		relay.PollingEnabled = *input.PollingEnabled
	}

	if err := ValidateRelay(relay); err != nil {
		return nil, err
	}

	endpoint, err := s.endpoints.CreateRelayEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	relay.WebhookUUID = endpoint.WebhookUUID
	relay.WebhookURL = endpoint.WebhookURL

	if err := s.repo.Create(ctx, relay); err != nil {
		if delErr := s.endpoints.DeleteRelayEndpoint(ctx, relay.WebhookUUID); delErr != nil {
			log.Warn().Err(delErr).Str("webhook_uuid", relay.WebhookUUID).Msg("Failed to release broker endpoint")
		}
		return nil, err
	}

	log.Info().Str("relay_id", relay.ID).Str("project_id", projectID).Bool("capture_only", relay.CaptureOnly).Msg("Relay created")
	return relay, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Relay, error) {
	relay, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if relay == nil {
		return nil, relayNotFound(id)
	}
	return relay, nil
}

func (s *Service) List(ctx context.Context, projectID string) ([]*models.Relay, error) {
	relays, err := s.repo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if relays == nil {
		relays = []*models.Relay{}
	}
	return relays, nil
}

func (s *Service) Update(ctx context.Context, id string, patch *UpdateInput) (*models.Relay, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Description != nil {
		existing.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.RelayToURL != nil {
		existing.RelayToURL = strings.TrimSpace(*patch.RelayToURL)
	}
	if patch.CaptureOnly != nil {
		existing.CaptureOnly = *patch.CaptureOnly
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	if patch.PollingEnabled != nil {
		existing.PollingEnabled = *patch.PollingEnabled
	}

	if err := ValidateRelay(existing); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, existing); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, relayNotFound(id)
		}
		return nil, err
	}
	return existing, nil
}

// Delete removes the relay and its history, then releases the broker
// endpoint. Failing to release the endpoint does not fail the delete.
func (s *Service) Delete(ctx context.Context, id string) error {
	relay, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return relayNotFound(id)
		}
		return err
	}

	if err := s.history.DeleteScope(ctx, history.RelayScope(id)); err != nil {
		log.Error().Err(err).Str("relay_id", id).Msg("Failed to delete relay history")
	}

	if relay.WebhookUUID != "" {
		if err := s.endpoints.DeleteRelayEndpoint(ctx, relay.WebhookUUID); err != nil {
			log.Warn().Err(err).Str("relay_id", id).Str("webhook_uuid", relay.WebhookUUID).Msg("Failed to delete broker endpoint")
		}
	}

	log.Info().Str("relay_id", id).Msg("Relay deleted")
	return nil
}

// QRCode renders the relay's public webhook URL.
func (s *Service) QRCode(ctx context.Context, id string, size int) ([]byte, error) {
	relay, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if relay.WebhookURL == "" {
		return nil, configError("relay %s has no webhook url", id)
	}
	return GenerateQRCode(relay.WebhookURL, size)
}

func ValidateRelay(relay *models.Relay) error {
	if relay.RelayToURL == "" {
		if relay.CaptureOnly {
			return nil
		}
		return configError("relay_to_url is required unless capture_only is set")
	}

	u, err := url.Parse(relay.RelayToURL)
	if err != nil {
		return configError("invalid relay_to_url format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return configError("relay_to_url must start with http:// or https://")
	}
	if u.Host == "" {
		return configError("relay_to_url must include a host")
	}
	return nil
}
