// Package notify implements the escalation service: building escalation
// events, persisting them and alerting the on-call nursing team over SMS
// and an optional webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CareBridge/CarePath/internal/models"
	"github.com/CareBridge/CarePath/internal/store"
)

// DefaultWebhookTimeout bounds a single webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

// Opts holds configuration for the escalation service.
type Opts struct {
	Store      store.Store
	Sender     SMSSender
	TeamNumber string
	WebhookURL string
	HTTPClient *http.Client
}

// Option configures the escalation service.
type Option func(*Opts)

// WithStore sets the store escalation events are persisted to.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithSender sets the SMS sender for team alerts.
func WithSender(s SMSSender) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithTeamNumber sets the on-call team's number in E.164 format.
func WithTeamNumber(number string) Option {
	return func(o *Opts) { o.TeamNumber = number }
}

// WithWebhookURL sets an optional webhook that receives the full event as JSON.
func WithWebhookURL(url string) Option {
	return func(o *Opts) { o.WebhookURL = url }
}

// WithHTTPClient overrides the webhook HTTP client. Used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Service implements the flow.EscalationService interface. All delivery
// channels are optional; a service with none configured still creates and
// persists events, which keeps development setups working.
type Service struct {
	store      store.Store
	sender     SMSSender
	teamNumber string
	webhookURL string
	httpClient *http.Client
}

// NewService creates an escalation service.
func NewService(opts ...Option) *Service {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	slog.Debug("notify.NewService: escalation service created",
		"store_set", cfg.Store != nil,
		"sms_set", cfg.Sender != nil && cfg.TeamNumber != "",
		"webhook_set", cfg.WebhookURL != "")
	return &Service{
		store:      cfg.Store,
		sender:     cfg.Sender,
		teamNumber: cfg.TeamNumber,
		webhookURL: cfg.WebhookURL,
		httpClient: cfg.HTTPClient,
	}
}

// CreateEvent builds a new escalation event. Priority defaults from the
// safety result; callers adjust trigger, priority and contact before dispatch.
func (s *Service) CreateEvent(ctx context.Context, userID, sessionID, message string, safety models.SafetyResult) (*models.EscalationEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}
	priority := models.EscalationPriorityMedium
	if safety.IsCrisis {
		priority = models.EscalationPriorityHigh
	}
	event := &models.EscalationEvent{
		ID:          uuid.NewString(),
		UserID:      userID,
		SessionID:   sessionID,
		Message:     message,
		TriggerType: models.TriggerUserRequest,
		Priority:    priority,
		Safety:      safety,
		CreatedAt:   time.Now(),
	}
	slog.Debug("Service.CreateEvent: event created", "eventID", event.ID, "userID", userID, "priority", priority)
	return event, nil
}

// NotifyTeam persists the event and delivers it to every configured channel.
// Persistence failure fails the dispatch; so does failure of any configured
// channel, so the caller can tell the user nobody was alerted.
func (s *Service) NotifyTeam(ctx context.Context, event *models.EscalationEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if s.store != nil {
		if err := s.store.AddEscalationEvent(*event); err != nil {
			return fmt.Errorf("failed to persist escalation event: %w", err)
		}
	}
	if s.sender != nil && s.teamNumber != "" {
		if err := s.sender.SendSMS(ctx, s.teamNumber, formatTeamAlert(event)); err != nil {
			return fmt.Errorf("failed to alert team by SMS: %w", err)
		}
	}
	if s.webhookURL != "" {
		if err := s.postWebhook(ctx, event); err != nil {
			return fmt.Errorf("failed to deliver escalation webhook: %w", err)
		}
	}
	slog.Info("Service.NotifyTeam: escalation dispatched", "eventID", event.ID, "priority", event.Priority, "trigger", event.TriggerType)
	return nil
}

func (s *Service) postWebhook(ctx context.Context, event *models.EscalationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// formatTeamAlert renders the short SMS body for the on-call team. Message
// content is kept out of the SMS; the full event goes to the webhook only.
func formatTeamAlert(event *models.EscalationEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[CarePath %s] %s escalation", strings.ToUpper(string(event.Priority)), event.TriggerType)
	if event.Contact.Name != "" {
		fmt.Fprintf(&b, " for %s", event.Contact.Name)
	}
	if event.Contact.Phone != "" {
		fmt.Fprintf(&b, ", call %s", event.Contact.Phone)
	} else if event.Contact.Email != "" {
		fmt.Fprintf(&b, ", email %s", event.Contact.Email)
	}
	fmt.Fprintf(&b, ". Event %s", event.ID)
	return b.String()
}
