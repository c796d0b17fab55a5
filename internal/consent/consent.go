// Package consent implements the store-backed GDPR service: consent lookups
// with an expiry window and persistence of consent records.
package consent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CareBridge/CarePath/internal/models"
	"github.com/CareBridge/CarePath/internal/store"
)

// DefaultConsentValidity is how long a captured consent stays current before
// the compliance gate asks the user to renew it.
const DefaultConsentValidity = 180 * 24 * time.Hour

// Service answers consent lookups against the store. It implements the
// flow.GDPRService interface.
type Service struct {
	store    store.Store
	validity time.Duration
}

// Option configures the consent service.
type Option func(*Service)

// WithValidity overrides the consent expiry window.
func WithValidity(d time.Duration) Option {
	return func(s *Service) { s.validity = d }
}

// NewService creates a consent service backed by the given store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{store: st, validity: DefaultConsentValidity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetConsentStatus reports whether the user's most recent consent of the
// given type is granted and whether it has expired. A vital-interests
// override record is auditable but does not count as granted consent.
func (s *Service) GetConsentStatus(ctx context.Context, userID string, consentType models.ConsentType) (models.ConsentStatus, error) {
	if userID == "" {
		return models.ConsentStatus{}, fmt.Errorf("user ID cannot be empty")
	}
	records, err := s.store.GetConsentRecords(userID, consentType)
	if err != nil {
		return models.ConsentStatus{}, fmt.Errorf("failed to load consent records: %w", err)
	}

	var latest *models.ConsentRecord
	for i := range records {
		r := &records[i]
		if r.LegalBasis != models.LegalBasisConsent {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	if latest == nil {
		return models.ConsentStatus{}, nil
	}

	status := models.ConsentStatus{
		Granted: true,
		Expired: time.Since(latest.Timestamp) > s.validity,
	}
	slog.Debug("Service.GetConsentStatus: consent resolved", "userID", userID, "consentType", consentType, "granted", status.Granted, "expired", status.Expired)
	return status, nil
}

// RecordConsent persists one consent record.
func (s *Service) RecordConsent(ctx context.Context, record models.ConsentRecord) error {
	if record.UserID == "" {
		return fmt.Errorf("consent record missing user ID")
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := s.store.AddConsentRecord(record); err != nil {
		return fmt.Errorf("failed to persist consent record: %w", err)
	}
	slog.Info("Service.RecordConsent: consent recorded", "userID", record.UserID, "consentType", record.ConsentType, "legalBasis", record.LegalBasis, "captureMethod", record.CaptureMethod)
	return nil
}
