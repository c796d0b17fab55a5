package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CareBridge/CarePath/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanConsentRecords scans all consent record rows.
func scanConsentRecords(rows *sql.Rows) ([]models.ConsentRecord, error) {
	var records []models.ConsentRecord
	for rows.Next() {
		var r models.ConsentRecord
		var consentType, legalBasis, captureMethod string
		var purpose, categories sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &consentType, &purpose, &categories, &legalBasis, &captureMethod, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan consent record failed: %w", err)
		}
		r.ConsentType = models.ConsentType(consentType)
		r.LegalBasis = models.LegalBasis(legalBasis)
		r.CaptureMethod = models.CaptureMethod(captureMethod)
		r.Purpose = purpose.String
		if categories.String != "" {
			r.DataCategories = strings.Split(categories.String, ",")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent record rows failed: %w", err)
	}
	return records, nil
}

// scanEscalationEvents scans escalation events from their JSON column.
func scanEscalationEvents(rows *sql.Rows) ([]models.EscalationEvent, error) {
	var events []models.EscalationEvent
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			return nil, fmt.Errorf("scan escalation event failed: %w", err)
		}
		var e models.EscalationEvent
		if err := json.Unmarshal([]byte(eventJSON), &e); err != nil {
			return nil, fmt.Errorf("unmarshal escalation event failed: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalation event rows failed: %w", err)
	}
	return events, nil
}
