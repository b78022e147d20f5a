package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// highRiskHold is how long a risk-flagged booking is held before it needs
// confirmation.
const highRiskHold = 48 * time.Hour

// DefaultRiskAssessor is the stand-in used when no external risk collaborator
// is wired. Everything below the threshold books without a hold.
type DefaultRiskAssessor struct {
	// Threshold above which a hold expiry is attached.
	Threshold float64
	// Risk returns the no-show risk for a patient. Nil means zero risk.
	Risk func(patientID uuid.UUID) float64
}

func NewDefaultRiskAssessor() *DefaultRiskAssessor {
	return &DefaultRiskAssessor{Threshold: 0.5}
}

func (r *DefaultRiskAssessor) AppointmentRisk(_ context.Context, patientID uuid.UUID, startTime time.Time, _ string) (RiskSettings, error) {
	risk := 0.0
	if r.Risk != nil {
		risk = r.Risk(patientID)
	}
	settings := RiskSettings{NoShowRisk: risk}
	if risk >= r.Threshold {
		expires := startTime.Add(-highRiskHold)
		if minExpiry := time.Now().Add(time.Hour); expires.Before(minExpiry) {
			expires = minExpiry
		}
		settings.RequiresConfirmation = true
		settings.HoldExpiresAt = &expires
	}
	return settings, nil
}
