// Package triage derives a consultation urgency from an AI screening result.
package triage

import (
	"strings"

	"github.com/ehr/consult/internal/platform/apperr"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

const (
	highConfidence   = 90.0
	mediumConfidence = 70.0
)

// AIResult is the screening output attached to a consultation request. It is
// opaque input produced by the prediction service.
type AIResult struct {
	RiskLevel     RiskLevel `json:"risk_level"`
	Confidence    float64   `json:"confidence"`
	Summary       string    `json:"summary"`
	ImageAnalysis string    `json:"image_analysis,omitempty"`
	PredictionID  string    `json:"prediction_id,omitempty"`
}

// Classify is total over validated results. The label is checked before the
// confidence at each tier; confidence thresholds are strict.
func Classify(r AIResult) Urgency {
	switch {
	case r.RiskLevel == RiskHigh || r.Confidence > highConfidence:
		return UrgencyHigh
	case r.RiskLevel == RiskMedium || r.Confidence > mediumConfidence:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func Validate(r AIResult) error {
	if r.RiskLevel == "" {
		return apperr.Validation("missing_risk_level", "ai result risk level is required")
	}
	if !r.RiskLevel.Valid() {
		return apperr.Validation("invalid_risk_level", "ai result risk level must be Low, Medium or High")
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return apperr.Validation("invalid_confidence", "ai result confidence must be between 0 and 100")
	}
	if strings.TrimSpace(r.Summary) == "" {
		return apperr.Validation("missing_summary", "ai result summary is required")
	}
	return nil
}
