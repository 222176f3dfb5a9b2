package notify

import (
	"context"

	"github.com/ehr/consult/internal/platform/auth"
)

func DoctorTopic(providerID string) string  { return "doctor:" + providerID }
func PatientTopic(providerID string) string { return "patient:" + providerID }

// TopicsFor returns the topics an actor may listen on.
func TopicsFor(a auth.Actor) []string {
	switch a.Role {
	case auth.RoleDoctor:
		return []string{DoctorTopic(a.ProviderID)}
	case auth.RolePatient:
		return []string{PatientTopic(a.ProviderID)}
	}
	return []string{}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(_ context.Context, _ Event) error { return nil }
