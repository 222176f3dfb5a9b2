package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ehr/consult/internal/platform/idp"
)

var (
	// ErrUnknownEvent is returned for event types the reconciler ignores.
	ErrUnknownEvent = errors.New("unknown identity event type")
	ErrMalformed    = errors.New("malformed identity event")
)

var eventAliases = map[string]EventType{
	"user.created":       EventCreated,
	"user.updated":       EventUpdated,
	"user.deleted":       EventDeleted,
	"session.created":    EventSessionStarted,
	string(EventCreated): EventCreated,
	string(EventUpdated): EventUpdated,
	string(EventDeleted): EventDeleted,
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type deletedData struct {
	ID string `json:"id"`
}

type sessionData struct {
	UserID    string `json:"user_id"`
	CreatedAt int64  `json:"created_at"`
}

// ParseEvent decodes a provider webhook body.
func ParseEvent(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ, ok := eventAliases[env.Type]
	if !ok {
		return Event{Type: EventType(env.Type)}, ErrUnknownEvent
	}
	if len(env.Data) == 0 {
		return Event{}, fmt.Errorf("%w: missing data", ErrMalformed)
	}

	ev := Event{Type: typ}
	switch typ {
	case EventCreated, EventUpdated:
		var u idp.User
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		ev.Profile = ProfileFromUser(u)
		ev.ProviderID = u.ID
		ev.At = ev.Profile.UpdatedAt
	case EventDeleted:
		var d deletedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		ev.ProviderID = d.ID
	case EventSessionStarted:
		var s sessionData
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		ev.ProviderID = s.UserID
		if s.CreatedAt > 0 {
			ev.At = time.UnixMilli(s.CreatedAt).UTC()
		}
	}
	if ev.ProviderID == "" {
		return Event{}, fmt.Errorf("%w: missing user id", ErrMalformed)
	}
	return ev, nil
}
