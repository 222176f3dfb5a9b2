package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/consult/internal/platform/auth"
)

func newTestHub() *Hub { return NewHub(zerolog.Nop()) }

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := newTestHub()
	client := NewClient("c1", nil, 8)
	client.Topics = []string{"doctor:user_1"}
	hub.Register(client)

	if hub.ClientCount() != 1 || hub.TopicCount("doctor:user_1") != 1 {
		t.Fatalf("unexpected counts: %d clients, %d on topic", hub.ClientCount(), hub.TopicCount("doctor:user_1"))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount("doctor:user_1") != 0 {
		t.Fatal("expected client fully removed")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_SubscribeRespectsAllowedTopics(t *testing.T) {
	hub := newTestHub()
	client := NewClient("c1", []string{"patient:user_p"}, 8)
	hub.Register(client)

	refused := hub.Subscribe(client, []string{"patient:user_p", "doctor:user_d", "patient:someone_else"})
	if len(refused) != 2 {
		t.Fatalf("expected 2 refused topics, got %v", refused)
	}
	if hub.TopicCount("patient:user_p") != 1 || hub.TopicCount("doctor:user_d") != 0 {
		t.Error("unexpected subscriptions")
	}

	// duplicate subscription does not double count
	hub.Subscribe(client, []string{"patient:user_p"})
	if len(client.Topics) != 1 {
		t.Errorf("expected 1 topic on client, got %v", client.Topics)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := newTestHub()
	client := NewClient("c1", nil, 8)
	client.Topics = []string{"a", "b", "c"}
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"a", "c"}})

	if hub.TopicCount("a") != 0 || hub.TopicCount("b") != 1 || hub.TopicCount("c") != 0 {
		t.Error("unexpected topic counts after unsubscribe")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "b" {
		t.Errorf("unexpected remaining topics %v", client.Topics)
	}
}

func TestHub_PublishDeliversToTopicOnly(t *testing.T) {
	hub := newTestHub()
	doctor := NewClient("d", nil, 8)
	doctor.Topics = []string{DoctorTopic("user_d")}
	patient := NewClient("p", nil, 8)
	patient.Topics = []string{PatientTopic("user_p")}
	hub.Register(doctor)
	hub.Register(patient)

	err := hub.Publish(context.Background(), Event{
		Type:         "appointment.created",
		Topic:        DoctorTopic("user_d"),
		ResourceType: "appointment",
		ResourceID:   "a1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case data := <-doctor.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("invalid event JSON: %v", err)
		}
		if ev.Type != "appointment.created" || ev.ResourceID != "a1" {
			t.Errorf("unexpected event %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("expected timestamp to be filled")
		}
	default:
		t.Fatal("expected doctor to receive the event")
	}

	select {
	case <-patient.Send:
		t.Fatal("patient must not receive doctor events")
	default:
	}
}

func TestHub_FullBufferDrops(t *testing.T) {
	hub := newTestHub()
	client := NewClient("slow", nil, 1)
	client.Topics = []string{"t"}
	hub.Register(client)

	hub.Broadcast("t", Event{Type: "one"})
	hub.Broadcast("t", Event{Type: "two"})

	if hub.Dropped() != 1 {
		t.Errorf("expected 1 dropped delivery, got %d", hub.Dropped())
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient("c", nil, 4)
			c.Topics = []string{"shared"}
			hub.Register(c)
			hub.Broadcast("shared", Event{Type: "ping"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestTopicsFor(t *testing.T) {
	tests := []struct {
		actor auth.Actor
		want  []string
	}{
		{auth.Actor{ProviderID: "u1", Role: auth.RoleDoctor}, []string{"doctor:u1"}},
		{auth.Actor{ProviderID: "u2", Role: auth.RolePatient}, []string{"patient:u2"}},
		{auth.Actor{ProviderID: "u3", Role: auth.RoleAdmin}, []string{}},
	}
	for _, tt := range tests {
		got := TopicsFor(tt.actor)
		if len(got) != len(tt.want) || (len(got) == 1 && got[0] != tt.want[0]) {
			t.Errorf("TopicsFor(%v) = %v, want %v", tt.actor.Role, got, tt.want)
		}
	}
}

func TestHandler_RequiresActor(t *testing.T) {
	h := NewHandler(newTestHub(), nil, zerolog.Nop())
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), httptest.NewRecorder())

	err := h.HandleConnect(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_FullUpgradeReceivesOwnEvents(t *testing.T) {
	hub := newTestHub()
	h := NewHandler(hub, nil, zerolog.Nop())

	e := echo.New()
	h.RegisterRoutes(e, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := auth.Actor{ProviderID: "user_d", Role: auth.RoleDoctor}
			c.SetRequest(c.Request().WithContext(auth.WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	})

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(DoctorTopic("user_d")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not subscribed to its own topic")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// subscribing to somebody else's topic is refused
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"patient:other"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if hub.TopicCount("patient:other") != 0 {
		t.Fatal("expected foreign topic subscription refused")
	}

	hub.Publish(context.Background(), Event{Type: "appointment.created", Topic: DoctorTopic("user_d"), ResourceID: "a1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "appointment.created" || received.ResourceID != "a1" {
		t.Fatalf("unexpected event %+v", received)
	}
}
