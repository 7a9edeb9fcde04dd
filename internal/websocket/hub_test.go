package websocket

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestShouldBroadcastEvent(t *testing.T) {
	hub := NewHub(&HubConfig{
		BroadcastDecisions:   true,
		BroadcastDetections:  false,
		BroadcastSystem:      true,
		BroadcastConnections: false,
	}, zap.NewNop())

	tests := []struct {
		eventType EventType
		want      bool
	}{
		{EventTypeDecision, true},
		{EventTypeDetection, false},
		{EventTypeSystemStatus, true},
		{EventTypeConnection, false},
		{EventType("unknown"), false},
	}
	for _, tt := range tests {
		if got := hub.shouldBroadcastEvent(tt.eventType); got != tt.want {
			t.Errorf("shouldBroadcastEvent(%s) = %v, want %v", tt.eventType, got, tt.want)
		}
	}

	t.Run("nil config broadcasts nothing", func(t *testing.T) {
		hub := NewHub(nil, zap.NewNop())
		if hub.shouldBroadcastEvent(EventTypeDecision) {
			t.Error("expected nil config to disable broadcasting")
		}
	})
}

func TestShouldSendToClient(t *testing.T) {
	hub := NewHub(&HubConfig{BroadcastDecisions: true}, zap.NewNop())
	event := Event{Type: EventTypeDecision, Data: DecisionEvent{Outcome: "BLOCK", RiskScore: 40}}

	t.Run("no subscription receives everything", func(t *testing.T) {
		client := &Client{}
		if !hub.shouldSendToClient(client, event) {
			t.Error("expected unfiltered client to receive the event")
		}
	})

	t.Run("unsubscribed type filtered out", func(t *testing.T) {
		client := &Client{Subscription: &SubscriptionRequest{
			Events: []EventType{EventTypeSystemStatus},
		}}
		if hub.shouldSendToClient(client, event) {
			t.Error("expected event to be filtered out")
		}
	})

	t.Run("outcome filter", func(t *testing.T) {
		client := &Client{Subscription: &SubscriptionRequest{
			Events: []EventType{EventTypeDecision},
			Filter: &EventFilter{Outcomes: []string{"ALLOW"}},
		}}
		if hub.shouldSendToClient(client, event) {
			t.Error("expected BLOCK event filtered by ALLOW-only subscription")
		}
	})

	t.Run("min risk filter", func(t *testing.T) {
		client := &Client{Subscription: &SubscriptionRequest{
			Events: []EventType{EventTypeDecision},
			Filter: &EventFilter{MinRisk: 60},
		}}
		if hub.shouldSendToClient(client, event) {
			t.Error("expected risk 40 filtered below threshold 60")
		}

		client.Subscription.Filter.MinRisk = 20
		if !hub.shouldSendToClient(client, event) {
			t.Error("expected risk 40 to pass threshold 20")
		}
	})
}

func TestBroadcastEventQueues(t *testing.T) {
	hub := NewHub(&HubConfig{BroadcastDecisions: true}, zap.NewNop())

	hub.BroadcastDecision(DecisionEvent{DecisionID: "dec-1", Outcome: "BLOCK"})

	select {
	case event := <-hub.broadcast:
		if event.Type != EventTypeDecision {
			t.Errorf("unexpected event type %s", event.Type)
		}
		data, ok := event.Data.(DecisionEvent)
		if !ok || data.DecisionID != "dec-1" {
			t.Errorf("unexpected event data %+v", event.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event on broadcast channel")
	}
}

func TestBroadcastDisabledTypeDropped(t *testing.T) {
	hub := NewHub(&HubConfig{BroadcastDecisions: false}, zap.NewNop())

	hub.BroadcastDecision(DecisionEvent{DecisionID: "dec-1"})

	select {
	case <-hub.broadcast:
		t.Fatal("disabled event type must not be queued")
	default:
	}
}

func TestGetStats(t *testing.T) {
	hub := NewHub(&HubConfig{}, zap.NewNop())
	stats := hub.GetStats()
	if stats.ActiveConnections != 0 || stats.TotalConnections != 0 {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
}
