package events_test

import (
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/events"
)

func TestBus_PublishToGlobalAndAgentTopic(t *testing.T) {
	bus := events.New(8)
	defer bus.Close()

	global := bus.Subscribe(core.GlobalTopic)
	defer global.Close()

	agentTopic := core.AgentTopic("run-1")
	agentSub := bus.Subscribe(agentTopic)
	defer agentSub.Close()

	bus.Publish(agentTopic, core.PayloadAgentEvent, "hello")

	select {
	case msg := <-agentSub.Messages():
		if msg.Payload != "hello" {
			t.Fatalf("agent subscriber got %v, want hello", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("agent subscriber did not receive message")
	}

	select {
	case <-global.Messages():
		t.Fatal("global subscriber should not receive a message published only to the agent topic")
	default:
	}
}

func TestBus_SubscriberReceivesOnlyAfterSubscribe(t *testing.T) {
	bus := events.New(8)
	defer bus.Close()

	bus.Publish(core.GlobalTopic, core.PayloadAgentEvent, "before")
	sub := bus.Subscribe(core.GlobalTopic)
	defer sub.Close()
	bus.Publish(core.GlobalTopic, core.PayloadAgentEvent, "after")

	select {
	case msg := <-sub.Messages():
		if msg.Payload != "after" {
			t.Fatalf("got %v, want 'after' (no replay of pre-subscribe events)", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive post-subscribe message")
	}
}

func TestBus_OverflowDropsOldestAndMarksLagged(t *testing.T) {
	bus := events.New(4)
	defer bus.Close()

	sub := bus.Subscribe(core.GlobalTopic)
	defer sub.Close()

	for i := 0; i < 20; i++ {
		bus.Publish(core.GlobalTopic, core.PayloadAgentEvent, i)
	}

	var sawLagged bool
	drained := 0
	for {
		select {
		case msg := <-sub.Messages():
			drained++
			if _, ok := msg.Payload.(core.LaggedMarker); ok {
				sawLagged = true
			}
		case <-time.After(100 * time.Millisecond):
			goto done
		}
	}
done:
	if drained == 0 {
		t.Fatal("expected at least some delivered messages")
	}
	if !sawLagged {
		t.Fatal("expected a lagged marker after overflow")
	}
}

func TestBus_CloseUnblocksSubscribers(t *testing.T) {
	bus := events.New(4)
	sub := bus.Subscribe(core.GlobalTopic)

	bus.Close()

	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Fatal("expected closed channel after Bus.Close")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was not closed")
	}
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := events.New(4)
	defer bus.Close()

	sub := bus.Subscribe(core.GlobalTopic)
	sub.Close()
	sub.Close() // must not panic on double-close

	bus.Publish(core.GlobalTopic, core.PayloadAgentEvent, "x")
}
