package glopbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", TopicCommitted)

	b.Publish(Event{Topic: TopicCommitted, Agent: "a0", RuleIndex: 2, Seq: 3})

	select {
	case ev := <-sub.Ch:
		if ev.Agent != "a0" {
			t.Errorf("Agent = %q, want a0", ev.Agent)
		}
		if ev.BusSeq != 1 {
			t.Errorf("BusSeq = %d, want 1", ev.BusSeq)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicFiltering(t *testing.T) {
	b := New()
	subCommit := b.Subscribe("sc", TopicCommitted)
	subScript := b.Subscribe("ss", TopicScript)
	subAll := b.Subscribe("sall", TopicAll)

	b.Publish(Event{Topic: TopicCommitted, Agent: "a0"})

	select {
	case <-subCommit.Ch:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("subCommit should receive a committed event")
	}

	select {
	case <-subScript.Ch:
		t.Fatal("subScript should not receive a committed event")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case <-subAll.Ch:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("subAll should receive every event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", TopicAll)
	b.Unsubscribe("s1")

	if _, ok := <-sub.Ch; ok {
		t.Fatal("expected closed channel after Unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0", b.SubscriberCount())
	}
}

func TestFullSubscriberChannelDropsRatherThanBlocks(t *testing.T) {
	b := New()
	sub := b.Subscribe("s1", TopicAll)

	for i := 0; i < 100; i++ {
		b.Publish(Event{Topic: TopicCommitted})
	}

	if len(sub.Ch) != cap(sub.Ch) {
		t.Fatalf("expected channel to be full at capacity, got %d/%d", len(sub.Ch), cap(sub.Ch))
	}
}
