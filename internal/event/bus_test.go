package event

import (
	"context"
	"errors"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern Topic
		topic   Topic
		want    bool
	}{
		{"document.replaced", "document.replaced", true},
		{"document.replaced", "document.saved", false},
		{"document.*", "document.replaced", true},
		{"document.*", "document.replaced.extra", false},
		{"*.replaced", "document.replaced", true},
		{"**", "document.replaced", true},
		{"**", "sync", true},
		{"document.**", "document.replaced", true},
		{"document.**", "document", true},
		{"sync.**", "document.replaced", false},
		{"", "document.replaced", false},
	}

	for _, tt := range tests {
		if got := Match(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()

	var got []string
	sub, err := b.SubscribeFunc("document.*", func(_ context.Context, evt any) error {
		e := evt.(DocumentReplaced)
		got = append(got, e.Identity)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer b.Unsubscribe(sub)

	if err := b.Publish(context.Background(), DocumentReplaced{Identity: "a.md", Revision: 1}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	// Non-matching topic.
	if err := b.Publish(context.Background(), SyncApplied{Identity: "a.md"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(got) != 1 || got[0] != "a.md" {
		t.Errorf("expected one delivery for a.md, got %v", got)
	}
}

func TestPublishWithoutTopic(t *testing.T) {
	b := NewBus()
	if err := b.Publish(context.Background(), struct{}{}); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()

	count := 0
	sub, err := b.SubscribeFunc("**", func(_ context.Context, _ any) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	_ = b.Publish(context.Background(), SurfaceClosed{Surface: "s1"})
	b.Unsubscribe(sub)
	_ = b.Publish(context.Background(), SurfaceClosed{Surface: "s1"})

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
}

func TestHandlerErrorReturned(t *testing.T) {
	b := NewBus()
	wantErr := errors.New("handler failed")

	_, _ = b.SubscribeFunc("sync.rejected", func(_ context.Context, _ any) error {
		return wantErr
	})

	err := b.Publish(context.Background(), SyncRejected{Identity: "a.md", Reason: "conflict"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestPanicRecovery(t *testing.T) {
	var panicked any
	b := NewBus(WithPanicHandler(func(_ any, recovered any, _ []byte) {
		panicked = recovered
	}))

	_, _ = b.SubscribeFunc("**", func(_ context.Context, _ any) error {
		panic("boom")
	})

	delivered := false
	_, _ = b.SubscribeFunc("**", func(_ context.Context, _ any) error {
		delivered = true
		return nil
	})

	if err := b.Publish(context.Background(), SurfaceClosed{Surface: "s1"}); err != nil {
		t.Fatalf("publish should not fail on panic: %v", err)
	}
	if panicked != "boom" {
		t.Errorf("expected panic handler to see %q, got %v", "boom", panicked)
	}
	if !delivered {
		t.Error("later subscribers should still run after a panic")
	}

	stats := b.Stats()
	if stats.HandlerPanics != 1 {
		t.Errorf("expected 1 recorded panic, got %d", stats.HandlerPanics)
	}
}
