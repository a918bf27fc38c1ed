package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNotification_Validate(t *testing.T) {
	now := time.Now()
	if err := New(ChannelUpdateAvailable, "t", "b", "", now).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := New("PROMO", "t", "b", "", now).Validate(); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Validate() error = %v, want ErrUnknownChannel", err)
	}
	if err := New(ChannelSalesPromotion, "", "b", "", now).Validate(); err == nil {
		t.Error("Validate() accepted empty title")
	}
}

func TestNew_AssignsDistinctIDs(t *testing.T) {
	now := time.Now()
	a := New(ChannelUpdateAvailable, "t", "b", "", now)
	b := New(ChannelUpdateAvailable, "t", "b", "", now)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("IDs = %q, %q; want distinct non-empty", a.ID, b.ID)
	}
}

func TestRateLimited_PerChannelBurst(t *testing.T) {
	var delivered []Channel
	next := DispatcherFunc(func(_ context.Context, n Notification) error {
		delivered = append(delivered, n.Channel)
		return nil
	})
	r := NewRateLimited(next, RateLimitConfig{Every: time.Hour, Burst: 2}, nil)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		if err := r.Notify(ctx, New(ChannelSalesPromotion, "sale", "", "", now)); err != nil {
			t.Fatalf("Notify() #%d error = %v", i, err)
		}
	}
	if err := r.Notify(ctx, New(ChannelSalesPromotion, "sale", "", "", now)); !errors.Is(err, ErrThrottled) {
		t.Errorf("third Notify() error = %v, want ErrThrottled", err)
	}
	if err := r.Notify(ctx, New(ChannelUpdateAvailable, "update", "", "", now)); err != nil {
		t.Errorf("Notify() on other channel error = %v", err)
	}
	if len(delivered) != 3 {
		t.Errorf("delivered %d notifications, want 3", len(delivered))
	}
}

func TestRateLimited_RejectsInvalid(t *testing.T) {
	r := NewRateLimited(DispatcherFunc(func(context.Context, Notification) error {
		t.Fatal("invalid notification reached the next dispatcher")
		return nil
	}), RateLimitConfig{}, nil)

	if err := r.Notify(context.Background(), Notification{Channel: "x", Title: "t"}); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("Notify() error = %v, want ErrUnknownChannel", err)
	}
}
