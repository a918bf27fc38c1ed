// Package notify defines the notification channels and the dispatcher port
// used to surface update, promotion and holiday notices to the user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Channel is a user-visible notification channel.
type Channel string

const (
	ChannelUpdateAvailable   Channel = "APP_UPDATE_AVAILABLE"
	ChannelSalesPromotion    Channel = "SALES_AND_PROMOTION"
	ChannelHolidayAdjustment Channel = "HOLIDAY_DATE_ADJUSTMENT"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelUpdateAvailable, ChannelSalesPromotion, ChannelHolidayAdjustment:
		return true
	}
	return false
}

var (
	// ErrUnknownChannel is returned for notifications on an unknown channel.
	ErrUnknownChannel = errors.New("notify: unknown channel")

	// ErrThrottled is returned when the rate limiter drops a notification.
	ErrThrottled = errors.New("notify: throttled")
)

// Notification is a single user-visible notice.
type Notification struct {
	ID        string    `json:"id"`
	Channel   Channel   `json:"channel"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// New builds a Notification with a fresh ID.
func New(channel Channel, title, body, url string, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Channel:   channel,
		Title:     title,
		Body:      body,
		URL:       url,
		CreatedAt: now.UTC(),
	}
}

// Validate checks the channel and that the notification has a title.
func (n Notification) Validate() error {
	if !n.Channel.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, n.Channel)
	}
	if n.Title == "" {
		return errors.New("notify: title is required")
	}
	return nil
}

// Dispatcher delivers notifications. Notify is fire-and-forget from the
// caller's point of view: an error means the notice was not delivered.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogDispatcher writes notifications to a logger. Hosts without a delivery
// transport use it.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Notify(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"id", n.ID,
		"channel", n.Channel,
		"title", n.Title,
		"url", n.URL,
	)
	return nil
}
