package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/shalom-calendar/upgradekit/internal/push"
	"github.com/shalom-calendar/upgradekit/internal/topics"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

type fakeDelivery struct {
	data    []byte
	headers nats.Header
	settled string
}

func (f *fakeDelivery) Data() []byte         { return f.data }
func (f *fakeDelivery) Headers() nats.Header { return f.headers }
func (f *fakeDelivery) Ack() error           { f.settled = "ack"; return nil }
func (f *fakeDelivery) Nak() error           { f.settled = "nak"; return nil }
func (f *fakeDelivery) Term() error          { f.settled = "term"; return nil }

func newTestSubscriber(h Handler) *TopicSubscriber {
	return NewTopicSubscriber(nil, Config{
		TopicPrefix: "calendar.topics",
		Stream:      StreamConfig{Name: "CALENDAR_PUSH"},
		Consumer:    ConsumerConfig{NamePrefix: "device-42"},
	}, h, nil)
}

func TestTopicSubscriber_Deliver(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		handlerErr error
		expected   string
	}{
		{name: "handled", data: `{"releasedVersion":"82"}`, expected: "ack"},
		{name: "not a string map", data: `{"releasedVersion":82}`, expected: "term"},
		{name: "malformed descriptor", data: `{}`, handlerErr: &version.ParseError{Field: version.FieldReleasedVersion}, expected: "term"},
		{name: "unknown topic", data: `{}`, handlerErr: push.ErrUnknownTopic, expected: "term"},
		{name: "store unavailable", data: `{}`, handlerErr: errors.New("database is locked"), expected: "nak"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got push.Message
			called := false
			s := newTestSubscriber(func(_ context.Context, msg push.Message) error {
				called = true
				got = msg
				return tt.handlerErr
			})

			h := nats.Header{}
			h.Set(nats.MsgIdHdr, "release-82")
			msg := &fakeDelivery{data: []byte(tt.data), headers: h}
			s.deliver(topics.AppVersionUpgrade, msg)

			if msg.settled != tt.expected {
				t.Errorf("settled = %q, want %q", msg.settled, tt.expected)
			}
			if called && (got.ID != "release-82" || got.Topic != topics.AppVersionUpgrade) {
				t.Errorf("handler got %+v", got)
			}
		})
	}
}

func TestTopicSubscriber_DeliverWithoutHeaders(t *testing.T) {
	var id = "unset"
	s := newTestSubscriber(func(_ context.Context, msg push.Message) error {
		id = msg.ID
		return nil
	})
	msg := &fakeDelivery{data: []byte(`{"holiday_id":"1"}`)}
	s.deliver(topics.HolidayDateAdjustment, msg)
	if id != "" || msg.settled != "ack" {
		t.Errorf("id = %q settled = %q, want empty id and ack", id, msg.settled)
	}
}

func TestTopicSubscriber_ConsumerName(t *testing.T) {
	s := newTestSubscriber(nil)
	if got := s.ConsumerName(topics.SalesAndPromotion); got != "device-42-"+topics.SalesAndPromotion {
		t.Errorf("ConsumerName() = %q", got)
	}
	s.cfg.NamePrefix = "a.b"
	if got := s.ConsumerName("T"); got != "a_b-T" {
		t.Errorf("ConsumerName() = %q, want a_b-T", got)
	}
}

func TestTopicSubscriber_EmptyTopic(t *testing.T) {
	s := newTestSubscriber(nil)
	ctx := context.Background()
	if err := s.Subscribe(ctx, ""); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("Subscribe(\"\") error = %v, want ErrEmptyTopic", err)
	}
	if err := s.Unsubscribe(ctx, ""); !errors.Is(err, ErrEmptyTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrEmptyTopic", err)
	}
	if len(s.Active()) != 0 {
		t.Errorf("Active() = %v, want none", s.Active())
	}
	s.Stop()
}
