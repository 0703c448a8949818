// README: Push notifications for booking status changes via Firebase Cloud Messaging.
package events

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"ridehail/internal/modules/booking"
)

// messageSender is satisfied by *messaging.Client.
type messageSender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCMPublisher pushes every status change to the booking's FCM topic. Rider
// and driver apps subscribe to "booking_<id>" while they follow a booking.
type FCMPublisher struct {
	sender messageSender
	log    *zap.Logger
}

func NewFCMPublisher(ctx context.Context, projectID, credentialsFile string, log *zap.Logger) (*FCMPublisher, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return newFCMPublisher(client, log), nil
}

func newFCMPublisher(sender messageSender, log *zap.Logger) *FCMPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &FCMPublisher{sender: sender, log: log}
}

func TopicFor(bookingID string) string {
	return "booking_" + bookingID
}

var notificationText = map[booking.Status][2]string{
	booking.StatusRequested:  {"Ride requested", "Looking for a driver nearby"},
	booking.StatusAccepted:   {"Driver on the way", "Your driver has accepted the ride"},
	booking.StatusInProgress: {"Trip started", "Enjoy your ride"},
	booking.StatusCompleted:  {"Trip completed", "Thanks for riding with us"},
	booking.StatusCancelled:  {"Ride cancelled", "This booking was cancelled"},
}

// Message builds the FCM message for e. Data keys mirror the Kafka envelope.
func Message(e booking.Event) *messaging.Message {
	data := map[string]string{
		"type":       TypeOf(e.ToStatus),
		"booking_id": string(e.BookingID),
		"status":     string(e.ToStatus),
	}
	if e.DriverID != nil {
		data["driver_id"] = string(*e.DriverID)
	}
	if e.Reason != "" {
		data["reason"] = e.Reason
	}
	msg := &messaging.Message{
		Topic: TopicFor(string(e.BookingID)),
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if text, ok := notificationText[e.ToStatus]; ok {
		msg.Notification = &messaging.Notification{Title: text[0], Body: text[1]}
	}
	return msg
}

func (p *FCMPublisher) Publish(ctx context.Context, e booking.Event) error {
	id, err := p.sender.Send(ctx, Message(e))
	if err != nil {
		return fmt.Errorf("sending FCM for booking %s: %w", e.BookingID, err)
	}
	p.log.Debug("fcm sent", zap.String("booking_id", string(e.BookingID)), zap.String("message_id", id))
	return nil
}

func (p *FCMPublisher) Close() error { return nil }

// Publisher is a booking.Publisher that can be shut down.
type Publisher interface {
	booking.Publisher
	Close() error
}

// Fanout delivers each event to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, e booking.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
