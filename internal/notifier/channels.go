package notifier

import (
	"context"
	"log"
)

// ChannelFunc adapts a send function to the Channel interface. Hosts use it
// to wire concrete senders without defining a type.
type ChannelFunc struct {
	ChannelName string
	SendFunc    func(ctx context.Context, payload Payload) error
}

// Name implements Channel.
func (c ChannelFunc) Name() string { return c.ChannelName }

// Send implements Channel.
func (c ChannelFunc) Send(ctx context.Context, payload Payload) error {
	return c.SendFunc(ctx, payload)
}

// Close implements Channel.
func (c ChannelFunc) Close() error { return nil }

// LogChannel writes alerts to the process log. It is the only channel the
// engine ships a real implementation for; every severity routes to it.
type LogChannel struct{}

// Name returns "log".
func (LogChannel) Name() string { return ChannelLog }

// Send logs the alert.
func (LogChannel) Send(_ context.Context, p Payload) error {
	log.Printf("ALERT [%s] %s incident %s (%s): %s",
		p.Severity, p.Type, p.IncidentID, p.Title, p.Summary)
	return nil
}

// Close is a no-op for the log channel.
func (LogChannel) Close() error { return nil }
