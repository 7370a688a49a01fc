// Package notifier routes incident alerts to severity-appropriate channels
// and tracks acknowledgment, independent of channel technology.
package notifier

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/flarewatch/internal/metrics"
	"github.com/good-yellow-bee/flarewatch/internal/models"
)

// Channel is the interface for all notification channels. Concrete delivery
// (Slack webhook, PagerDuty event, SMTP) is supplied by the host.
type Channel interface {
	// Name returns the channel name (e.g. "log", "chat", "pager", "email").
	Name() string
	// Send delivers one alert payload.
	Send(ctx context.Context, payload Payload) error
	// Close releases any resources.
	Close() error
}

// Well-known channel names used by the default routing policy.
const (
	ChannelLog     = "log"
	ChannelChat    = "chat"
	ChannelPager   = "pager"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Payload is the channel-agnostic alert content.
type Payload struct {
	IncidentID string              `json:"incident_id"`
	Title      string              `json:"title"`
	Severity   models.Severity     `json:"severity"`
	Type       models.IncidentType `json:"type"`
	Summary    string              `json:"summary"`
	Timestamp  time.Time           `json:"timestamp"`
}

// DeliveryResult records the outcome of dispatching to one channel. A
// failure is local to its channel and never suppresses the others.
type DeliveryResult struct {
	Channel     string    `json:"channel"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	RateLimited bool      `json:"rate_limited,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// DefaultRoutes is the fixed severity-to-channel policy, overridable via
// configuration. CRITICAL alerts go everywhere, immediately and unbatched.
func DefaultRoutes() map[models.Severity][]string {
	return map[models.Severity][]string{
		models.SeverityLow:      {ChannelLog},
		models.SeverityMedium:   {ChannelLog, ChannelChat},
		models.SeverityHigh:     {ChannelLog, ChannelChat, ChannelPager},
		models.SeverityCritical: {ChannelLog, ChannelChat, ChannelPager, ChannelEmail},
	}
}

// Options configures the notifier.
type Options struct {
	// Routes overrides the severity routing table; nil keeps the default.
	Routes map[models.Severity][]string
	// SendTimeout bounds a single channel send.
	SendTimeout time.Duration
	// RatePerSecond and Burst throttle dispatch to external channels.
	// Zero disables rate limiting.
	RatePerSecond float64
	Burst         int
}

// DefaultOptions returns default notifier options.
func DefaultOptions() *Options {
	return &Options{
		SendTimeout:   10 * time.Second,
		RatePerSecond: 1,
		Burst:         20,
	}
}

// Notifier routes alerts to registered channels by incident severity.
type Notifier struct {
	mu       sync.RWMutex
	channels map[string]Channel
	routes   map[models.Severity][]string

	sendTimeout time.Duration
	limiter     *rate.Limiter
}

// New creates a notifier.
func New(opts *Options) *Notifier {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}

	routes := opts.Routes
	if routes == nil {
		routes = DefaultRoutes()
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &Notifier{
		channels:    make(map[string]Channel),
		routes:      routes,
		sendTimeout: opts.SendTimeout,
		limiter:     limiter,
	}
}

// Register adds a channel to the notifier.
func (n *Notifier) Register(c Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels[c.Name()] = c
}

// Unregister removes a channel.
func (n *Notifier) Unregister(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.channels, name)
}

// RoutesFor returns the channel names mapped to a severity.
func (n *Notifier) RoutesFor(severity models.Severity) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	routes := n.routes[severity]
	out := make([]string, len(routes))
	copy(out, routes)
	return out
}

// Notify computes the channel set for the incident's current severity and
// dispatches the payload to each mapped channel independently. One channel's
// failure is recorded in its result and never prevents dispatch to the rest.
func (n *Notifier) Notify(ctx context.Context, incident *models.Incident) []DeliveryResult {
	payload := Payload{
		IncidentID: incident.ID,
		Title:      incident.Title,
		Severity:   incident.Severity,
		Type:       incident.Type,
		Summary:    incident.Description,
		Timestamp:  time.Now(),
	}

	names := n.RoutesFor(incident.Severity)
	results := make([]DeliveryResult, 0, len(names))
	for _, name := range names {
		results = append(results, n.send(ctx, name, payload))
	}
	return results
}

// send dispatches to one channel with the per-channel timeout.
func (n *Notifier) send(ctx context.Context, name string, payload Payload) DeliveryResult {
	result := DeliveryResult{Channel: name, Timestamp: time.Now()}

	n.mu.RLock()
	c, ok := n.channels[name]
	n.mu.RUnlock()
	if !ok {
		result.Error = fmt.Sprintf("channel %q not registered", name)
		metrics.NotificationsTotal.WithLabelValues(name, "error").Inc()
		return result
	}

	// The log channel is local and exempt from rate limiting; external
	// channels drop (and record) when throttled rather than blocking the
	// caller.
	if name != ChannelLog && n.limiter != nil && !n.limiter.Allow() {
		result.RateLimited = true
		result.Error = "rate limited"
		metrics.NotificationsTotal.WithLabelValues(name, "rate_limited").Inc()
		return result
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()

	if err := c.Send(sendCtx, payload); err != nil {
		result.Error = err.Error()
		metrics.NotificationsTotal.WithLabelValues(name, "error").Inc()
		log.Printf("notifier: channel %s delivery failed: %v", name, err)
		return result
	}

	result.OK = true
	metrics.NotificationsTotal.WithLabelValues(name, "ok").Inc()
	return result
}

// Acknowledge records acknowledgment on the incident. Idempotent: after the
// first call, repeated calls by any actor change nothing.
func (n *Notifier) Acknowledge(incident *models.Incident, actor string) {
	incident.MarkAcknowledged(actor)
}

// Close closes all registered channels.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var errs []error
	for name, c := range n.channels {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	n.channels = make(map[string]Channel)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
