// Package notifier delivers rendered notifications to chat, email and
// webhook destinations.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrRateLimited is returned when the router's rate limit is exhausted.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrUnknownChannel is returned for a destination whose scheme has no
	// registered channel.
	ErrUnknownChannel = errors.New("unknown notification channel")
	// ErrInvalidDestination is returned for a destination without a scheme.
	ErrInvalidDestination = errors.New("destination must have the form <channel>:<target>")
)

// Channel sends messages to one kind of destination.
type Channel interface {
	// Name returns the destination scheme served by this channel.
	Name() string
	// Send delivers msg to target. target is the part of the destination
	// after the scheme and may be empty.
	Send(ctx context.Context, target string, msg *Message) error
	// Close releases any resources held by the channel.
	Close() error
}

// DeliveryError reports a failed delivery to a destination.
type DeliveryError struct {
	Channel     string
	Destination string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s via %s: %v", e.Destination, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ParseDestination splits "slack:#oncall" into its channel scheme and target.
func ParseDestination(destination string) (scheme, target string, err error) {
	scheme, target, ok := strings.Cut(strings.TrimSpace(destination), ":")
	if !ok || scheme == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
	}
	return strings.ToLower(scheme), target, nil
}

// Router routes notifications to registered channels by destination scheme.
type Router struct {
	mu          sync.RWMutex
	channels    map[string]Channel
	rateLimiter *RateLimiter
	logger      *zap.Logger
}

// NewRouter creates a router with the default rate limit.
func NewRouter(logger *zap.Logger) *Router {
	return NewRouterWithRateLimit(DefaultRateLimitConfig(), logger)
}

// NewRouterWithRateLimit creates a router with a custom rate limit.
func NewRouterWithRateLimit(config RateLimitConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		channels:    make(map[string]Channel),
		rateLimiter: NewRateLimiter(config),
		logger:      logger,
	}
}

// Register adds a channel, replacing any channel with the same name.
func (r *Router) Register(c Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[c.Name()] = c
}

// Unregister removes a channel by name.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, name)
}

// Get returns a channel by name.
func (r *Router) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[name]
	return c, ok
}

// Channels returns the names of all registered channels.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// Publish delivers a notification to destination. Any failure is returned
// as a *DeliveryError.
func (r *Router) Publish(ctx context.Context, destination, subject, body string) error {
	scheme, target, err := ParseDestination(destination)
	if err != nil {
		return &DeliveryError{Destination: destination, Err: err}
	}

	ch, ok := r.Get(scheme)
	if !ok {
		return &DeliveryError{Channel: scheme, Destination: destination, Err: ErrUnknownChannel}
	}

	if !r.rateLimiter.Allow() {
		r.logger.Warn("notification rate limited",
			zap.String("destination", destination),
			zap.Int64("dropped", r.rateLimiter.Dropped()),
		)
		return &DeliveryError{Channel: scheme, Destination: destination, Err: ErrRateLimited}
	}

	msg := NewMessage(subject, body)
	if msg.Truncated {
		r.logger.Warn("notification body truncated",
			zap.String("destination", destination),
			zap.Int("bytes", len(body)),
		)
	}

	if err := ch.Send(ctx, target, msg); err != nil {
		return &DeliveryError{Channel: scheme, Destination: destination, Err: err}
	}
	r.logger.Debug("notification sent", zap.String("destination", destination))
	return nil
}

// RateLimitStats returns the current rate limit statistics.
func (r *Router) RateLimitStats() RateLimitStats {
	return r.rateLimiter.Stats()
}

// Close closes all registered channels.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, c := range r.channels {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
