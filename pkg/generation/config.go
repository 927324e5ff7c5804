package generation

import (
	"context"

	"golang.org/x/time/rate"
)

// Config carries provider-independent engine settings.
type Config struct {
	// BaseURL overrides the provider's default endpoint, for proxies and
	// self-hosted deployments.
	BaseURL string

	// Limiter throttles outgoing requests when set.
	Limiter *rate.Limiter
}

func NewConfig() *Config {
	return &Config{}
}

// Wait blocks until the rate limiter admits another request. A nil limiter
// admits immediately.
func (c *Config) Wait(ctx context.Context) error {
	if c == nil || c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

type Option func(*Config) error

func WithBaseURL(baseURL string) Option {
	return func(c *Config) error {
		c.BaseURL = baseURL
		return nil
	}
}

func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Config) error {
		c.Limiter = limiter
		return nil
	}
}

// WithRateLimit throttles requests to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Config) error {
		c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return nil
	}
}

func ApplyOptions(config *Config, options ...Option) error {
	for _, option := range options {
		if err := option(config); err != nil {
			return err
		}
	}
	return nil
}
