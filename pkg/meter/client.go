// Package meter reads the Wi-Fi water meter's JSON endpoint.
package meter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
)

// ErrUnavailable is returned without a network call while the breaker is open.
var ErrUnavailable = errors.New("meter unavailable")

// Client calls http://{host}/data.json behind a circuit breaker, so a dead
// meter fails fast instead of stalling the monitor for the full timeout.
type Client struct {
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

type Config struct {
	Host            string
	Timeout         time.Duration
	BreakerFailures int
	BreakerOpenFor  time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	fails := uint32(cfg.BreakerFailures)
	return &Client{
		url:  base + "/data.json",
		http: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "water-meter",
			Timeout: cfg.BreakerOpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
		}),
	}
}

// Read returns the current reading. On error the returned Reading is empty
// (every field unknown).
func (c *Client) Read(ctx context.Context) (model.Reading, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return model.Reading{}, fmt.Errorf("meter %s: %w", c.url, ErrUnavailable)
	}
	if err != nil {
		return model.Reading{}, fmt.Errorf("meter %s: %w", c.url, err)
	}
	return res.(model.Reading), nil
}

func (c *Client) fetch(ctx context.Context) (model.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return model.Reading{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.Reading{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Reading{}, fmt.Errorf("status %s", resp.Status)
	}
	var r model.Reading
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return model.Reading{}, fmt.Errorf("decode: %w", err)
	}
	return r, nil
}

// State exposes the breaker state for /healthz.
func (c *Client) State() string {
	return c.breaker.State().String()
}
