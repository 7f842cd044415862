// Package ntfy sends push alerts through an ntfy.sh topic.
package ntfy

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
)

const DefaultServer = "https://ntfy.sh"

type Notifier struct {
	url     string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New returns nil when topic is empty; a nil Notifier drops every alert.
func New(server, topic string, timeout time.Duration) *Notifier {
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	if topic == "" {
		return nil
	}
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if server == "" {
		server = DefaultServer
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		url:  server + "/" + topic,
		http: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ntfy",
			Timeout: time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Alert posts a.Message as the notification body.
func (n *Notifier) Alert(ctx context.Context, a model.Alert) error {
	if n == nil {
		return nil
	}
	_, err := n.breaker.Execute(func() (any, error) {
		return nil, n.post(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("ntfy: %w", err)
	}
	return nil
}

func (n *Notifier) post(ctx context.Context, a model.Alert) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(a.Message))
	if err != nil {
		return err
	}
	req.Header.Set("Title", "Irrigation monitor")
	req.Header.Set("Tags", string(a.Kind))
	if a.Kind == model.AlertLeak || a.Kind == model.AlertExcessFlow {
		req.Header.Set("Priority", "high")
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}
