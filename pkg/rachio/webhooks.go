package rachio

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
)

// ZoneRunEventTypes are the notifications the monitor subscribes to.
var ZoneRunEventTypes = []string{
	"DEVICE_ZONE_RUN_STARTED_EVENT",
	"DEVICE_ZONE_RUN_PAUSED_EVENT",
	"DEVICE_ZONE_RUN_STOPPED_EVENT",
	"DEVICE_ZONE_RUN_COMPLETED_EVENT",
}

type Webhook struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	EventTypes []string `json:"eventTypes"`
}

func (w Webhook) isZoneRun() bool {
	return strings.Contains(strings.Join(w.EventTypes, " "), "DEVICE_ZONE_RUN_")
}

func (c *Client) ListWebhooks(ctx context.Context, deviceID string) ([]Webhook, error) {
	var out struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	u := c.cloud + "/webhook/listWebhooks?resource_id.irrigation_controller_id=" + url.QueryEscape(deviceID)
	if err := c.do(ctx, http.MethodGet, u, nil, &out); err != nil {
		return nil, err
	}
	return out.Webhooks, nil
}

// EnsureZoneRunWebhook registers targetURL for the zone-run events unless it
// is already registered. A zone-run webhook pointing elsewhere is a conflict:
// the controller only delivers to one.
func (c *Client) EnsureZoneRunWebhook(ctx context.Context, deviceID, targetURL string) error {
	hooks, err := c.ListWebhooks(ctx, deviceID)
	if err != nil {
		return err
	}
	for _, h := range hooks {
		if !h.isZoneRun() {
			continue
		}
		if h.URL == targetURL {
			log.Printf("rachio: webhook to %s exists", targetURL)
			return nil
		}
		return &conflictError{url: h.URL}
	}

	body := map[string]any{
		"resource_id": map[string]string{"irrigation_controller_id": deviceID},
		"url":         targetURL,
		"event_types": ZoneRunEventTypes,
	}
	if err := c.do(ctx, http.MethodPost, c.cloud+"/webhook/createWebhook", body, nil); err != nil {
		return err
	}
	log.Printf("rachio: webhook to %s created", targetURL)
	return nil
}

func (c *Client) DeleteWebhooks(ctx context.Context, deviceID string) error {
	u := c.cloud + "/webhook/deleteAllWebhooks?resource_id.irrigation_controller_id=" + url.QueryEscape(deviceID)
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

type conflictError struct{ url string }

func (e *conflictError) Error() string { return ErrWebhookConflict.Error() + ": " + e.url }
func (e *conflictError) Unwrap() error { return ErrWebhookConflict }
