// Package rachio talks to the Rachio public and cloud REST APIs: zone
// metadata for the controller and webhook registration.
package rachio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
)

const (
	PublicBaseURL = "https://api.rach.io/1/public"
	CloudBaseURL  = "https://cloud-rest.rach.io"
)

var (
	ErrDeviceNotFound  = errors.New("rachio: controller not found")
	ErrWebhookConflict = errors.New("rachio: zone-run webhook already registered to another url")
)

type Options struct {
	PublicURL string
	CloudURL  string
	Timeout   time.Duration
}

type Client struct {
	apiKey string
	public string
	cloud  string
	http   *http.Client
}

// Device is the subset of the person/{id} document we rely on.
type Device struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Zones []Zone `json:"zones"`
}

type Zone struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ZoneNumber int    `json:"zoneNumber"`
}

func NewClient(apiKey string, opts Options) *Client {
	if opts.PublicURL == "" {
		opts.PublicURL = PublicBaseURL
	}
	if opts.CloudURL == "" {
		opts.CloudURL = CloudBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Client{
		apiKey: apiKey,
		public: strings.TrimRight(opts.PublicURL, "/"),
		cloud:  strings.TrimRight(opts.CloudURL, "/"),
		http:   &http.Client{Timeout: opts.Timeout},
	}
}

// FindDevice resolves the account behind the API key and returns the
// controller called name.
func (c *Client) FindDevice(ctx context.Context, name string) (*Device, error) {
	var info struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, c.public+"/person/info", nil, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, fmt.Errorf("rachio: person/info returned no id")
	}

	var person struct {
		Devices []Device `json:"devices"`
	}
	if err := c.do(ctx, http.MethodGet, c.public+"/person/"+info.ID, nil, &person); err != nil {
		return nil, err
	}
	for i := range person.Devices {
		if person.Devices[i].Name == name {
			return &person.Devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// ZoneInfos returns the device's zones sorted by zone number.
func (d *Device) ZoneInfos() []model.ZoneInfo {
	out := make([]model.ZoneInfo, 0, len(d.Zones))
	for _, z := range d.Zones {
		out = append(out, model.ZoneInfo{Number: z.ZoneNumber, ID: z.ID, Name: z.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (c *Client) do(ctx context.Context, method, url string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rachio %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("rachio %s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rachio %s %s: decode: %w", method, url, err)
	}
	return nil
}
