package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/flow-monitor/internal/model"
	"github.com/LeonardoBeccarini/flow-monitor/internal/model/messages"
)

// SelfTestPoster sends the self-test marker through the public webhook path.
type SelfTestPoster interface {
	PostSelfTest(ctx context.Context) error
}

// HTTPSelfTest posts to the public URL so the request travels the same
// tunnel and receiver a real Rachio notification would.
type HTTPSelfTest struct {
	url    string
	client *http.Client
}

func NewHTTPSelfTest(publicURL string, timeout time.Duration) *HTTPSelfTest {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSelfTest{url: publicURL, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSelfTest) PostSelfTest(ctx context.Context) error {
	body, err := json.Marshal(messages.WebhookPayload{
		EventID:   uuid.NewString(),
		EventType: model.SelfTestType,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("self-test request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("self-test post %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("self-test post %s: status %s", s.url, resp.Status)
	}
	return nil
}
