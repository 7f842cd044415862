// Package ngrok reads the local ngrok agent API to find the public URL that
// forwards to the webhook listener.
package ngrok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var ErrNoTunnel = errors.New("ngrok: no tunnel running")

type Tunnel struct {
	PublicURL string
	LocalAddr string
	LocalPort int
}

type tunnelsDoc struct {
	Tunnels []struct {
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

// Discover queries http://{host}:4040/api/tunnels (host may carry its own
// port) and returns the first https tunnel, or the first tunnel at all.
func Discover(ctx context.Context, host string) (Tunnel, error) {
	base := strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if !hasPort(base) {
		base += ":4040"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tunnels", nil)
	if err != nil {
		return Tunnel{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Tunnel{}, fmt.Errorf("ngrok agent is not running: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Tunnel{}, fmt.Errorf("ngrok agent: status %s", resp.Status)
	}

	var doc tunnelsDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Tunnel{}, fmt.Errorf("ngrok agent: decode: %w", err)
	}
	if len(doc.Tunnels) == 0 {
		return Tunnel{}, ErrNoTunnel
	}
	chosen := doc.Tunnels[0]
	for _, t := range doc.Tunnels {
		if strings.HasPrefix(t.PublicURL, "https://") {
			chosen = t
			break
		}
	}

	port, err := portOf(chosen.Config.Addr)
	if err != nil {
		return Tunnel{}, fmt.Errorf("ngrok tunnel addr %q: %w", chosen.Config.Addr, err)
	}
	return Tunnel{PublicURL: chosen.PublicURL, LocalAddr: chosen.Config.Addr, LocalPort: port}, nil
}

func hasPort(u string) bool {
	rest := u[strings.Index(u, "://")+3:]
	return strings.Contains(rest, ":")
}

// portOf accepts "8080", "localhost:8080" or "http://localhost:8080".
func portOf(addr string) (int, error) {
	i := strings.LastIndex(addr, ":")
	return strconv.Atoi(strings.TrimRight(addr[i+1:], "/"))
}
