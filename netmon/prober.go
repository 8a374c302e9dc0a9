package netmon

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPProber checks connectivity with a cache-busted HEAD request.
// Any completed HTTP exchange counts as reachable, whatever the status code;
// only transport failures count as offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewHTTPProber returns a prober for rawURL using http.DefaultClient.
func NewHTTPProber(rawURL string) *HTTPProber {
	return &HTTPProber{URL: rawURL, Client: http.DefaultClient}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	target, err := p.bustedURL()
	if err != nil {
		p.logger().Warn("invalid probe url", slog.String("url", p.URL), slog.Any("error", err))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		p.logger().Debug("probe failed", slog.Any("error", err))
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}

func (p *HTTPProber) bustedURL() (string, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return "", err
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	q := u.Query()
	q.Set("_", strconv.FormatInt(now().UnixNano(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *HTTPProber) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
