package imageres

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

// sniffLimit bounds how much of a body is read when the server does not
// declare a usable content type.
const sniffLimit = 3072

// Prober resolves image URLs by fetching them over HTTP.
type Prober struct {
	client      *http.Client
	fallbackURL string
	logger      *zap.Logger
}

// NewHTTPClient returns a client for probing. Connection setup is bounded;
// the request itself is not, a slow image keeps loading until the caller's
// context ends.
func NewHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = 10 * time.Second
	return &http.Client{Transport: transport}
}

// NewProber creates a prober. A client-wide Timeout is dropped so resolution
// only ends on a response or on the caller's context.
func NewProber(client *http.Client, fallbackURL string, logger *zap.Logger) *Prober {
	if client == nil {
		client = NewHTTPClient()
	}
	if client.Timeout != 0 {
		unbounded := *client
		unbounded.Timeout = 0
		client = &unbounded
	}
	return &Prober{client: client, fallbackURL: fallbackURL, logger: logger}
}

// Resolve assigns url to a fresh Resolver and feeds it the outcome of a GET.
// If ctx ends before the fetch completes no signal is raised, the snapshot
// is returned in the Loading state together with the context error.
func (p *Prober) Resolve(ctx context.Context, url string) (Snapshot, error) {
	r := NewResolver(p.fallbackURL)
	r.OnTransition(p.logTransition)

	snap := r.Assign(url)
	if snap.State != Loading {
		return snap, nil
	}

	err := p.fetch(ctx, url)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return r.Snapshot(), ctxErr
	}
	if err != nil {
		p.logger.Debug("Image fetch failed", zap.String("url", url), zap.Error(err))
		r.Failed(url)
	} else {
		r.Loaded(url)
	}
	return r.Snapshot(), nil
}

func (p *Prober) fetch(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType != "application/octet-stream" {
		if !strings.HasPrefix(mediaType, "image/") {
			return fmt.Errorf("not an image: %s", mediaType)
		}
		return nil
	}

	detected, err := mimetype.DetectReader(io.LimitReader(resp.Body, sniffLimit))
	if err != nil {
		return fmt.Errorf("failed to read image body: %w", err)
	}
	if !strings.HasPrefix(detected.String(), "image/") {
		return fmt.Errorf("not an image: %s", detected.String())
	}
	return nil
}

func (p *Prober) logTransition(t Transition) {
	switch t.To {
	case Loading:
		p.logger.Debug("Loading image", zap.String("url", t.URL))
	case Loaded:
		p.logger.Debug("Image loaded", zap.String("url", t.URL))
	case FailedFallback:
		p.logger.Warn("Image unavailable, using fallback",
			zap.String("url", t.URL),
			zap.String("fallback", t.Src),
		)
	}
}
