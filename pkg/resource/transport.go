package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/sony/gobreaker"
	"github.com/valyala/bytebufferpool"
)

// Transport loads the signed bytes of a resource.
type Transport interface {
	Fetch(ctx context.Context, d Descriptor) ([]byte, error)
}

const maxPayloadSize = 32 << 20

type HTTPTransport struct {
	baseURL *url.URL
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  log.Logger
}

type HTTPOption func(*HTTPTransport)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithBreaker trips after failures consecutive failed fetches and stays open
// for timeout.
func WithBreaker(failures uint32, timeout time.Duration) HTTPOption {
	return func(t *HTTPTransport) {
		t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "revocation-server",
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				level.Warn(t.logger).Log("msg", "Circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
}

func NewHTTPTransport(baseURL string, logger log.Logger, opts ...HTTPOption) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	t := &HTTPTransport{
		baseURL: u,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *HTTPTransport) Fetch(ctx context.Context, d Descriptor) ([]byte, error) {
	if t.breaker == nil {
		return t.fetch(ctx, d)
	}
	body, err := t.breaker.Execute(func() (interface{}, error) {
		return t.fetch(ctx, d)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, d.Path(), err)
		}
		return nil, err
	}
	return body.([]byte), nil
}

func (t *HTTPTransport) fetch(ctx context.Context, d Descriptor) ([]byte, error) {
	ref, err := url.Parse(d.Path())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, d.Path(), err)
	}
	target := t.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, d.Path(), err)
	}
	req.Header.Set("Accept", "application/cbor")

	resp, err := t.client.Do(req)
	if err != nil {
		level.Error(t.logger).Log("err", err, "msg", "Could not fetch "+d.Path())
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, d.Path(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		level.Error(t.logger).Log("status", resp.StatusCode, "msg", "Revocation server rejected "+d.Path())
		return nil, fmt.Errorf("%w: %s: status %d", ErrNetwork, d.Path(), resp.StatusCode)
	}

	buf := bytebufferpool.Get()
	defer func() {
		buf.Reset()
		bytebufferpool.Put(buf)
	}()
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, maxPayloadSize)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNetwork, d.Path(), err)
	}

	// the buffer goes back to the pool
	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())
	return body, nil
}
