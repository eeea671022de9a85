package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mohammed-shakir/polluted-cities/internal/core/observability"
)

const maxBody = 32 << 20

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// JSON performs call-and-decode requests against one upstream. Every call
// gets its own timeout; zero leaves only the client's default.
type JSON struct {
	client   *http.Client
	upstream string
	timeout  time.Duration
}

func NewJSON(client *http.Client, upstream string, timeout time.Duration) *JSON {
	if client == nil {
		client = NewOutbound()
	}
	return &JSON{client: client, upstream: upstream, timeout: timeout}
}

func (j *JSON) Get(ctx context.Context, url string, header http.Header, dst any) error {
	return j.do(ctx, http.MethodGet, url, header, nil, dst)
}

func (j *JSON) Post(ctx context.Context, url string, body, dst any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", j.upstream, err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return j.do(ctx, http.MethodPost, url, h, b, dst)
}

func (j *JSON) do(ctx context.Context, method, url string, header http.Header, body []byte, dst any) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("build %s request: %w", j.upstream, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	err = j.roundTrip(req, dst)
	observability.ObserveUpstreamLatency(j.upstream, err, time.Since(start).Seconds())
	return err
}

func (j *JSON) roundTrip(req *http.Request, dst any) error {
	resp, err := j.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, j.upstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", j.upstream, err)
	}
	return nil
}
