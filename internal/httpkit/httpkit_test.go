package httpkit

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"
)

// echoUserAgent returns a server that replies with the request's
// User-Agent header.
func echoUserAgent() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
}

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{"default", nil, 30 * time.Second},
		{"custom", []ClientOption{WithTimeout(5 * time.Second)}, 5 * time.Second},
		{"zero disables", []ClientOption{WithTimeout(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(tt.opts...)
			if c.Timeout != tt.want {
				t.Errorf("Timeout = %v, want %v", c.Timeout, tt.want)
			}
		})
	}
}

func TestNewClient_DefaultUserAgent(t *testing.T) {
	srv := echoUserAgent()
	defer srv.Close()

	c := NewClient()
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "hearth/") {
		t.Errorf("User-Agent = %q, want hearth/ prefix", body)
	}
}

func TestNewClient_UserAgentOverride(t *testing.T) {
	srv := echoUserAgent()
	defer srv.Close()

	c := NewClient(WithUserAgent("TestBot/1.0"))
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "TestBot/1.0" {
		t.Errorf("User-Agent = %q, want TestBot/1.0", body)
	}
}

func TestNewClient_ExistingUserAgentNotOverwritten(t *testing.T) {
	srv := echoUserAgent()
	defer srv.Close()

	c := NewClient()
	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("User-Agent", "CustomBot/2.0")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "CustomBot/2.0" {
		t.Errorf("User-Agent = %q, want CustomBot/2.0", body)
	}
}

func TestNewClient_WithTransport(t *testing.T) {
	custom := NewTransport()
	custom.MaxIdleConns = 99
	c := NewClient(WithTransport(custom))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
}

func TestNewClient_WithRetryReachesServer(t *testing.T) {
	// Wiring check: the retry layer must still pass healthy requests
	// (and the User-Agent) through unchanged.
	srv := echoUserAgent()
	defer srv.Close()

	c := NewClient(WithRetry(2, 10*time.Millisecond))
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "hearth/") {
		t.Errorf("User-Agent = %q, want hearth/ prefix", body)
	}
}

func TestNewTransport_HasTimeouts(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v, want %v", tr.TLSHandshakeTimeout, DefaultTLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v, want %v", tr.ResponseHeaderTimeout, DefaultResponseHeader)
	}
	if tr.IdleConnTimeout != DefaultIdleConnTimeout {
		t.Errorf("IdleConnTimeout = %v, want %v", tr.IdleConnTimeout, DefaultIdleConnTimeout)
	}
	if tr.MaxIdleConns != DefaultMaxIdleConns {
		t.Errorf("MaxIdleConns = %d, want %d", tr.MaxIdleConns, DefaultMaxIdleConns)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d, want %d", tr.MaxIdleConnsPerHost, DefaultMaxIdleConnsPerHost)
	}
}

// --- Body helpers ---

type failReader struct{}

func (f *failReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("simulated read error")
}

func TestDrainAndClose(t *testing.T) {
	DrainAndClose(io.NopCloser(strings.NewReader("hello world")), 1024)
	DrainAndClose(io.NopCloser(strings.NewReader(strings.Repeat("x", 10000))), 100)
	DrainAndClose(nil, 1024)
}

func TestReadErrorBody(t *testing.T) {
	tests := []struct {
		name  string
		body  io.ReadCloser
		limit int64
		want  string
	}{
		{"full", io.NopCloser(strings.NewReader("error details here")), 512, "error details here"},
		{"truncated", io.NopCloser(strings.NewReader(strings.Repeat("x", 1000))), 10, strings.Repeat("x", 10)},
		{"nil", nil, 512, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReadErrorBody(tt.body, tt.limit); got != tt.want {
				t.Errorf("ReadErrorBody = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadErrorBody_ReadFailure(t *testing.T) {
	got := ReadErrorBody(io.NopCloser(&failReader{}), 512)
	if !strings.Contains(got, "failed to read") {
		t.Errorf("ReadErrorBody = %q, want failure message", got)
	}
}

// --- Retry transport ---

// flakyRoundTripper fails with a retryable dial error the first
// `failures` calls, then succeeds.
type flakyRoundTripper struct {
	failures int
	calls    int
}

func (f *flakyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.EHOSTUNREACH}
	}
	return &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader("ok")),
	}, nil
}

func newRetry(base http.RoundTripper, count int) *retryTransport {
	return &retryTransport{base: base, count: count, delay: 10 * time.Millisecond}
}

func TestRetryTransport_RecoversFromTransientError(t *testing.T) {
	ft := &flakyRoundTripper{failures: 1}
	rt := newRetry(ft, 2)

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip after one transient failure: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ft.calls != 2 {
		t.Fatalf("calls = %d, want 2 (1 failure + 1 retry)", ft.calls)
	}
}

func TestRetryTransport_NoRetryOnSuccess(t *testing.T) {
	ft := &flakyRoundTripper{}
	rt := newRetry(ft, 2)

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if ft.calls != 1 {
		t.Fatalf("calls = %d, want 1", ft.calls)
	}
}

func TestRetryTransport_ExhaustsRetries(t *testing.T) {
	ft := &flakyRoundTripper{failures: 10}
	rt := newRetry(ft, 2)

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("RoundTrip succeeded with a permanently failing transport")
	}
	if ft.calls != 3 {
		t.Fatalf("calls = %d, want 3 (initial + 2 retries)", ft.calls)
	}
}

func TestRetryTransport_RespectsContextCancellation(t *testing.T) {
	ft := &flakyRoundTripper{failures: 10}
	rt := &retryTransport{base: ft, count: 5, delay: 5 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", "http://example.com", nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("RoundTrip ignored context cancellation")
	}
	// The first call fails, then cancellation lands during the delay.
	if ft.calls != 1 {
		t.Fatalf("calls = %d, want 1", ft.calls)
	}
}

type brokenRoundTripper struct {
	calls int
}

func (f *brokenRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	return nil, fmt.Errorf("some non-retryable error")
}

func TestRetryTransport_NoRetryOnNonRetryableError(t *testing.T) {
	ft := &brokenRoundTripper{}
	rt := newRetry(ft, 2)

	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("RoundTrip succeeded with a broken transport")
	}
	if ft.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry)", ft.calls)
	}
}

func TestRetryTransport_RewindsBody(t *testing.T) {
	ft := &flakyRoundTripper{failures: 1}
	rt := newRetry(ft, 2)

	req, _ := http.NewRequest("POST", "http://example.com", strings.NewReader(`{"key":"value"}`))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(`{"key":"value"}`)), nil
	}

	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRetryTransport_NoRetryWithoutGetBody(t *testing.T) {
	ft := &flakyRoundTripper{failures: 1}
	rt := newRetry(ft, 2)

	// POST body with no way to rewind it; http.NewRequest auto-sets
	// GetBody for string readers, so clear it.
	req, _ := http.NewRequest("POST", "http://example.com", strings.NewReader(`{"key":"value"}`))
	req.GetBody = nil

	if _, err := rt.RoundTrip(req); err == nil {
		t.Fatal("RoundTrip retried a non-rewindable body")
	}
	if ft.calls != 1 {
		t.Fatalf("calls = %d, want 1", ft.calls)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"generic", fmt.Errorf("oops"), false},
		{"EHOSTUNREACH", syscall.EHOSTUNREACH, true},
		{"ENETUNREACH", syscall.ENETUNREACH, true},
		{"ECONNREFUSED", syscall.ECONNREFUSED, true},
		{"ECONNRESET after send", syscall.ECONNRESET, false},
		{"wrapped EHOSTUNREACH", fmt.Errorf("connect: %w", syscall.EHOSTUNREACH), true},
		{"OpError chain", &net.OpError{
			Op: "dial", Net: "tcp",
			Err: &net.OpError{Op: "connect", Err: syscall.EHOSTUNREACH},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
