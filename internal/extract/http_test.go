package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestGateway(url string) *HTTPGateway {
	return NewHTTPGateway(Config{
		HTTPURL:            url,
		RatePerSec:         1000,
		Burst:              1000,
		BreakerMaxFailures: 2,
		BreakerCooldown:    time.Minute,
		RequestTimeout:     2 * time.Second,
	})
}

func TestHTTPGatewayParsesFencedReply(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.History) != 1 || req.SchemaHint == "" {
			t.Errorf("unexpected request payload: %+v", req)
		}
		w.Write([]byte("```json\n{\"summary\": \"s\", \"preferences\": {\"name\": \"Kim\"}}\n```"))
	}))
	defer ts.Close()

	g := newTestGateway(ts.URL)
	res, err := g.Extract(context.Background(), Request{
		History:    []Turn{{User: "my name is Kim", Agent: "hi"}},
		SchemaHint: DefaultSchemaHint,
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Preferences.Name == nil || *res.Preferences.Name != "Kim" {
		t.Fatalf("name = %v, want Kim", res.Preferences.Name)
	}
}

func TestHTTPGatewayBreakerOpensOnUpstreamFailures(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	g := newTestGateway(ts.URL)

	for i := 0; i < 2; i++ {
		var statusErr *StatusError
		if _, err := g.Extract(context.Background(), Request{}); !errors.As(err, &statusErr) {
			t.Fatalf("call %d error = %v, want StatusError", i, err)
		}
	}

	// Third call must be rejected without reaching the server.
	if _, err := g.Extract(context.Background(), Request{}); !errors.Is(err, ErrGatewayOpen) {
		t.Fatalf("error after breaker threshold = %v, want ErrGatewayOpen", err)
	}
	if calls != 2 {
		t.Fatalf("upstream calls = %d, want 2", calls)
	}
}

func TestHTTPGatewayUnparseableDoesNotTripBreaker(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("I cannot answer in JSON today."))
	}))
	defer ts.Close()

	g := newTestGateway(ts.URL)
	for i := 0; i < 5; i++ {
		if _, err := g.Extract(context.Background(), Request{}); !errors.Is(err, ErrUnparseable) {
			t.Fatalf("call %d error = %v, want ErrUnparseable", i, err)
		}
	}
}

func TestHTTPGatewayClientErrorDoesNotTripBreaker(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	g := newTestGateway(ts.URL)
	for i := 0; i < 5; i++ {
		var statusErr *StatusError
		if _, err := g.Extract(context.Background(), Request{}); !errors.As(err, &statusErr) {
			t.Fatalf("call %d error = %v, want StatusError (breaker should stay closed)", i, err)
		}
	}
}

func TestHTTPGatewayHonorsContextTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	g := newTestGateway(ts.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Extract(ctx, Request{})
	if err == nil {
		t.Fatalf("Extract() should fail when the context deadline passes")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Extract() took %v, should abort near the 50ms deadline", elapsed)
	}
}

func TestNewGatewayModeSelection(t *testing.T) {
	if _, err := NewGateway(Config{Mode: "http"}); err == nil {
		t.Fatalf("http mode without url should fail")
	}
	if _, err := NewGateway(Config{Mode: "bogus"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}

	g, err := NewGateway(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("auto mode error = %v", err)
	}
	if _, ok := g.(*MockGateway); !ok {
		t.Fatalf("auto mode without url should fall back to the mock gateway")
	}

	g, err = NewGateway(Config{Mode: "auto", HTTPURL: "http://127.0.0.1:9/extract"})
	if err != nil {
		t.Fatalf("auto mode with url error = %v", err)
	}
	if _, ok := g.(*HTTPGateway); !ok {
		t.Fatalf("auto mode with url should build the http gateway")
	}
}
