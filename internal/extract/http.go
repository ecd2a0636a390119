package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/antoniostano/mnemo/internal/reliability"
)

// ErrGatewayOpen is returned while the circuit breaker is rejecting calls
// after repeated upstream failures.
var ErrGatewayOpen = errors.New("extraction gateway circuit is open")

// StatusError is a non-2xx reply from the extraction endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("extraction http status %d: %s", e.Code, e.Body)
}

// HTTPGateway posts extraction requests to an LLM-backed HTTP endpoint.
// Calls are rate limited and wrapped in a circuit breaker so a degraded
// upstream sheds load quickly instead of stalling every session at the
// request timeout.
type HTTPGateway struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPGateway(cfg Config) *HTTPGateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 2
	}
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &HTTPGateway{
		url:     cfg.HTTPURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "extraction-gateway",
			Timeout: cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			// A reply we could reach but not parse is a payload problem,
			// not an upstream outage; it must not trip the breaker.
			IsSuccessful: func(err error) bool {
				return err == nil || !isUpstreamFailure(err)
			},
		}),
	}
}

func (g *HTTPGateway) Extract(ctx context.Context, req Request) (Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("extraction rate limit: %w", err)
	}

	out, err := g.breaker.Execute(func() (any, error) {
		return g.call(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, ErrGatewayOpen
		}
		return Result{}, err
	}
	return out.(Result), nil
}

func (g *HTTPGateway) call(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, &StatusError{Code: res.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	return ParseResult(string(body))
}

func isUpstreamFailure(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return reliability.IsRetryableHTTPStatus(statusErr.Code)
	}
	if errors.Is(err, ErrUnparseable) {
		return false
	}
	// Transport errors, timeouts, cancellations.
	return true
}
