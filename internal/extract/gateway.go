package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Turn is one user/agent exchange inside the bounded extraction window.
type Turn struct {
	User  string `json:"user"`
	Agent string `json:"agent"`
}

// Request is the normalized payload sent to the extraction capability.
type Request struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	History    []Turn `json:"history"`
	SchemaHint string `json:"schema_hint"`
}

// Result is a successful extraction: a dialogue summary plus the structured
// preference payload.
type Result struct {
	Summary     string
	Preferences Preferences
}

// Gateway converts a bounded turn history into a summary and structured
// preferences. Implementations may call out to an LLM service or answer
// deterministically; failures are reported as errors and the caller decides
// retry policy.
type Gateway interface {
	Extract(ctx context.Context, req Request) (Result, error)
}

// DefaultSchemaHint describes the output shape the service expects back.
const DefaultSchemaHint = `Return a single JSON object: {"summary": string, "preferences": {"name": string|null, "preferred_branch": string|null, "service_preference": string|null, "pain_points": [string]}}. Use null for unknown fields.`

// Config controls gateway construction.
type Config struct {
	Mode    string
	HTTPURL string

	// Protection knobs for the HTTP gateway.
	RatePerSec         float64
	Burst              int
	BreakerMaxFailures uint32
	BreakerCooldown    time.Duration
	RequestTimeout     time.Duration
}

// NewGateway builds the configured gateway. Auto mode uses the HTTP gateway
// when a URL is present and otherwise falls back to the deterministic mock.
func NewGateway(cfg Config) (Gateway, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTPGateway(cfg), nil
		}
		return NewMockGateway(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("extraction HTTP url is required for http mode")
		}
		return NewHTTPGateway(cfg), nil
	case "mock":
		return NewMockGateway(), nil
	default:
		return nil, fmt.Errorf("unsupported extraction gateway mode %q", cfg.Mode)
	}
}
