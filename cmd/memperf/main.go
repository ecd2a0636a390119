package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/mnemo/internal/protocol"
	"github.com/antoniostano/mnemo/internal/reliability"
)

type options struct {
	baseURL        string
	userPrefix     string
	sessions       int
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

var defaultUtterances = []string{
	"My name is Kim and I usually visit the Gangnam branch.",
	"I prefer the quick trim service, nothing fancy.",
	"Honestly I was annoyed by the long wait last time.",
	"Can you book me in for Saturday morning?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "memperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "memperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "memory service base URL")
	flag.StringVar(&cfg.userPrefix, "user-prefix", "perf-user", "prefix for synthetic user ids")
	flag.IntVar(&cfg.sessions, "sessions", 4, "number of concurrent sessions to drive")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns per session")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 50, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout waiting for a snapshot per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.sessions <= 0 {
		return options{}, fmt.Errorf("sessions must be > 0")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}

	var (
		mu        sync.Mutex
		latencies []float64
		summaries int
	)

	var wg sync.WaitGroup
	errCh := make(chan error, cfg.sessions)
	for i := 0; i < cfg.sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("%s-%d", cfg.userPrefix, i)
			turnLatencies, summarized, err := driveSession(ctx, httpClient, cfg, userID)
			if err != nil {
				errCh <- fmt.Errorf("session for %s: %w", userID, err)
				return
			}
			mu.Lock()
			latencies = append(latencies, turnLatencies...)
			summaries += summarized
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return err
	}

	printReport(latencies, summaries, cfg)
	return fetchServerStages(ctx, httpClient, cfg)
}

func driveSession(ctx context.Context, client *http.Client, cfg options, userID string) ([]float64, int, error) {
	sessionID, err := createSession(ctx, client, cfg, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("create session: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("memperf: user=%s session=%s turns=%d\n", userID, sessionID, cfg.turns)
	}

	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return nil, 0, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var (
		latencies  []float64
		summarized int
	)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		turn := protocol.ClientTurn{
			Type:        protocol.TypeClientTurn,
			SessionID:   sessionID,
			UserID:      userID,
			UserInput:   text,
			AgentOutput: "Understood.",
			TSMs:        time.Now().UnixMilli(),
		}

		start := time.Now()
		if err := conn.WriteJSON(turn); err != nil {
			return nil, 0, fmt.Errorf("turn %d write: %w", i+1, err)
		}

		event, err := awaitSnapshot(conn, cfg.turnTimeout)
		if err != nil {
			return nil, 0, fmt.Errorf("turn %d await snapshot: %w", i+1, err)
		}
		latencies = append(latencies, float64(time.Since(start).Microseconds())/1000.0)
		if event.Summarized {
			summarized++
		}
		if cfg.verbose && event.Summarized {
			fmt.Printf("memperf: %s turn %d summarized state=%s status=%s\n", sessionID, i+1, event.State, event.Status)
		}

		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}
	return latencies, summarized, nil
}

func createSession(ctx context.Context, client *http.Client, cfg options, userID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt, 150*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/memory/sessions", bytes.NewReader(payload))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if res.StatusCode != http.StatusCreated {
			lastErr = fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
			if !reliability.IsRetryableHTTPStatus(res.StatusCode) {
				return "", lastErr
			}
			continue
		}

		var out createSessionResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", err
		}
		if strings.TrimSpace(out.SessionID) == "" {
			return "", fmt.Errorf("missing session_id in response")
		}
		return out.SessionID, nil
	}
	return "", lastErr
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/memory/sessions/ws"
	return u.String(), nil
}

func awaitSnapshot(conn *websocket.Conn, timeout time.Duration) (protocol.SnapshotEvent, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return protocol.SnapshotEvent{}, err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return protocol.SnapshotEvent{}, err
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeSnapshot:
			var event protocol.SnapshotEvent
			if err := json.Unmarshal(data, &event); err != nil {
				return protocol.SnapshotEvent{}, err
			}
			return event, nil
		case protocol.TypeErrorEvent:
			var event protocol.ErrorEvent
			_ = json.Unmarshal(data, &event)
			return protocol.SnapshotEvent{}, fmt.Errorf("error_event code=%s detail=%s", event.Code, event.Detail)
		}
	}
}

func printReport(latencies []float64, summaries int, cfg options) {
	fmt.Printf("memperf: sessions=%d turns_per_session=%d total_turns=%d summarizations=%d\n",
		cfg.sessions, cfg.turns, len(latencies), summaries)
	if len(latencies) == 0 {
		return
	}
	fmt.Printf("memperf: turn latency ms p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		percentile(latencies, 50),
		percentile(latencies, 95),
		percentile(latencies, 99),
		percentile(latencies, 100))
}

// percentile reports the pth percentile of samples in milliseconds. The input
// slice is not modified.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

func fetchServerStages(ctx context.Context, client *http.Client, cfg options) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("perf latency HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Printf("memperf: server stages %s\n", strings.TrimSpace(string(body)))
	return nil
}
