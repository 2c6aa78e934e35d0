// Package advisory talks to an optional external risk model. Every failure
// is returned as an error; the heuristic scorer turns errors into its local
// fallback.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"fraud_scorer/internal/domain"
	"fraud_scorer/internal/processor"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	ErrUnavailable   = errors.New("advisory service unavailable")
	ErrCircuitOpen   = errors.New("advisory circuit open")
	ErrNotConfigured = processor.ErrAdvisorNotConfigured
)

const maxResponseBytes = 64 << 10

type Config struct {
	Endpoint         string
	BearerToken      string
	Timeout          time.Duration
	FailureThreshold int
	OpenDuration     time.Duration
}

// adviseRequest is the JSON body posted to the model endpoint.
type adviseRequest struct {
	EventID     string              `json:"event_id"`
	Transaction *domain.Transaction `json:"transaction"`
	Flags       map[string]bool     `json:"flags"`
}

type HTTPAdvisor struct {
	endpoint string
	token    string
	client   *http.Client
	breaker  *Breaker
	logger   *slog.Logger
}

func NewHTTPAdvisor(cfg Config, logger *slog.Logger) *HTTPAdvisor {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &HTTPAdvisor{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.BearerToken,
		client:   &http.Client{Timeout: timeout},
		breaker:  NewBreaker(cfg.FailureThreshold, cfg.OpenDuration),
		logger:   logger,
	}
}

func (a *HTTPAdvisor) Breaker() *Breaker {
	return a.breaker
}

func (a *HTTPAdvisor) Configured() bool {
	return a.endpoint != ""
}

func (a *HTTPAdvisor) Endpoint() string {
	return a.endpoint
}

func (a *HTTPAdvisor) Advise(ctx context.Context, tx *domain.Transaction, flags domain.RuleFlags) (domain.Advice, error) {
	if !a.Configured() {
		return domain.Advice{}, ErrNotConfigured
	}
	if !a.breaker.Allow() {
		a.logger.DebugContext(ctx, "Advisory call skipped, circuit open", slog.String("event_id", tx.EventID))
		return domain.Advice{}, ErrCircuitOpen
	}

	advice, err := a.post(ctx, tx, flags)
	if err != nil {
		// Caller cancellation is not the service's fault.
		if errors.Is(err, context.Canceled) {
			a.breaker.Release()
		} else {
			a.breaker.RecordFailure()
		}
		return domain.Advice{}, err
	}

	a.breaker.RecordSuccess()
	return advice, nil
}

func (a *HTTPAdvisor) post(ctx context.Context, tx *domain.Transaction, flags domain.RuleFlags) (domain.Advice, error) {
	body, err := json.Marshal(adviseRequest{
		EventID:     tx.EventID,
		Transaction: tx,
		Flags:       flags.AsMap(),
	})
	if err != nil {
		return domain.Advice{}, fmt.Errorf("encode advisory request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/advise", bytes.NewReader(body))
	if err != nil {
		return domain.Advice{}, fmt.Errorf("build advisory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.Advice{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return domain.Advice{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var advice domain.Advice
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&advice); err != nil {
		return domain.Advice{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	return advice, nil
}

// Ping checks that the endpoint answers its health route.
func (a *HTTPAdvisor) Ping(ctx context.Context) error {
	if !a.Configured() {
		return ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
