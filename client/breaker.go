package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig holds circuit breaker settings for a BreakerClient.
type BreakerConfig struct {
	// Name identifies the breaker in metrics and logs.
	Name string

	// MaxRequests allowed through in the half-open state. 0 means 1.
	MaxRequests uint32

	// Interval is the closed-state period for clearing counts. 0 means
	// counts are never cleared while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before half-open.
	Timeout time.Duration

	// FailureRatio of failed to total requests that trips the breaker.
	FailureRatio float64

	// MinRequests seen before the failure ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns sensible breaker defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = gobreaker.ErrOpenState

var breakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "workspace_client_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerClient guards a workspace client with a circuit breaker so a
// struggling backend sheds load instead of absorbing timeouts. Server
// errors (5xx) and transport failures count against the breaker; client
// errors do not, since they say nothing about backend health.
type BreakerClient struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker[*Response]
	log     *slog.Logger
	name    string
}

// NewBreakerClient wraps an existing client with a circuit breaker.
func NewBreakerClient(c *Client, cfg BreakerConfig, log *slog.Logger) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			apiErr, ok := AsAPIError(err)
			// 4xx means the backend is healthy enough to refuse us.
			return ok && apiErr.Status >= 400 && apiErr.Status < 500
		},
	}

	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &BreakerClient{
		client:  c,
		breaker: gobreaker.NewCircuitBreaker[*Response](settings),
		log:     log,
		name:    cfg.Name,
	}
}

// Do executes a request through the breaker.
func (b *BreakerClient) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := b.breaker.Execute(func() (*Response, error) {
		return b.client.Do(ctx, req)
	})
	if err != nil && errors.Is(err, ErrCircuitOpen) {
		b.log.WarnContext(ctx, "circuit breaker open, request rejected",
			slog.String("breaker", b.name))
	}
	return resp, err
}

// Get issues a GET through the breaker and decodes into out.
func (b *BreakerClient) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	resp, err := b.Do(ctx, b.client.newRequest(http.MethodGet, path, nil, opts...))
	if err != nil {
		return err
	}
	if err := decodeBody(resp, out); err != nil {
		return b.client.notifyError(err)
	}
	return nil
}

// Post issues a POST through the breaker and decodes into out.
func (b *BreakerClient) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	resp, err := b.Do(ctx, b.client.newRequest(http.MethodPost, path, body, opts...))
	if err != nil {
		return err
	}
	if err := decodeBody(resp, out); err != nil {
		return b.client.notifyError(err)
	}
	return nil
}

// State returns the breaker's current state.
func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}
