package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/metrics"
)

const (
	HeaderSecret = "X-Webhook-Secret"
	HeaderEvent  = "X-Webhook-Event"
)

// Endpoint receives the listed events, or every event when Events is empty.
type Endpoint struct {
	URL    string
	Secret string
	Events []enums.WebhookEvent
}

func (e Endpoint) wants(event enums.WebhookEvent) bool {
	return len(e.Events) == 0 || slices.Contains(e.Events, event)
}

type Config struct {
	Endpoints []Endpoint
	QueueSize int
	Workers   int
}

type Payload struct {
	EventType  enums.WebhookEvent `json:"event_type"`
	Data       any                `json:"data"`
	Timestamp  time.Time          `json:"timestamp"`
	DeliveryID string             `json:"delivery_id"`
}

type delivery struct {
	endpoint Endpoint
	payload  Payload
}

// Dispatcher posts events to the configured endpoints in the background.
// Delivery is best-effort: a full queue drops the event.
type Dispatcher struct {
	client    *http.Client
	endpoints []Endpoint
	queue     chan delivery
	workers   int
	logger    *zap.Logger
	now       func() time.Time
}

func NewDispatcher(client *http.Client, cfg Config, logger *zap.Logger) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	return &Dispatcher{
		client:    client,
		endpoints: cfg.Endpoints,
		queue:     make(chan delivery, cfg.QueueSize),
		workers:   cfg.Workers,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Dispatch(_ context.Context, event enums.WebhookEvent, data any) {
	if d == nil || len(d.endpoints) == 0 {
		return
	}

	payload := Payload{
		EventType:  event,
		Data:       data,
		Timestamp:  d.now(),
		DeliveryID: uuid.NewString(),
	}
	for _, endpoint := range d.endpoints {
		if !endpoint.wants(event) {
			continue
		}
		select {
		case d.queue <- delivery{endpoint: endpoint, payload: payload}:
		default:
			metrics.Deliveries.WithLabelValues("webhook", "dropped").Inc()
			d.logger.Warn("webhook queue full, event dropped",
				zap.String("event", string(event)),
				zap.String("url", endpoint.URL),
			)
		}
	}
}

// Run drains the queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.endpoints) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job := <-d.queue:
					d.deliver(ctx, job)
				}
			}
		})
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, job delivery) {
	logger := d.logger.With(
		zap.String("event", string(job.payload.EventType)),
		zap.String("url", job.endpoint.URL),
		zap.String("delivery_id", job.payload.DeliveryID),
	)

	if err := d.post(ctx, job); err != nil {
		metrics.Deliveries.WithLabelValues("webhook", "error").Inc()
		logger.Warn("webhook delivery failed", zap.Error(err))
		return
	}
	metrics.Deliveries.WithLabelValues("webhook", "ok").Inc()
	logger.Debug("webhook delivered")
}

func (d *Dispatcher) post(ctx context.Context, job delivery) error {
	body, err := json.Marshal(job.payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSecret, job.endpoint.Secret)
	req.Header.Set(HeaderEvent, string(job.payload.EventType))

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected webhook status: %d", resp.StatusCode)
	}
	return nil
}
