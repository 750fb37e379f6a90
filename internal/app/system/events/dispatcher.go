// internal/app/system/events/dispatcher.go
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dalemusser/askaway/internal/app/system/metrics"
	"github.com/dalemusser/askaway/internal/app/system/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusError is returned when the endpoint answers with anything but 202.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("background job endpoint returned %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether a dispatch failure is worth another attempt:
// network errors, timeouts, 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF)
}

// DefaultPolicy retries transient dispatch failures three times in total.
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		Name:        "dispatch",
		MaxAttempts: 3,
		MaxElapsed:  20 * time.Second,
		Backoff:     retry.Doubling(200*time.Millisecond, 2*time.Second),
		Retryable:   IsTransient,
	}
}

// Dispatcher POSTs requests to the background job endpoint.
type Dispatcher struct {
	uri     string
	client  *http.Client
	policy  retry.Policy
	log     *zap.Logger
	newOpID func() string
	header  http.Header
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithHeader adds a header to every request, e.g. the fan-out key.
func WithHeader(key, value string) Option {
	return func(d *Dispatcher) {
		if d.header == nil {
			d.header = http.Header{}
		}
		d.header.Set(key, value)
	}
}

// WithOperationIDs replaces the uuid generator. Used by tests.
func WithOperationIDs(f func() string) Option {
	return func(d *Dispatcher) { d.newOpID = f }
}

// NewDispatcher creates a Dispatcher for uri.
func NewDispatcher(uri string, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		uri:     uri,
		client:  &http.Client{Timeout: 10 * time.Second},
		policy:  DefaultPolicy(),
		log:     logger,
		newOpID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch delivers req and returns nil only if the endpoint answered 202.
// One operation id is used for every attempt so the endpoint can deduplicate.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	if req.OperationID == "" {
		req.OperationID = d.newOpID()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}

	err = retry.Do(ctx, d.policy, func(ctx context.Context) error {
		return d.post(ctx, body)
	})

	outcome := "accepted"
	if err != nil {
		outcome = "failed"
		d.log.Warn("data event dispatch failed",
			zap.String("qna_session_id", req.QnASessionID),
			zap.String("conversation_id", req.ConversationID),
			zap.String("event_type", string(req.EventData.Type)),
			zap.Int64("version", req.EventData.Version),
			zap.String("operation_id", req.OperationID),
			zap.Error(err))
	}
	metrics.Dispatches.WithLabelValues(string(req.EventData.Type), outcome).Inc()
	return err
}

func (d *Dispatcher) post(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.uri, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, vs := range d.header {
		httpReq.Header[k] = vs
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
}
