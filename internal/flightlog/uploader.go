package flightlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kafly/skymetrics/pkg/logger"
)

// ErrBatchDropped is returned when a batch could not be delivered within the
// attempt budget and has been permanently discarded. There is no persistent
// queue; this is the one accepted data-loss case.
var ErrBatchDropped = errors.New("flight log batch dropped after retries")

// UploaderConfig contains the delivery settings for the ingestion endpoint.
type UploaderConfig struct {
	SubmitURL      string
	MaxAttempts    int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// Uploader buffers event records and delivers them to the log-ingestion
// endpoint as an all-or-nothing batch. The detector keeps appending while a
// delivery is in flight; a finished delivery consumes only the records it
// snapshotted, never anything appended after it started.
type Uploader struct {
	cfg    UploaderConfig
	client *http.Client
	logger *logger.Logger

	mu  sync.Mutex
	buf []EventRecord

	// flushMu serializes deliveries so a background flush and a session-end
	// flush never interleave attempts.
	flushMu sync.Mutex

	sleep func(time.Duration) // test hook
}

// NewUploader creates an uploader for the given ingestion endpoint.
func NewUploader(cfg UploaderConfig, log *logger.Logger) *Uploader {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Uploader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: log.Named("log-uploader"),
		sleep:  time.Sleep,
	}
}

// Append adds a record to the buffer. Implements EventSink.
func (u *Uploader) Append(rec EventRecord) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.buf = append(u.buf, rec)
}

// Pending implements EventSink.
func (u *Uploader) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.buf)
}

// Flush implements EventSink: it requests delivery without blocking the
// caller (the detector runs on the 100ms poll cycle).
func (u *Uploader) Flush() {
	go func() {
		if err := u.Deliver(context.Background()); err != nil {
			u.logger.Error("Background flush failed", logger.Error(err))
		}
	}()
}

// SessionEnd implements EventSink: one best-effort delivery, then the buffer
// is cleared unconditionally because a terminating process cannot block.
func (u *Uploader) SessionEnd() {
	if err := u.Deliver(context.Background()); err != nil {
		u.logger.Error("Session-end flush failed", logger.Error(err))
	}
	u.Clear()
}

// Clear discards all buffered records.
func (u *Uploader) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.buf = nil
}

// consume removes the first n records. The batch was copied from the front of
// the buffer, so anything appended during the delivery sits past n and stays.
func (u *Uploader) consume(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.buf = u.buf[n:]
	if len(u.buf) == 0 {
		u.buf = nil
	}
}

// Deliver attempts to submit the current batch. Each attempt submits every
// record in original order; the first record that fails aborts the entire
// attempt. Only an attempt in which every record was accepted consumes the
// batch from the buffer. After the attempt budget is exhausted the batch is
// dropped; records appended while the delivery ran are kept either way.
func (u *Uploader) Deliver(ctx context.Context) error {
	u.flushMu.Lock()
	defer u.flushMu.Unlock()

	u.mu.Lock()
	batch := make([]EventRecord, len(u.buf))
	copy(batch, u.buf)
	u.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	u.logger.Info("Submitting flight log batch",
		logger.Int("records", len(batch)),
		logger.String("url", u.cfg.SubmitURL))

	var lastErr error
	for attempt := 1; attempt <= u.cfg.MaxAttempts; attempt++ {
		lastErr = u.submitBatch(ctx, batch)
		if lastErr == nil {
			u.consume(len(batch))
			u.logger.Info("Flight log batch delivered",
				logger.Int("records", len(batch)),
				logger.Int("attempt", attempt))
			return nil
		}

		u.logger.Warn("Flight log batch attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", u.cfg.MaxAttempts),
			logger.Error(lastErr))

		if attempt < u.cfg.MaxAttempts {
			u.sleep(u.cfg.RetryDelay)
		}
	}

	u.logger.Error("CRITICAL: flight log batch lost after all attempts",
		logger.Int("records", len(batch)),
		logger.Int("attempts", u.cfg.MaxAttempts),
		logger.Error(lastErr))
	u.consume(len(batch))
	return fmt.Errorf("%w: %v", ErrBatchDropped, lastErr)
}

// submitBatch posts every record of one attempt, aborting on the first
// failure so the batch stays all-or-nothing.
func (u *Uploader) submitBatch(ctx context.Context, batch []EventRecord) error {
	for _, rec := range batch {
		if err := u.submitRecord(ctx, rec); err != nil {
			return fmt.Errorf("event %s: %w", rec.Event, err)
		}
	}
	return nil
}

func (u *Uploader) submitRecord(ctx context.Context, rec EventRecord) error {
	form := url.Values{}
	form.Set("user_id", rec.UserID)
	form.Set("departure_id", rec.DepartureID)
	form.Set("arrival_id", rec.ArrivalID)
	form.Set("timestamp", rec.Timestamp.Format(time.RFC3339))
	form.Set("event_name", rec.Event)
	form.Set("lat", fmt.Sprintf("%.3f", rec.Lat))
	form.Set("lng", fmt.Sprintf("%.3f", rec.Lng))
	form.Set("description", rec.Description)
	for k, v := range rec.Extra {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.SubmitURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Success requires a 2xx status AND a response whose status field is
	// not one of the defined failure markers.
	var result struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	if result.Status == "error" || result.Status == "not_found" {
		return fmt.Errorf("endpoint rejected record: %s (%s)", result.Status, result.Message)
	}

	return nil
}
