package flightlog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kafly/skymetrics/pkg/logger"
)

// ingestionStub plays the log-ingestion endpoint. failures maps a 1-based
// request index to an HTTP status or a JSON failure body.
type ingestionStub struct {
	mu       sync.Mutex
	requests []map[string]string
	respond  func(n int, w http.ResponseWriter)
}

func (s *ingestionStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fields := make(map[string]string)
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}

		s.mu.Lock()
		s.requests = append(s.requests, fields)
		n := len(s.requests)
		s.mu.Unlock()

		if s.respond != nil {
			s.respond(n, w)
			return
		}
		w.Write([]byte(`{"status":"success"}`))
	}
}

func (s *ingestionStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestUploader(t *testing.T, url string) *Uploader {
	t.Helper()
	u := NewUploader(UploaderConfig{
		SubmitURL:      url,
		MaxAttempts:    3,
		RetryDelay:     5 * time.Second,
		RequestTimeout: time.Second,
	}, logger.NewNop())
	u.sleep = func(time.Duration) {}
	return u
}

func sampleRecords() []EventRecord {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []EventRecord{
		{Event: EventSessionStart, UserID: "1234567", Timestamp: ts},
		{Event: EventTakeoff, UserID: "1234567", Timestamp: ts.Add(time.Minute), Lat: 43.677, Lng: -79.63},
		{Event: EventFlightEnded, UserID: "1234567", Timestamp: ts.Add(time.Hour)},
	}
}

func TestDeliverSubmitsEveryRecordInOrder(t *testing.T) {
	stub := &ingestionStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	u := newTestUploader(t, server.URL)
	for _, rec := range sampleRecords() {
		u.Append(rec)
	}

	require.NoError(t, u.Deliver(context.Background()))
	assert.Equal(t, 0, u.Pending(), "buffer must clear on full success")

	require.Equal(t, 3, stub.count())
	assert.Equal(t, EventSessionStart, stub.requests[0]["event_name"])
	assert.Equal(t, EventTakeoff, stub.requests[1]["event_name"])
	assert.Equal(t, EventFlightEnded, stub.requests[2]["event_name"])
	assert.Equal(t, "1234567", stub.requests[0]["user_id"])
	assert.Equal(t, "43.677", stub.requests[1]["lat"])
}

func TestDeliverRetriesWholeBatchAfterMidBatchFailure(t *testing.T) {
	stub := &ingestionStub{}
	// Second request of the first attempt fails; everything else succeeds.
	stub.respond = func(n int, w http.ResponseWriter) {
		if n == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status":"success"}`))
	}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	u := newTestUploader(t, server.URL)
	var slept []time.Duration
	u.sleep = func(d time.Duration) { slept = append(slept, d) }

	for _, rec := range sampleRecords() {
		u.Append(rec)
	}

	require.NoError(t, u.Deliver(context.Background()))
	assert.Equal(t, 0, u.Pending())

	// Attempt 1 aborted after record 2; attempt 2 resubmitted all three.
	assert.Equal(t, 5, stub.count())
	assert.Equal(t, []time.Duration{5 * time.Second}, slept)
}

func TestDeliverDropsBatchAfterAttemptBudget(t *testing.T) {
	stub := &ingestionStub{}
	stub.respond = func(n int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	u := newTestUploader(t, server.URL)
	for _, rec := range sampleRecords() {
		u.Append(rec)
	}

	err := u.Deliver(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBatchDropped))
	assert.Equal(t, 0, u.Pending(), "a dropped batch is discarded, not requeued")

	// Every attempt aborts on its first record.
	assert.Equal(t, 3, stub.count())
}

func TestRecordAppendedDuringDeliverySurvives(t *testing.T) {
	stub := &ingestionStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	u := newTestUploader(t, server.URL)
	// The detector appends the next leg's first event while the batch is
	// still being accepted.
	late := EventRecord{
		Event:     EventEngineStart,
		UserID:    "1234567",
		Timestamp: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	}
	stub.respond = func(n int, w http.ResponseWriter) {
		if n == 1 {
			u.Append(late)
		}
		w.Write([]byte(`{"status":"success"}`))
	}

	for _, rec := range sampleRecords() {
		u.Append(rec)
	}

	require.NoError(t, u.Deliver(context.Background()))
	require.Equal(t, 1, u.Pending(),
		"a record appended while the batch was in flight must survive the consume")
	require.Equal(t, 3, stub.count())

	// The next flush carries it.
	require.NoError(t, u.Deliver(context.Background()))
	assert.Equal(t, 0, u.Pending())
	require.Equal(t, 4, stub.count())
	assert.Equal(t, EventEngineStart, stub.requests[3]["event_name"])
}

func TestDropDiscardsOnlyTheSnapshottedBatch(t *testing.T) {
	stub := &ingestionStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	u := newTestUploader(t, server.URL)
	late := EventRecord{
		Event:     EventEngineStart,
		UserID:    "1234567",
		Timestamp: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	}
	stub.respond = func(n int, w http.ResponseWriter) {
		if n == 1 {
			u.Append(late)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}

	for _, rec := range sampleRecords() {
		u.Append(rec)
	}

	err := u.Deliver(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBatchDropped))
	assert.Equal(t, 1, u.Pending(),
		"dropping the failed batch must not take the later append with it")
}

func TestDeliverTreatsRejectionBodyAsFailure(t *testing.T) {
	stub := &ingestionStub{}
	stub.respond = func(n int, w http.ResponseWriter) {
		// 200 OK but the endpoint refuses the record.
		w.Write([]byte(`{"status":"not_found","message":"unknown pilot"}`))
	}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	u := newTestUploader(t, server.URL)
	u.Append(sampleRecords()[0])

	err := u.Deliver(context.Background())
	assert.True(t, errors.Is(err, ErrBatchDropped))
}

func TestDeliverTreatsMalformedResponseAsFailure(t *testing.T) {
	stub := &ingestionStub{}
	stub.respond = func(n int, w http.ResponseWriter) {
		w.Write([]byte(`<html>gateway error</html>`))
	}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	u := newTestUploader(t, server.URL)
	u.Append(sampleRecords()[0])

	err := u.Deliver(context.Background())
	assert.True(t, errors.Is(err, ErrBatchDropped))
}

func TestDeliverWithEmptyBufferIsNoop(t *testing.T) {
	stub := &ingestionStub{}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	u := newTestUploader(t, server.URL)
	require.NoError(t, u.Deliver(context.Background()))
	assert.Equal(t, 0, stub.count())
}

func TestSessionEndClearsBufferEvenOnFailure(t *testing.T) {
	stub := &ingestionStub{}
	stub.respond = func(n int, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	server := httptest.NewServer(stub.handler())
	defer server.Close()

	u := newTestUploader(t, server.URL)
	for _, rec := range sampleRecords() {
		u.Append(rec)
	}

	u.SessionEnd()
	assert.Equal(t, 0, u.Pending())
}
