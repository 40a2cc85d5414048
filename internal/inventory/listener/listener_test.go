package listener

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fekuna/vetvax-order-service/internal/apperr"
	"github.com/fekuna/vetvax-order-service/internal/auth"
	"github.com/fekuna/vetvax-order-service/internal/batch/dto"
	"github.com/fekuna/vetvax-order-service/pkg/logger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockBatchUC struct {
	inputs []*dto.BulkAdjustInput
	err    error
}

func (m *mockBatchUC) BulkAdjustStock(_ context.Context, input *dto.BulkAdjustInput) (*dto.BulkAdjustSummary, error) {
	m.inputs = append(m.inputs, input)
	if m.err != nil {
		return nil, m.err
	}
	return &dto.BulkAdjustSummary{Requested: len(input.Updates), Updated: len(input.Updates)}, nil
}

func (m *mockBatchUC) ListLowStock(context.Context) ([]dto.BatchView, error) { return nil, nil }

type memDedupe struct {
	seen map[string]bool
}

func (m *memDedupe) MarkOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *memDedupe) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.seen, k)
	}
	return nil
}

// chanReader hands out messages sent on msgs and blocks otherwise.
type chanReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

// signalUC reports each attempt on applied. The first failures attempts
// return err.
type signalUC struct {
	mu       sync.Mutex
	attempts int
	failures int
	err      error
	applied  chan struct{}
}

func (s *signalUC) BulkAdjustStock(_ context.Context, input *dto.BulkAdjustInput) (*dto.BulkAdjustSummary, error) {
	s.mu.Lock()
	s.attempts++
	fail := s.attempts <= s.failures
	s.mu.Unlock()
	defer func() { s.applied <- struct{}{} }()
	if fail {
		return nil, s.err
	}
	return &dto.BulkAdjustSummary{Requested: len(input.Updates), Updated: len(input.Updates)}, nil
}

func (s *signalUC) ListLowStock(context.Context) ([]dto.BatchView, error) { return nil, nil }

func (s *signalUC) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func waitApplied(t *testing.T, uc *signalUC) {
	t.Helper()
	select {
	case <-uc.applied:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not applied")
	}
}

func startListener(l *StockListener) (context.CancelFunc, chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()
	return cancel, done
}

func waitStopped(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func stockEvent(t *testing.T, id string) []byte {
	t.Helper()
	loc := "Cold room C"
	raw, err := json.Marshal(StockAdjustedEvent{
		EventID:   id,
		EventType: EventStockAdjusted,
		Payload: StockAdjustedPayload{
			ScannerID: "scanner-7",
			Updates: []StockCountPayload{
				{BatchID: "b1", Quantity: 40, StorageLocation: &loc},
				{BatchID: "b2", Quantity: 0, Reason: "Expired, destroyed"},
			},
		},
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	return raw
}

func TestProcessMessage_AppliesAsSystem(t *testing.T) {
	uc := &mockBatchUC{}
	l := NewStockListener(nil, &memDedupe{seen: map[string]bool{}}, uc, logger.NewNop())

	require.NoError(t, l.processMessage(context.Background(), stockEvent(t, "evt-1")))

	require.Len(t, uc.inputs, 1)
	in := uc.inputs[0]
	assert.Equal(t, auth.RoleSystem, in.User.Role)
	require.Len(t, in.Updates, 2)
	assert.Equal(t, 40, *in.Updates[0].Quantity)
	assert.Equal(t, "Scanner count scanner-7", in.Updates[0].Reason)
	assert.Equal(t, 0, *in.Updates[1].Quantity)
	assert.Equal(t, "Expired, destroyed", in.Updates[1].Reason)
}

func TestProcessMessage_DropsDuplicates(t *testing.T) {
	uc := &mockBatchUC{}
	l := NewStockListener(nil, &memDedupe{seen: map[string]bool{}}, uc, logger.NewNop())

	l.processMessage(context.Background(), stockEvent(t, "evt-1"))
	l.processMessage(context.Background(), stockEvent(t, "evt-1"))

	assert.Len(t, uc.inputs, 1)
}

func TestProcessMessage_FailureReleasesDedupeKey(t *testing.T) {
	uc := &mockBatchUC{err: errors.New("db down")}
	dedupe := &memDedupe{seen: map[string]bool{}}
	l := NewStockListener(nil, dedupe, uc, logger.NewNop())

	err := l.processMessage(context.Background(), stockEvent(t, "evt-2"))

	assert.Error(t, err)
	assert.Empty(t, dedupe.seen)
}

func TestProcessMessage_InvalidEventIsNotRetried(t *testing.T) {
	uc := &mockBatchUC{err: apperr.Validation("updates[0].batch_id", "This field is required.")}
	l := NewStockListener(nil, &memDedupe{seen: map[string]bool{}}, uc, logger.NewNop())

	assert.NoError(t, l.processMessage(context.Background(), stockEvent(t, "evt-4")))
}

func TestProcessMessage_IgnoresOtherEvents(t *testing.T) {
	uc := &mockBatchUC{}
	l := NewStockListener(nil, nil, uc, logger.NewNop())

	assert.NoError(t, l.processMessage(context.Background(), []byte(`{"event_type":"OrderCreated"}`)))
	assert.NoError(t, l.processMessage(context.Background(), []byte(`not json`)))

	assert.Empty(t, uc.inputs)
}

func TestStart_CommitsAfterApplying(t *testing.T) {
	uc := &signalUC{applied: make(chan struct{}, 1)}
	reader := &chanReader{msgs: make(chan kafka.Message, 1)}
	l := NewStockListener(reader, nil, uc, logger.NewNop())

	cancel, done := startListener(l)
	reader.msgs <- kafka.Message{Offset: 7, Value: stockEvent(t, "evt-3")}
	waitApplied(t, uc)

	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, done)
	assert.Equal(t, []int64{7}, reader.commits())
}

func TestStart_RetriesFailedEventBeforeCommitting(t *testing.T) {
	uc := &signalUC{failures: 2, err: errors.New("db down"), applied: make(chan struct{}, 3)}
	reader := &chanReader{msgs: make(chan kafka.Message, 1)}
	l := NewStockListener(reader, &memDedupe{seen: map[string]bool{}}, uc, logger.NewNop())
	l.backoff = time.Millisecond

	cancel, done := startListener(l)
	reader.msgs <- kafka.Message{Offset: 11, Value: stockEvent(t, "evt-5")}
	waitApplied(t, uc)
	waitApplied(t, uc)
	waitApplied(t, uc)

	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	waitStopped(t, done)
	assert.Equal(t, 3, uc.attemptCount())
	assert.Equal(t, []int64{11}, reader.commits())
}

func TestStart_FailedEventStaysUncommitted(t *testing.T) {
	uc := &signalUC{failures: 1000, err: errors.New("db down"), applied: make(chan struct{}, 1)}
	reader := &chanReader{msgs: make(chan kafka.Message, 1)}
	l := NewStockListener(reader, nil, uc, logger.NewNop())
	l.backoff = time.Hour

	cancel, done := startListener(l)
	reader.msgs <- kafka.Message{Offset: 3, Value: stockEvent(t, "evt-6")}
	waitApplied(t, uc)
	cancel()
	waitStopped(t, done)

	assert.Empty(t, reader.commits())
}
