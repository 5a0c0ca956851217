package live

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ClinicQueue/apperr"
	"ClinicQueue/metrics"
	"ClinicQueue/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var key = models.DayKey{ClinicID: 4, Variant: models.VariantRegular, Date: "2025-10-10"}

// fakeReader tracks how many reads are open at once.
type fakeReader struct {
	mu      sync.Mutex
	calls   int
	version int
	failAt  int
	err     error

	inflight    int32
	maxInflight int32
}

func (r *fakeReader) Snapshot(_ context.Context, k models.DayKey) (*models.BookingDay, error) {
	n := atomic.AddInt32(&r.inflight, 1)
	defer atomic.AddInt32(&r.inflight, -1)
	if n > atomic.LoadInt32(&r.maxInflight) {
		atomic.StoreInt32(&r.maxInflight, n)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failAt > 0 && r.calls >= r.failAt {
		return nil, r.err
	}
	return &models.BookingDay{ClinicID: k.ClinicID, Variant: k.Variant, Date: k.Date, Version: r.version}, nil
}

func (r *fakeReader) bump() {
	r.mu.Lock()
	r.version++
	r.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	reader *fakeReader
	heldOk bool
}

func newRecorder(r *fakeReader) *recorder {
	return &recorder{reader: r, heldOk: true}
}

func (rec *recorder) emit(ev Event) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if atomic.LoadInt32(&rec.reader.inflight) != 0 {
		rec.heldOk = false
	}
	rec.events = append(rec.events, ev)
	return nil
}

func (rec *recorder) types() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]string, len(rec.events))
	for i, ev := range rec.events {
		out[i] = ev.Type
	}
	return out
}

func (rec *recorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.events)
}

func defaults() Options {
	return Options{PollInterval: 5 * time.Millisecond, MaxLifetime: time.Minute, Heartbeat: time.Minute}
}

func TestSubscribeEmitsSnapshotThenUpdates(t *testing.T) {
	reader := &fakeReader{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := NewBroadcaster(reader, defaults(), nil, m)
	rec := newRecorder(reader)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Subscribe(ctx, key, Options{}, rec.emit) }()

	require.Eventually(t, func() bool { return rec.count() >= 4 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	types := rec.types()
	assert.Equal(t, EventSnapshot, types[0])
	for _, ty := range types[1:] {
		assert.Equal(t, EventUpdate, ty)
	}
	snap := rec.events[0].Data.(Snapshot)
	assert.Equal(t, key.Date, snap.Date)
	assert.Len(t, snap.Hash, 40)

	assert.True(t, rec.heldOk, "no read is open while emitting or waiting")
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.maxInflight))
	assert.Equal(t, 0.0, openSubscriptions(t, reg))
	polls, err := testutil.GatherAndCount(reg, "clinicqueue_stream_polls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, polls, "only the ok series was touched")
}

func openSubscriptions(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "clinicqueue_stream_subscriptions" {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("subscription gauge not registered")
	return 0
}

func TestLifetimeGuardTerminatesSubscription(t *testing.T) {
	reader := &fakeReader{}
	opts := defaults()
	opts.MaxLifetime = 30 * time.Millisecond
	b := NewBroadcaster(reader, opts, nil, nil)
	rec := newRecorder(reader)

	start := time.Now()
	err := b.Subscribe(context.Background(), key, Options{}, rec.emit)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	types := rec.types()
	assert.Equal(t, EventBye, types[len(types)-1])
	assert.Equal(t, ByePayload{Reason: "timeout"}, rec.events[len(types)-1].Data)
}

func TestRequestedLifetimeCannotExceedDefault(t *testing.T) {
	reader := &fakeReader{}
	opts := defaults()
	opts.MaxLifetime = 20 * time.Millisecond
	b := NewBroadcaster(reader, opts, nil, nil)

	err := b.Subscribe(context.Background(), key, Options{MaxLifetime: time.Hour}, newRecorder(reader).emit)
	require.NoError(t, err)
}

func TestChangesOnlySuppressesRepeatsAndSendsPings(t *testing.T) {
	reader := &fakeReader{}
	opts := defaults()
	opts.MaxLifetime = 80 * time.Millisecond
	b := NewBroadcaster(reader, opts, nil, nil)
	rec := newRecorder(reader)

	err := b.Subscribe(context.Background(), key, Options{ChangesOnly: true, Heartbeat: 10 * time.Millisecond}, rec.emit)
	require.NoError(t, err)

	types := rec.types()
	assert.Equal(t, EventSnapshot, types[0])
	assert.NotContains(t, types, EventUpdate)
	assert.Contains(t, types, EventPing)
}

func TestChangesOnlyEmitsOnChange(t *testing.T) {
	reader := &fakeReader{}
	b := NewBroadcaster(reader, defaults(), nil, nil)
	rec := newRecorder(reader)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Subscribe(ctx, key, Options{ChangesOnly: true}, rec.emit) }()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	reader.bump()
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{EventSnapshot, EventUpdate}, rec.types())
	first := rec.events[0].Data.(Snapshot)
	second := rec.events[1].Data.(Snapshot)
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestPollFailureIsTerminal(t *testing.T) {
	reader := &fakeReader{failAt: 3, err: apperr.Storage(assert.AnError, "db down")}
	b := NewBroadcaster(reader, defaults(), nil, nil)
	rec := newRecorder(reader)

	err := b.Subscribe(context.Background(), key, Options{}, rec.emit)
	assert.True(t, apperr.Is(err, apperr.StorageFailure))

	types := rec.types()
	assert.Equal(t, []string{EventSnapshot, EventUpdate, EventError}, types)
	assert.Equal(t, ErrorPayload{Code: "storage_failure", Message: "db down"}, rec.events[2].Data)
}

func TestMissingDayFailsImmediately(t *testing.T) {
	reader := &fakeReader{failAt: 1, err: apperr.New(apperr.NotFound, "no day")}
	b := NewBroadcaster(reader, defaults(), nil, nil)
	rec := newRecorder(reader)

	err := b.Subscribe(context.Background(), key, Options{}, rec.emit)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.Equal(t, []string{EventError}, rec.types())
}

func TestEmitErrorEndsSubscription(t *testing.T) {
	reader := &fakeReader{}
	b := NewBroadcaster(reader, defaults(), nil, nil)

	err := b.Subscribe(context.Background(), key, Options{}, func(Event) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
}

func TestClampOnlyShortens(t *testing.T) {
	b := NewBroadcaster(nil, Options{PollInterval: time.Second, MaxLifetime: 5 * time.Minute, Heartbeat: 15 * time.Second}, nil, nil)

	got := b.Clamp(Options{PollInterval: 100 * time.Millisecond, MaxLifetime: time.Hour, Heartbeat: time.Hour, ChangesOnly: true})
	assert.Equal(t, Options{PollInterval: 100 * time.Millisecond, MaxLifetime: 5 * time.Minute, Heartbeat: 15 * time.Second, ChangesOnly: true}, got)

	assert.Equal(t, time.Second, b.Clamp(Options{}).PollInterval)
}

func TestHashIsStable(t *testing.T) {
	day := &models.BookingDay{ClinicID: 1, Date: "2025-10-10", Slots: []models.Slot{{BookingID: "a"}}}
	h1, err := Hash(day)
	require.NoError(t, err)
	h2, err := Hash(day.Clone())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
