// Package live streams booking day snapshots to long-lived subscribers.
//
// Subscriptions poll: every interval a fresh read is taken from the store and
// released before the next wait, so an open subscription never pins a
// database connection between polls. Each subscription ends when the caller
// goes away or its maximum lifetime elapses.
package live

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"ClinicQueue/apperr"
	"ClinicQueue/metrics"
	"ClinicQueue/models"
)

// Event types.
const (
	EventSnapshot = "snapshot"
	EventUpdate   = "update"
	EventPing     = "ping"
	EventBye      = "bye"
	EventError    = "error"
)

const readTimeout = 5 * time.Second

// Reader returns the current state of one day. Each call is one short read.
type Reader interface {
	Snapshot(ctx context.Context, key models.DayKey) (*models.BookingDay, error)
}

// Options bound a subscription. Heartbeat applies only with ChangesOnly.
type Options struct {
	PollInterval time.Duration
	MaxLifetime  time.Duration
	Heartbeat    time.Duration
	ChangesOnly  bool
}

type Event struct {
	Type string
	Data any
}

type Snapshot struct {
	ClinicID int64              `json:"clinic_id"`
	Variant  models.Variant     `json:"variant"`
	Date     string             `json:"date"`
	Hash     string             `json:"hash"`
	Day      *models.BookingDay `json:"day"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ByePayload struct {
	Reason string `json:"reason"`
}

// Broadcaster serves subscriptions against a Reader.
type Broadcaster struct {
	reader   Reader
	defaults Options
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewBroadcaster(reader Reader, defaults Options, log *zap.Logger, m *metrics.Metrics) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{reader: reader, defaults: defaults, log: log, metrics: m}
}

// Clamp fills unset fields from the configured defaults. Requested values
// may shorten the defaults but never extend them.
func (b *Broadcaster) Clamp(req Options) Options {
	out := b.defaults
	out.ChangesOnly = req.ChangesOnly
	if req.PollInterval > 0 && req.PollInterval < out.PollInterval {
		out.PollInterval = req.PollInterval
	}
	if req.MaxLifetime > 0 && req.MaxLifetime < out.MaxLifetime {
		out.MaxLifetime = req.MaxLifetime
	}
	if req.Heartbeat > 0 && (out.Heartbeat <= 0 || req.Heartbeat < out.Heartbeat) {
		out.Heartbeat = req.Heartbeat
	}
	return out
}

// Subscribe emits a snapshot of key, then one event per poll until ctx is
// done or the lifetime guard fires. A failed read emits a terminal error
// event and is returned. An emit error (client gone) is returned as-is.
func (b *Broadcaster) Subscribe(ctx context.Context, key models.DayKey, opts Options, emit func(Event) error) error {
	opts = b.Clamp(opts)
	done := b.metrics.SubscriptionOpened()
	defer done()

	lifetime := time.NewTimer(opts.MaxLifetime)
	defer lifetime.Stop()

	snap, err := b.poll(ctx, key)
	if err != nil {
		return b.fail(key, err, emit)
	}
	if err := emit(Event{Type: EventSnapshot, Data: snap}); err != nil {
		return err
	}
	lastHash := snap.Hash

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if opts.ChangesOnly && opts.Heartbeat > 0 {
		hb := time.NewTicker(opts.Heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lifetime.C:
			return emit(Event{Type: EventBye, Data: ByePayload{Reason: "timeout"}})
		case <-heartbeat:
			if err := emit(Event{Type: EventPing, Data: struct{}{}}); err != nil {
				return err
			}
		case <-ticker.C:
			snap, err := b.poll(ctx, key)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return b.fail(key, err, emit)
			}
			if opts.ChangesOnly && snap.Hash == lastHash {
				continue
			}
			lastHash = snap.Hash
			if err := emit(Event{Type: EventUpdate, Data: snap}); err != nil {
				return err
			}
		}
	}
}

// poll takes one bounded read. Nothing is held once it returns.
func (b *Broadcaster) poll(ctx context.Context, key models.DayKey) (Snapshot, error) {
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	day, err := b.reader.Snapshot(readCtx, key)
	if err != nil {
		b.metrics.ObservePoll("error")
		return Snapshot{}, err
	}
	hash, err := Hash(day)
	if err != nil {
		b.metrics.ObservePoll("error")
		return Snapshot{}, apperr.Wrap(apperr.Internal, err, "failed to encode day %s", key)
	}
	b.metrics.ObservePoll("ok")
	return Snapshot{ClinicID: key.ClinicID, Variant: key.Variant, Date: key.Date, Hash: hash, Day: day}, nil
}

func (b *Broadcaster) fail(key models.DayKey, err error, emit func(Event) error) error {
	b.log.Warn("live subscription terminated", zap.Stringer("day", key), zap.Error(err))
	_ = emit(Event{Type: EventError, Data: ErrorPayload{Code: string(apperr.KindOf(err)), Message: apperr.Message(err)}})
	return err
}

// Hash is the SHA-1 of the day's JSON encoding.
func Hash(day *models.BookingDay) (string, error) {
	raw, err := json.Marshal(day)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:]), nil
}
