package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ClinicQueue/apperr"
	"ClinicQueue/cache"
	"ClinicQueue/config"
	"ClinicQueue/metrics"
	"ClinicQueue/models"
	"ClinicQueue/queue"
	"ClinicQueue/repositories"
)

// BookingOptions are the booking rules taken from configuration.
type BookingOptions struct {
	DefaultCapacity       int
	GoldenDefaultCapacity int
	AutoAssignMaxDays     int
	Location              *time.Location
}

func BookingOptionsFrom(cfg *config.AppConfig) BookingOptions {
	return BookingOptions{
		DefaultCapacity:       cfg.DefaultCapacity,
		GoldenDefaultCapacity: cfg.GoldenDefaultCapacity,
		AutoAssignMaxDays:     cfg.AutoAssignMaxDays,
		Location:              cfg.Location(),
	}
}

// BookingService runs queue operations against the day store under the
// per-day lock and keeps the cache in step with every committed change.
type BookingService struct {
	days     *repositories.DayRepository
	archives *repositories.ArchiveRepository
	cache    *cache.Coordinator
	engine   *queue.Engine
	opts     BookingOptions
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewBookingService(days *repositories.DayRepository, archives *repositories.ArchiveRepository, c *cache.Coordinator, engine *queue.Engine, opts BookingOptions, log *zap.Logger, m *metrics.Metrics) *BookingService {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &BookingService{days: days, archives: archives, cache: c, engine: engine, opts: opts, now: time.Now, log: log, metrics: m}
}

// OpenDayRequest creates an empty day. A zero capacity falls back to the
// clinic's latest day, then to the configured default.
type OpenDayRequest struct {
	ClinicID      int64
	Variant       models.Variant
	Date          string
	CapacityTotal int
	Status        models.DayStatus
}

func (s *BookingService) OpenDay(ctx context.Context, req OpenDayRequest) (*models.BookingDay, error) {
	key := models.DayKey{ClinicID: req.ClinicID, Variant: req.Variant, Date: req.Date}
	ctx, span := tracer.Start(ctx, "booking.open_day", dayAttrs(key))
	day, err := s.openDay(ctx, key, req)
	endSpan(span, err)
	return day, err
}

func (s *BookingService) openDay(ctx context.Context, key models.DayKey, req OpenDayRequest) (*models.BookingDay, error) {
	if err := s.checkMutable(key.Date); err != nil {
		return nil, err
	}
	capacity := req.CapacityTotal
	if capacity <= 0 {
		var err error
		if capacity, err = s.referenceCapacity(ctx, key.ClinicID, key.Variant); err != nil {
			return nil, err
		}
	}
	status := req.Status
	if status == "" {
		status = models.DayOpen
	}
	day := &models.BookingDay{
		ClinicID:      key.ClinicID,
		Variant:       key.Variant,
		Date:          key.Date,
		CapacityTotal: capacity,
		Status:        status,
		Slots:         []models.Slot{},
	}
	if err := s.days.Create(ctx, day); err != nil {
		return nil, err
	}
	s.invalidateDay(ctx, key)
	s.log.Info("booking day opened", zap.Stringer("day", key), zap.Int("capacity", capacity))
	return day, nil
}

// BookRequest places a patient. An empty Date is only allowed for the patient
// app, which gets the first day with room.
type BookRequest struct {
	ClinicID int64
	Variant  models.Variant
	Date     string
	queue.Patient
}

// Booking is the confirmed slot.
type Booking struct {
	ClinicID  int64             `json:"clinic_id"`
	Variant   models.Variant    `json:"variant"`
	Date      string            `json:"date"`
	BookingID string            `json:"booking_id"`
	Token     int               `json:"token"`
	PatientID string            `json:"patient_id"`
	Status    models.SlotStatus `json:"status"`
	Code      string            `json:"code,omitempty"`
}

func (s *BookingService) Book(ctx context.Context, req BookRequest) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.book", dayAttrs(models.DayKey{ClinicID: req.ClinicID, Variant: req.Variant, Date: req.Date}))
	b, err := s.book(ctx, req)
	s.metrics.ObserveBooking(string(req.Variant), resultLabel(err))
	endSpan(span, err)
	return b, err
}

func (s *BookingService) book(ctx context.Context, req BookRequest) (*Booking, error) {
	if req.Variant == models.VariantRegular && req.PatientID == "" {
		id, err := s.nextPatientID(ctx, req.ClinicID)
		if err != nil {
			return nil, err
		}
		req.PatientID = id
	}
	if req.Date == "" {
		if req.Source != queue.SourcePatientApp {
			return nil, apperr.New(apperr.MalformedInput, "date is required for source %q", req.Source)
		}
		return s.autoAssign(ctx, req)
	}
	key := models.DayKey{ClinicID: req.ClinicID, Variant: req.Variant, Date: req.Date}
	if err := s.checkMutable(key.Date); err != nil {
		return nil, err
	}
	capacity, err := s.referenceCapacity(ctx, key.ClinicID, key.Variant)
	if err != nil {
		return nil, err
	}
	return s.bookOn(ctx, key, req.Patient, capacity)
}

// autoAssign searches forward from today for a day with room that the patient
// is not already booked on. Missing days are created.
func (s *BookingService) autoAssign(ctx context.Context, req BookRequest) (*Booking, error) {
	start, _ := models.ParseDate(models.Today(s.now(), s.opts.Location))
	window := s.opts.AutoAssignMaxDays
	if window <= 0 {
		window = 1
	}
	last := start.AddDate(0, 0, window-1).Format(models.DateLayout)

	existing, err := s.days.ListRange(ctx, req.ClinicID, req.Variant, start.Format(models.DateLayout), last)
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]*models.BookingDay, len(existing))
	for i := range existing {
		byDate[existing[i].Date] = &existing[i]
	}
	capacity, err := s.referenceCapacity(ctx, req.ClinicID, req.Variant)
	if err != nil {
		return nil, err
	}

	for i := 0; i < window; i++ {
		date := start.AddDate(0, 0, i).Format(models.DateLayout)
		if d, ok := byDate[date]; ok {
			if d.Status == models.DayClosed || d.ActiveCount() >= d.CapacityTotal || queue.HasActivePatient(d, req.PatientID) {
				continue
			}
		}
		key := models.DayKey{ClinicID: req.ClinicID, Variant: req.Variant, Date: date}
		b, err := s.bookOn(ctx, key, req.Patient, capacity)
		switch {
		case err == nil:
			return b, nil
		case apperr.Is(err, apperr.CapacityExceeded), apperr.Is(err, apperr.Conflict), apperr.Is(err, apperr.InvalidTransition):
			// Lost a race for this day, or it was closed meanwhile.
			continue
		default:
			return nil, err
		}
	}
	return nil, apperr.New(apperr.CapacityExceeded, "no day with free capacity in the next %d days", window)
}

func (s *BookingService) bookOn(ctx context.Context, key models.DayKey, p queue.Patient, capacity int) (*Booking, error) {
	init := &models.BookingDay{
		ClinicID:      key.ClinicID,
		Variant:       key.Variant,
		Date:          key.Date,
		CapacityTotal: capacity,
		Status:        models.DayOpen,
		Source:        p.Source,
		Slots:         []models.Slot{},
	}
	var slot models.Slot
	_, err := s.days.Mutate(ctx, key, init, func(day *models.BookingDay) error {
		var err error
		if slot, err = s.engine.Allocate(day, p); err != nil {
			return err
		}
		return queue.Verify(day)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateDay(ctx, key)
	s.log.Info("slot booked", zap.Stringer("day", key), zap.String("booking_id", slot.BookingID), zap.Int("token", slot.Token))
	return &Booking{
		ClinicID:  key.ClinicID,
		Variant:   key.Variant,
		Date:      key.Date,
		BookingID: slot.BookingID,
		Token:     slot.Token,
		PatientID: slot.PatientID,
		Status:    slot.Status,
		Code:      slot.Code,
	}, nil
}

// StatusChange is the result of ChangeStatus. Token is nil once the slot has
// left the queue.
type StatusChange struct {
	BookingID string            `json:"booking_id"`
	Status    models.SlotStatus `json:"status"`
	Previous  models.SlotStatus `json:"previous_status"`
	Token     *int              `json:"token,omitempty"`
	Changed   bool              `json:"changed"`
}

var errUnchanged = errors.New("status unchanged")

// ChangeStatus locates the day from the booking id and applies the
// transition. Cancelling renumbers the queue behind the slot.
func (s *BookingService) ChangeStatus(ctx context.Context, bookingID string, status models.SlotStatus) (*StatusChange, error) {
	ref, err := queue.ParseBookingID(bookingID)
	if err != nil {
		return nil, err
	}
	key := models.DayKey{ClinicID: ref.ClinicID, Variant: ref.Variant, Date: ref.Date}
	ctx, span := tracer.Start(ctx, "booking.change_status", dayAttrs(key))
	change, err := s.changeStatus(ctx, key, bookingID, status)
	endSpan(span, err)
	return change, err
}

func (s *BookingService) changeStatus(ctx context.Context, key models.DayKey, bookingID string, status models.SlotStatus) (*StatusChange, error) {
	if err := s.checkMutable(key.Date); err != nil {
		return nil, err
	}
	var (
		slot     models.Slot
		previous models.SlotStatus
	)
	_, err := s.days.Mutate(ctx, key, nil, func(day *models.BookingDay) error {
		var (
			changed bool
			err     error
		)
		slot, previous, changed, err = s.engine.Transition(day, bookingID, status)
		if err != nil {
			return err
		}
		if !changed {
			return errUnchanged
		}
		return queue.Verify(day)
	})
	change := &StatusChange{BookingID: bookingID, Status: status, Previous: previous}
	if errors.Is(err, errUnchanged) {
		change.Previous = slot.Status
		if slot.Active() {
			change.Token = &slot.Token
		}
		return change, nil
	}
	if err != nil {
		return nil, err
	}
	s.invalidateDay(ctx, key)
	s.metrics.ObserveStatusChange(string(key.Variant), string(status))
	s.log.Info("slot status changed", zap.Stringer("day", key), zap.String("booking_id", bookingID),
		zap.String("from", string(previous)), zap.String("to", string(status)))

	change.Changed = true
	if slot.Active() {
		change.Token = &slot.Token
	}
	return change, nil
}

// GetDay is the cached single-day read.
func (s *BookingService) GetDay(ctx context.Context, key models.DayKey) (*models.BookingDay, error) {
	if _, err := models.ParseDate(key.Date); err != nil {
		return nil, err
	}
	return cache.Fetch(ctx, s.cache, cache.DayKey(key), func(ctx context.Context) (*models.BookingDay, error) {
		return s.days.Get(ctx, key)
	})
}

// Snapshot reads the day straight from the store.
func (s *BookingService) Snapshot(ctx context.Context, key models.DayKey) (*models.BookingDay, error) {
	return s.days.Get(ctx, key)
}

// ListDays is the cached list of a clinic's live days, oldest first.
func (s *BookingService) ListDays(ctx context.Context, clinicID int64, variant models.Variant) ([]models.BookingDay, error) {
	return cache.Fetch(ctx, s.cache, cache.DayListKey(clinicID, variant), func(ctx context.Context) ([]models.BookingDay, error) {
		days, err := s.days.List(ctx, clinicID, variant)
		if days == nil && err == nil {
			days = []models.BookingDay{}
		}
		return days, err
	})
}

// CloseDay cancels every waiting slot, archives the day at once regardless
// of its date and removes it from the live store.
func (s *BookingService) CloseDay(ctx context.Context, key models.DayKey) (*models.BookingArchive, error) {
	ctx, span := tracer.Start(ctx, "booking.close_day", dayAttrs(key))
	entry, err := s.closeDay(ctx, key)
	endSpan(span, err)
	return entry, err
}

func (s *BookingService) closeDay(ctx context.Context, key models.DayKey) (*models.BookingArchive, error) {
	if _, err := models.ParseDate(key.Date); err != nil {
		return nil, err
	}
	var entry *models.BookingArchive
	err := s.days.WithLock(ctx, key, func(tx *gorm.DB) error {
		day, err := repositories.LockedDay(tx, key)
		if err != nil {
			return err
		}
		if day == nil {
			return apperr.New(apperr.NotFound, "no booking day for clinic %d on %s", key.ClinicID, key.Date)
		}
		cancelled := s.engine.CloseOut(day)
		entry, err = freeze(ctx, tx, s.archives.WithTx(tx), day, s.now())
		if err == nil {
			s.log.Info("booking day closed", zap.Stringer("day", key), zap.Int("cancelled", cancelled))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidateDay(ctx, key)
	_ = s.cache.Invalidate(ctx, cache.ArchivePrefix(key.ClinicID, key.Variant))
	return entry, nil
}

// checkMutable rejects malformed dates and dates already in the past.
func (s *BookingService) checkMutable(date string) error {
	if _, err := models.ParseDate(date); err != nil {
		return err
	}
	if date < models.Today(s.now(), s.opts.Location) {
		return apperr.New(apperr.InvalidTransition, "day %s is in the past", date)
	}
	return nil
}

func (s *BookingService) referenceCapacity(ctx context.Context, clinicID int64, variant models.Variant) (int, error) {
	latest, err := s.days.Latest(ctx, clinicID, variant)
	if err != nil {
		return 0, err
	}
	if latest != nil && latest.CapacityTotal > 0 {
		return latest.CapacityTotal, nil
	}
	if variant == models.VariantGolden {
		return s.opts.GoldenDefaultCapacity, nil
	}
	return s.opts.DefaultCapacity, nil
}

func (s *BookingService) nextPatientID(ctx context.Context, clinicID int64) (string, error) {
	days, err := s.days.List(ctx, clinicID, models.VariantRegular)
	if err != nil {
		return "", err
	}
	return queue.NextPatientID(days), nil
}

// invalidateDay drops the day entry and the clinic list before the caller
// sees success. A failed invalidation is logged; the TTL bounds the
// staleness that follows.
func (s *BookingService) invalidateDay(ctx context.Context, key models.DayKey) {
	_ = s.cache.Invalidate(ctx, cache.DayPrefix(key.ClinicID, key.Variant))
}
