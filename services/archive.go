package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ClinicQueue/apperr"
	"ClinicQueue/cache"
	"ClinicQueue/metrics"
	"ClinicQueue/models"
	"ClinicQueue/queue"
	"ClinicQueue/repositories"
)

// Archive outcomes for a single day.
const (
	OutcomeArchived  = "archived"
	OutcomeRecovered = "recovered"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// ArchiveReport summarizes one archival run.
type ArchiveReport struct {
	Archived  int `json:"archived"`
	Recovered int `json:"recovered"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ArchiveService moves days that can no longer change into the archive.
type ArchiveService struct {
	days     *repositories.DayRepository
	archives *repositories.ArchiveRepository
	cache    *cache.Coordinator
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewArchiveService(days *repositories.DayRepository, archives *repositories.ArchiveRepository, c *cache.Coordinator, loc *time.Location, log *zap.Logger, m *metrics.Metrics) *ArchiveService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ArchiveService{days: days, archives: archives, cache: c, loc: loc, now: time.Now, log: log, metrics: m}
}

// ArchivePastDays archives every live day dated before today in the clinic
// timezone. Each day is an independent unit: a failure is logged and counted
// and the run moves on. Failed days are picked up by the next run.
func (s *ArchiveService) ArchivePastDays(ctx context.Context) (ArchiveReport, error) {
	ctx, span := tracer.Start(ctx, "archive.run")
	var report ArchiveReport

	today := models.Today(s.now(), s.loc)
	keys, err := s.days.KeysBefore(ctx, today)
	if err != nil {
		endSpan(span, err)
		return report, err
	}

	for _, key := range keys {
		outcome, err := s.archiveUnit(ctx, key)
		if err != nil {
			outcome = OutcomeFailed
			s.log.Error("failed to archive booking day",
				zap.Int64("clinic_id", key.ClinicID),
				zap.String("variant", string(key.Variant)),
				zap.String("date", key.Date),
				zap.Error(err),
			)
		}
		s.metrics.ObserveArchiveUnit(string(key.Variant), outcome)
		switch outcome {
		case OutcomeArchived:
			report.Archived++
		case OutcomeRecovered:
			report.Recovered++
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeFailed:
			report.Failed++
		}
	}

	s.log.Info("archival run finished",
		zap.String("before", today),
		zap.Int("archived", report.Archived),
		zap.Int("recovered", report.Recovered),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	endSpan(span, nil)
	return report, nil
}

// ArchiveDay archives a single past day. Re-archiving is a no-op.
func (s *ArchiveService) ArchiveDay(ctx context.Context, key models.DayKey) (string, error) {
	if _, err := models.ParseDate(key.Date); err != nil {
		return "", err
	}
	if key.Date >= models.Today(s.now(), s.loc) {
		return "", apperr.New(apperr.InvalidTransition, "day %s is not in the past", key.Date)
	}
	outcome, err := s.archiveUnit(ctx, key)
	s.metrics.ObserveArchiveUnit(string(key.Variant), outcomeOr(outcome, err))
	return outcome, err
}

func outcomeOr(outcome string, err error) string {
	if err != nil {
		return OutcomeFailed
	}
	return outcome
}

// archiveUnit runs the archive check, insert and live delete as one locked
// transaction. An archive that already exists means an earlier run stopped
// before deleting the live day; the stale day is removed and counted as
// recovered.
func (s *ArchiveService) archiveUnit(ctx context.Context, key models.DayKey) (string, error) {
	ctx, span := tracer.Start(ctx, "archive.day", dayAttrs(key))
	outcome := OutcomeSkipped
	err := s.days.WithLock(ctx, key, func(tx *gorm.DB) error {
		archives := s.archives.WithTx(tx)
		exists, err := archives.Exists(ctx, key)
		if err != nil {
			return err
		}
		day, err := repositories.LockedDay(tx, key)
		if err != nil {
			return err
		}
		switch {
		case exists && day != nil:
			outcome = OutcomeRecovered
			return repositories.DeleteDay(tx, key)
		case exists || day == nil:
			return nil
		}
		if _, err := freeze(ctx, tx, archives, day, s.now()); err != nil {
			return err
		}
		outcome = OutcomeArchived
		return nil
	})
	if err == nil && outcome != OutcomeSkipped {
		s.invalidate(ctx, key)
	}
	endSpan(span, err)
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (s *ArchiveService) invalidate(ctx context.Context, key models.DayKey) {
	_ = s.cache.Invalidate(ctx, cache.DayPrefix(key.ClinicID, key.Variant), cache.ArchivePrefix(key.ClinicID, key.Variant))
}

// freeze snapshots day, every slot included, into a new archive entry and
// deletes the live day.
func freeze(ctx context.Context, tx *gorm.DB, archives *repositories.ArchiveRepository, day *models.BookingDay, now time.Time) (*models.BookingArchive, error) {
	tally := queue.Count(day.Slots)
	served, cancelled := tally.Served, tally.Cancelled
	entry := &models.BookingArchive{
		ClinicID:          day.ClinicID,
		Variant:           day.Variant,
		Date:              day.Date,
		CapacityTotal:     day.CapacityTotal,
		CapacityServed:    &served,
		CapacityCancelled: &cancelled,
		Slots:             append([]models.Slot{}, day.Slots...),
		ArchivedAt:        now.UTC(),
	}
	if err := archives.Create(ctx, entry); err != nil {
		return nil, err
	}
	if err := repositories.DeleteDay(tx, day.Key()); err != nil {
		return nil, err
	}
	return entry, nil
}

// ListArchives returns archive entries newest first.
func (s *ArchiveService) ListArchives(ctx context.Context, f repositories.ArchiveFilter) ([]models.BookingArchive, error) {
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := models.ParseDate(d); err != nil {
			return nil, err
		}
	}
	key := cache.ArchiveListKey(f.ClinicID, f.Variant, f.From, f.To, f.Limit)
	return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]models.BookingArchive, error) {
		return s.archives.List(ctx, f)
	})
}
