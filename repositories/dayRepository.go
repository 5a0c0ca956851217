package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ClinicQueue/apperr"
	"ClinicQueue/database"
	"ClinicQueue/models"
)

// DayRepository is the booking day store. Writes go through WithDay so the
// per-day lock is always taken before a connection is.
type DayRepository struct {
	db     *gorm.DB
	locker database.DayLocker
}

func NewDayRepository(db *gorm.DB, locker database.DayLocker) *DayRepository {
	return &DayRepository{db: db, locker: locker}
}

func byKey(db *gorm.DB, key models.DayKey) *gorm.DB {
	return db.Where("clinic_id = ? AND variant = ? AND day_date = ?", key.ClinicID, key.Variant, key.Date)
}

// Get reads one day without locking.
func (r *DayRepository) Get(ctx context.Context, key models.DayKey) (*models.BookingDay, error) {
	var day models.BookingDay
	err := byKey(r.db.WithContext(ctx), key).First(&day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "no booking day for clinic %d on %s", key.ClinicID, key.Date)
	}
	if err != nil {
		return nil, apperr.Storage(err, "failed to get booking day %s", key)
	}
	return &day, nil
}

// List returns a clinic's live days ordered by date.
func (r *DayRepository) List(ctx context.Context, clinicID int64, variant models.Variant) ([]models.BookingDay, error) {
	var days []models.BookingDay
	err := r.db.WithContext(ctx).
		Where("clinic_id = ? AND variant = ?", clinicID, variant).
		Order("day_date ASC").
		Find(&days).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list booking days for clinic %d", clinicID)
	}
	return days, nil
}

// ListRange returns a clinic's live days with from <= date <= to.
func (r *DayRepository) ListRange(ctx context.Context, clinicID int64, variant models.Variant, from, to string) ([]models.BookingDay, error) {
	var days []models.BookingDay
	err := r.db.WithContext(ctx).
		Where("clinic_id = ? AND variant = ? AND day_date >= ? AND day_date <= ?", clinicID, variant, from, to).
		Order("day_date ASC").
		Find(&days).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list booking days for clinic %d", clinicID)
	}
	return days, nil
}

// Latest returns the most recent live day of a clinic, or nil.
func (r *DayRepository) Latest(ctx context.Context, clinicID int64, variant models.Variant) (*models.BookingDay, error) {
	var day models.BookingDay
	err := r.db.WithContext(ctx).
		Where("clinic_id = ? AND variant = ?", clinicID, variant).
		Order("day_date DESC").
		Limit(1).
		Find(&day).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to read latest booking day for clinic %d", clinicID)
	}
	if day.ID == 0 {
		return nil, nil
	}
	return &day, nil
}

// KeysBefore returns the identities of every live day dated before date.
func (r *DayRepository) KeysBefore(ctx context.Context, date string) ([]models.DayKey, error) {
	var rows []models.BookingDay
	err := r.db.WithContext(ctx).
		Select("clinic_id", "variant", "day_date").
		Where("day_date < ?", date).
		Order("day_date ASC, clinic_id ASC, variant ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list past booking days")
	}
	keys := make([]models.DayKey, len(rows))
	for i := range rows {
		keys[i] = rows[i].Key()
	}
	return keys, nil
}

// WithLock runs fn in a transaction while holding the day's lock. The lock is
// acquired first so waiting never pins a pooled connection.
func (r *DayRepository) WithLock(ctx context.Context, key models.DayKey, fn func(tx *gorm.DB) error) error {
	unlock, err := r.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	return r.db.WithContext(ctx).Transaction(fn)
}

// LockedDay loads a day inside tx with a row lock, or returns nil when absent.
func LockedDay(tx *gorm.DB, key models.DayKey) (*models.BookingDay, error) {
	var day models.BookingDay
	err := byKey(tx.Clauses(clause.Locking{Strength: "UPDATE"}), key).Limit(1).Find(&day).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to lock booking day %s", key)
	}
	if day.ID == 0 {
		return nil, nil
	}
	return &day, nil
}

// MutateFunc changes a loaded day in place. Returning an error discards the
// change.
type MutateFunc func(day *models.BookingDay) error

// Mutate loads the day under lock, applies fn and rewrites the aggregate as
// one unit. When the day is absent and init is non-nil, init is mutated and
// inserted instead; otherwise a missing day is NotFound. The stored day is
// returned.
func (r *DayRepository) Mutate(ctx context.Context, key models.DayKey, init *models.BookingDay, fn MutateFunc) (*models.BookingDay, error) {
	var saved *models.BookingDay
	err := r.WithLock(ctx, key, func(tx *gorm.DB) error {
		day, err := LockedDay(tx, key)
		if err != nil {
			return err
		}
		created := false
		if day == nil {
			if init == nil {
				return apperr.New(apperr.NotFound, "no booking day for clinic %d on %s", key.ClinicID, key.Date)
			}
			if err := ensureNotArchived(tx, key); err != nil {
				return err
			}
			day = init.Clone()
			created = true
		}
		if err := fn(day); err != nil {
			return err
		}
		if created {
			day.Version = 1
			if err := tx.Create(day).Error; err != nil {
				return storageOrConflict(err, "booking day %s", key)
			}
		} else if err := saveVersioned(tx, day); err != nil {
			return err
		}
		saved = day
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// dayColumns are rewritten on every save; identity columns never change.
var dayColumns = []string{"capacity_total", "capacity_used", "status", "source", "slots", "version", "updated_at"}

// saveVersioned rewrites day only if the stored version still matches the
// one it was read at, then advances it. A mismatch means another writer got
// in without holding the day lock (an expired Redis lock, for example) and
// is reported as a Conflict, rolling back the transaction.
func saveVersioned(tx *gorm.DB, day *models.BookingDay) error {
	key := day.Key()
	read := day.Version
	day.Version = read + 1
	res := tx.Model(day).Where("version = ?", read).Select(dayColumns).Updates(day)
	if res.Error != nil {
		day.Version = read
		return storageOrConflict(res.Error, "booking day %s", key)
	}
	if res.RowsAffected == 0 {
		day.Version = read
		return apperr.New(apperr.Conflict, "booking day %s was modified concurrently", key)
	}
	return nil
}

// Create inserts an empty day. Conflict if it already exists.
func (r *DayRepository) Create(ctx context.Context, day *models.BookingDay) error {
	key := day.Key()
	return r.WithLock(ctx, key, func(tx *gorm.DB) error {
		existing, err := LockedDay(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.New(apperr.Conflict, "booking day for clinic %d on %s already exists", key.ClinicID, key.Date)
		}
		if err := ensureNotArchived(tx, key); err != nil {
			return err
		}
		return storageOrConflict(tx.Create(day).Error, "booking day %s", key)
	})
}

// ensureNotArchived stops a frozen date from coming back as a live day, which
// the next archival run would otherwise discard.
func ensureNotArchived(tx *gorm.DB, key models.DayKey) error {
	var count int64
	if err := byKey(tx.Model(&models.BookingArchive{}), key).Count(&count).Error; err != nil {
		return apperr.Storage(err, "failed to check archive %s", key)
	}
	if count > 0 {
		return apperr.New(apperr.InvalidTransition, "booking day for clinic %d on %s is already archived", key.ClinicID, key.Date)
	}
	return nil
}

// DeleteDay removes the live day inside tx.
func DeleteDay(tx *gorm.DB, key models.DayKey) error {
	err := byKey(tx, key).Delete(&models.BookingDay{}).Error
	return apperr.Storage(err, "failed to delete booking day %s", key)
}

func storageOrConflict(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Wrap(apperr.Conflict, err, "duplicate "+format, args...)
	}
	return apperr.Storage(err, "failed to store "+format, args...)
}
