package repositories

import (
	"context"

	"gorm.io/gorm"

	"ClinicQueue/apperr"
	"ClinicQueue/models"
)

// ArchiveRepository stores frozen booking days. Entries are append-only.
type ArchiveRepository struct {
	db *gorm.DB
}

func NewArchiveRepository(db *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *ArchiveRepository) WithTx(tx *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{db: tx}
}

func (r *ArchiveRepository) Exists(ctx context.Context, key models.DayKey) (bool, error) {
	var count int64
	err := byKey(r.db.WithContext(ctx).Model(&models.BookingArchive{}), key).Count(&count).Error
	if err != nil {
		return false, apperr.Storage(err, "failed to check archive %s", key)
	}
	return count > 0, nil
}

func (r *ArchiveRepository) Create(ctx context.Context, entry *models.BookingArchive) error {
	key := models.DayKey{ClinicID: entry.ClinicID, Variant: entry.Variant, Date: entry.Date}
	return storageOrConflict(r.db.WithContext(ctx).Create(entry).Error, "archive %s", key)
}

// ArchiveFilter narrows List. Empty bounds are open; Limit <= 0 means no limit.
type ArchiveFilter struct {
	ClinicID int64
	Variant  models.Variant
	From     string
	To       string
	Limit    int
}

// List returns archive entries newest first.
func (r *ArchiveRepository) List(ctx context.Context, f ArchiveFilter) ([]models.BookingArchive, error) {
	q := r.db.WithContext(ctx).Where("clinic_id = ? AND variant = ?", f.ClinicID, f.Variant)
	if f.From != "" {
		q = q.Where("day_date >= ?", f.From)
	}
	if f.To != "" {
		q = q.Where("day_date <= ?", f.To)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	entries := []models.BookingArchive{}
	if err := q.Order("day_date DESC").Find(&entries).Error; err != nil {
		return nil, apperr.Storage(err, "failed to list archives for clinic %d", f.ClinicID)
	}
	return entries, nil
}
