package repositories

import (
	"context"

	"gorm.io/gorm"

	"ClinicQueue/apperr"
	"ClinicQueue/models"
)

// PaymentRepository is the golden ledger store.
type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts one ledger row. A second row for the same booking is a
// Conflict and leaves the first untouched.
func (r *PaymentRepository) Create(ctx context.Context, p *models.GoldenPayment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.GoldenPayment{}).Where("booking_id = ?", p.BookingID).Count(&count).Error; err != nil {
			return apperr.Storage(err, "failed to check payment %s", p.BookingID)
		}
		if count > 0 {
			return apperr.New(apperr.Conflict, "payment for booking %s already recorded", p.BookingID)
		}
		return storageOrConflict(tx.Create(p).Error, "payment %s", p.BookingID)
	})
}

// ListByClinic returns a clinic's rows ordered by month then insertion.
func (r *PaymentRepository) ListByClinic(ctx context.Context, clinicID int64) ([]models.GoldenPayment, error) {
	var rows []models.GoldenPayment
	err := r.db.WithContext(ctx).
		Where("clinic_id = ?", clinicID).
		Order("payment_month ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list payments for clinic %d", clinicID)
	}
	return rows, nil
}

// ListAll returns every row ordered by clinic, month then insertion.
func (r *PaymentRepository) ListAll(ctx context.Context) ([]models.GoldenPayment, error) {
	var rows []models.GoldenPayment
	err := r.db.WithContext(ctx).
		Order("clinic_id ASC, payment_month ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Storage(err, "failed to list payments")
	}
	return rows, nil
}

// UpdateStatus sets the status of every row in (clinicID, month) and returns
// the number of rows matched.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, clinicID int64, month string, status models.PaymentStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.GoldenPayment{}).
		Where("clinic_id = ? AND payment_month = ?", clinicID, month).
		Update("payment_status", status)
	if res.Error != nil {
		return 0, apperr.Storage(res.Error, "failed to update payments for clinic %d month %s", clinicID, month)
	}
	return res.RowsAffected, nil
}
