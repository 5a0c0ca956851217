package models

import (
	"strings"
	"time"

	"ClinicQueue/apperr"
)

// PaymentStatus is the settlement state shared by every row of a payment month.
type PaymentStatus string

const (
	PaymentNotPaid PaymentStatus = "not_paid"
	PaymentPaid    PaymentStatus = "paid"
)

// ParsePaymentStatus defaults to paid when s is empty.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "", PaymentPaid:
		return PaymentPaid, nil
	case PaymentNotPaid:
		return PaymentNotPaid, nil
	}
	return "", apperr.New(apperr.MalformedInput, "unknown payment status %q", s)
}

// GoldenPayment is one golden check-in recorded in the ledger.
type GoldenPayment struct {
	ID            uint          `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	BookingID     string        `gorm:"column:booking_id;size:64;not null;uniqueIndex" json:"booking_id"`
	ClinicID      int64         `gorm:"column:clinic_id;not null;index:idx_golden_payment_clinic_month,priority:1" json:"clinic_id"`
	PatientName   string        `gorm:"column:patient_name;not null" json:"patient_name"`
	Code          string        `gorm:"column:code;size:8" json:"code"`
	ExamDate      string        `gorm:"column:exam_date;size:16;not null" json:"exam_date"`
	BookStatus    string        `gorm:"column:book_status;size:32" json:"book_status"`
	Amount        int           `gorm:"column:amount;not null" json:"amount"`
	PaymentMonth  string        `gorm:"column:payment_month;size:7;not null;index:idx_golden_payment_clinic_month,priority:2" json:"payment_month"`
	PaymentStatus PaymentStatus `gorm:"column:payment_status;size:16;not null;default:not_paid" json:"payment_status"`
	CreatedAt     time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (GoldenPayment) TableName() string {
	return "golden_payments"
}

var examDateLayouts = []string{"02/01/2006", DateLayout}

// PaymentMonthOf derives the YYYY-MM grouping key from an exam date given
// as DD/MM/YYYY or YYYY-MM-DD.
func PaymentMonthOf(examDate string) (string, error) {
	s := strings.TrimSpace(examDate)
	for _, layout := range examDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01"), nil
		}
	}
	return "", apperr.New(apperr.MalformedInput, "invalid exam_date %q, expected DD/MM/YYYY", examDate)
}
