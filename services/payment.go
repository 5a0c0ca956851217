package services

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"ClinicQueue/apperr"
	"ClinicQueue/cache"
	"ClinicQueue/models"
	"ClinicQueue/repositories"
)

// PaymentService is the golden ledger: one row per check-in, reported by
// month and settled in bulk per (clinic, month).
type PaymentService struct {
	payments *repositories.PaymentRepository
	cache    *cache.Coordinator
	amount   int
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
}

func NewPaymentService(payments *repositories.PaymentRepository, c *cache.Coordinator, amount int, loc *time.Location, log *zap.Logger) *PaymentService {
	if log == nil {
		log = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &PaymentService{payments: payments, cache: c, amount: amount, loc: loc, now: time.Now, log: log}
}

type RecordPaymentRequest struct {
	ClinicID    int64
	BookingID   string
	PatientName string
	Code        string
	ExamDate    string
	BookStatus  string
}

// RecordPayment inserts a not_paid row at the fixed amount. A booking can be
// recorded once; later attempts are a Conflict.
func (s *PaymentService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*models.GoldenPayment, error) {
	ctx, span := tracer.Start(ctx, "ledger.record")
	p, err := s.record(ctx, req)
	endSpan(span, err)
	return p, err
}

func (s *PaymentService) record(ctx context.Context, req RecordPaymentRequest) (*models.GoldenPayment, error) {
	month, err := models.PaymentMonthOf(req.ExamDate)
	if err != nil {
		return nil, err
	}
	p := &models.GoldenPayment{
		BookingID:     req.BookingID,
		ClinicID:      req.ClinicID,
		PatientName:   req.PatientName,
		Code:          req.Code,
		ExamDate:      req.ExamDate,
		BookStatus:    req.BookStatus,
		Amount:        s.amount,
		PaymentMonth:  month,
		PaymentStatus: models.PaymentNotPaid,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	s.invalidate(ctx, req.ClinicID)
	s.log.Info("golden payment recorded", zap.Int64("clinic_id", req.ClinicID), zap.String("booking_id", req.BookingID), zap.String("month", month))
	return p, nil
}

// PaymentPatient is one row as shown in the monthly report.
type PaymentPatient struct {
	BookingID   string `json:"booking_id"`
	PatientName string `json:"patient_name"`
	Code        string `json:"code"`
	ExamDate    string `json:"exam_date"`
	BookStatus  string `json:"book_status"`
}

type MonthGroup struct {
	PatientCount  int                  `json:"patient_count"`
	TotalAmount   int                  `json:"total_amount"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Patients      []PaymentPatient     `json:"patients"`
}

type MonthlyReport struct {
	ClinicID int64                 `json:"clinic_id"`
	Months   map[string]MonthGroup `json:"months"`
}

// monthStatus folds row statuses: a month reads paid once any of its rows is.
func monthStatus(current, row models.PaymentStatus) models.PaymentStatus {
	if row == models.PaymentPaid {
		return models.PaymentPaid
	}
	if current == "" {
		return models.PaymentNotPaid
	}
	return current
}

// MonthlyReport groups a clinic's rows by payment month. Months without rows
// are absent.
func (s *PaymentService) MonthlyReport(ctx context.Context, clinicID int64) (*MonthlyReport, error) {
	return cache.Fetch(ctx, s.cache, cache.MonthlyReportKey(clinicID), func(ctx context.Context) (*MonthlyReport, error) {
		rows, err := s.payments.ListByClinic(ctx, clinicID)
		if err != nil {
			return nil, err
		}
		report := &MonthlyReport{ClinicID: clinicID, Months: map[string]MonthGroup{}}
		for _, r := range rows {
			g := report.Months[r.PaymentMonth]
			g.PatientCount++
			g.TotalAmount += r.Amount
			g.PaymentStatus = monthStatus(g.PaymentStatus, r.PaymentStatus)
			g.Patients = append(g.Patients, PaymentPatient{
				BookingID:   r.BookingID,
				PatientName: r.PatientName,
				Code:        r.Code,
				ExamDate:    r.ExamDate,
				BookStatus:  r.BookStatus,
			})
			report.Months[r.PaymentMonth] = g
		}
		return report, nil
	})
}

type MonthTotal struct {
	Amount        int                  `json:"amount"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

type AnnualReport struct {
	ClinicID     int64                 `json:"clinic_id"`
	Year         int                   `json:"year"`
	TotalPaid    int                   `json:"total_paid"`
	RemainAmount int                   `json:"remain_amount"`
	Months       map[string]MonthTotal `json:"months"`
}

// AnnualReport totals one year of a clinic's rows. A zero year means the
// current year in the clinic timezone.
func (s *PaymentService) AnnualReport(ctx context.Context, clinicID int64, year int) (*AnnualReport, error) {
	if year == 0 {
		year = s.now().In(s.loc).Year()
	}
	if year < 1000 || year > 9999 {
		return nil, apperr.New(apperr.MalformedInput, "invalid year %d", year)
	}
	prefix := strconv.Itoa(year) + "-"
	return cache.Fetch(ctx, s.cache, cache.AnnualReportKey(clinicID, year), func(ctx context.Context) (*AnnualReport, error) {
		rows, err := s.payments.ListByClinic(ctx, clinicID)
		if err != nil {
			return nil, err
		}
		report := &AnnualReport{ClinicID: clinicID, Year: year, Months: map[string]MonthTotal{}}
		for _, r := range rows {
			if len(r.PaymentMonth) < len(prefix) || r.PaymentMonth[:len(prefix)] != prefix {
				continue
			}
			m := report.Months[r.PaymentMonth]
			m.Amount += r.Amount
			m.PaymentStatus = monthStatus(m.PaymentStatus, r.PaymentStatus)
			report.Months[r.PaymentMonth] = m
			if r.PaymentStatus == models.PaymentPaid {
				report.TotalPaid += r.Amount
			} else {
				report.RemainAmount += r.Amount
			}
		}
		return report, nil
	})
}

// UpdateStatus settles every row of (clinicID, month). Zero matching rows is
// reported as NotFound.
func (s *PaymentService) UpdateStatus(ctx context.Context, clinicID int64, month string, status models.PaymentStatus) (int64, error) {
	ctx, span := tracer.Start(ctx, "ledger.update_status")
	n, err := s.updateStatus(ctx, clinicID, month, status)
	endSpan(span, err)
	return n, err
}

func (s *PaymentService) updateStatus(ctx context.Context, clinicID int64, month string, status models.PaymentStatus) (int64, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return 0, apperr.New(apperr.MalformedInput, "invalid payment_month %q, expected YYYY-MM", month)
	}
	n, err := s.payments.UpdateStatus(ctx, clinicID, month, status)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, apperr.New(apperr.NotFound, "no payments for clinic %d in %s", clinicID, month)
	}
	s.invalidate(ctx, clinicID)
	s.log.Info("golden payments settled", zap.Int64("clinic_id", clinicID), zap.String("month", month),
		zap.String("status", string(status)), zap.Int64("updated", n))
	return n, nil
}

type ClinicMonth struct {
	PatientCount  int                  `json:"patient_count"`
	Amount        int                  `json:"amount"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

type ClinicSummary struct {
	ClinicID      int64                  `json:"clinic_id"`
	TotalPatients int                    `json:"total_patients"`
	TotalAmount   int                    `json:"total_amount"`
	TotalPaid     int                    `json:"total_paid"`
	RemainAmount  int                    `json:"remain_amount"`
	Months        map[string]ClinicMonth `json:"months"`
}

type LedgerSummary struct {
	TotalClinics  int             `json:"total_clinics"`
	TotalPayments int             `json:"total_payments"`
	TotalAmount   int             `json:"total_amount"`
	TotalPaid     int             `json:"total_paid"`
	TotalRemain   int             `json:"total_remain"`
	Clinics       []ClinicSummary `json:"clinics"`
}

// AllClinicsSummary totals the whole ledger, clinics ordered by id.
func (s *PaymentService) AllClinicsSummary(ctx context.Context) (*LedgerSummary, error) {
	return cache.Fetch(ctx, s.cache, cache.AllPaymentsKey, func(ctx context.Context) (*LedgerSummary, error) {
		rows, err := s.payments.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		summary := &LedgerSummary{Clinics: []ClinicSummary{}}
		var cur *ClinicSummary
		for _, r := range rows {
			if cur == nil || cur.ClinicID != r.ClinicID {
				summary.Clinics = append(summary.Clinics, ClinicSummary{ClinicID: r.ClinicID, Months: map[string]ClinicMonth{}})
				cur = &summary.Clinics[len(summary.Clinics)-1]
			}
			cur.TotalPatients++
			cur.TotalAmount += r.Amount
			m := cur.Months[r.PaymentMonth]
			m.PatientCount++
			m.Amount += r.Amount
			m.PaymentStatus = monthStatus(m.PaymentStatus, r.PaymentStatus)
			cur.Months[r.PaymentMonth] = m
			if r.PaymentStatus == models.PaymentPaid {
				cur.TotalPaid += r.Amount
				summary.TotalPaid += r.Amount
			}
			summary.TotalPayments++
			summary.TotalAmount += r.Amount
		}
		for i := range summary.Clinics {
			c := &summary.Clinics[i]
			c.RemainAmount = c.TotalAmount - c.TotalPaid
		}
		summary.TotalClinics = len(summary.Clinics)
		summary.TotalRemain = summary.TotalAmount - summary.TotalPaid
		return summary, nil
	})
}

func (s *PaymentService) invalidate(ctx context.Context, clinicID int64) {
	_ = s.cache.Invalidate(ctx, cache.PaymentsPrefix(clinicID), cache.AllPaymentsKey)
}
