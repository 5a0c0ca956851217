package handlers

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"ClinicQueue/middlewares"
	"ClinicQueue/models"
	"ClinicQueue/services"
)

var paymentMonthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

type PaymentHandler struct {
	service *services.PaymentService
	log     *zap.Logger
}

func NewPaymentHandler(service *services.PaymentService, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, log: log}
}

type recordPaymentBody struct {
	ClinicID    int64  `json:"clinic_id"`
	BookingID   string `json:"booking_id"`
	PatientName string `json:"patient_name"`
	Code        string `json:"code"`
	ExamDate    string `json:"exam_date"`
	BookStatus  string `json:"book_status"`
}

func (b recordPaymentBody) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.ClinicID, clinicIDRules...),
		validation.Field(&b.BookingID, validation.Required, validation.Length(1, 64)),
		validation.Field(&b.PatientName, validation.Required),
		validation.Field(&b.ExamDate, validation.Required),
	)
}

func (h *PaymentHandler) RecordPayment(c *gin.Context) {
	var body recordPaymentBody
	if err := bindJSON(c, &body); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	p, err := h.service.RecordPayment(c.Request.Context(), services.RecordPaymentRequest{
		ClinicID:    body.ClinicID,
		BookingID:   body.BookingID,
		PatientName: body.PatientName,
		Code:        body.Code,
		ExamDate:    body.ExamDate,
		BookStatus:  body.BookStatus,
	})
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, p, http.StatusCreated)
}

func (h *PaymentHandler) MonthlyReport(c *gin.Context) {
	clinicID, err := parseClinicID(c.Query("clinic_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	report, err := h.service.MonthlyReport(c.Request.Context(), clinicID)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, report, http.StatusOK)
}

// AnnualReport defaults to the current year in the clinic's timezone.
func (h *PaymentHandler) AnnualReport(c *gin.Context) {
	clinicID, err := parseClinicID(c.Query("clinic_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	year, err := queryInt(c, "year")
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	report, err := h.service.AnnualReport(c.Request.Context(), clinicID, year)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, report, http.StatusOK)
}

type paymentStatusBody struct {
	ClinicID      int64  `json:"clinic_id"`
	PaymentMonth  string `json:"payment_month"`
	PaymentStatus string `json:"payment_status"`
}

func (b paymentStatusBody) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.ClinicID, clinicIDRules...),
		validation.Field(&b.PaymentMonth, validation.Required, validation.Match(paymentMonthPattern).Error("must be YYYY-MM")),
	)
}

// UpdateStatus settles (or reopens) every row of one clinic month.
func (h *PaymentHandler) UpdateStatus(c *gin.Context) {
	var body paymentStatusBody
	if err := bindJSON(c, &body); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	status, err := models.ParsePaymentStatus(body.PaymentStatus)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	n, err := h.service.UpdateStatus(c.Request.Context(), body.ClinicID, body.PaymentMonth, status)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, gin.H{
		"clinic_id":      body.ClinicID,
		"payment_month":  body.PaymentMonth,
		"payment_status": status,
		"updated_count":  n,
	}, http.StatusOK)
}

func (h *PaymentHandler) AllClinics(c *gin.Context) {
	summary, err := h.service.AllClinicsSummary(c.Request.Context())
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, summary, http.StatusOK)
}
