package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"ClinicQueue/middlewares"
	"ClinicQueue/models"
	"ClinicQueue/queue"
	"ClinicQueue/services"
)

type BookingHandler struct {
	service *services.BookingService
	log     *zap.Logger
}

func NewBookingHandler(service *services.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{service: service, log: log}
}

type openDayBody struct {
	ClinicID      int64  `json:"clinic_id"`
	Variant       string `json:"variant"`
	Date          string `json:"date"`
	CapacityTotal int    `json:"capacity_total"`
	Status        string `json:"status"`
}

func (b openDayBody) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.ClinicID, clinicIDRules...),
		validation.Field(&b.Date, validation.Required, validation.Date(models.DateLayout)),
		validation.Field(&b.CapacityTotal, validation.Min(0)),
		validation.Field(&b.Status, validation.In(string(models.DayOpen), string(models.DayClosed))),
	)
}

func (h *BookingHandler) OpenDay(c *gin.Context) {
	var body openDayBody
	if err := bindJSON(c, &body); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	key, err := dayKey(body.ClinicID, body.Variant, body.Date)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	day, err := h.service.OpenDay(c.Request.Context(), services.OpenDayRequest{
		ClinicID:      key.ClinicID,
		Variant:       key.Variant,
		Date:          key.Date,
		CapacityTotal: body.CapacityTotal,
		Status:        models.DayStatus(body.Status),
	})
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, day, http.StatusCreated)
}

func (h *BookingHandler) ListDays(c *gin.Context) {
	clinicID, err := parseClinicID(c.Query("clinic_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	variant, err := models.ParseVariant(c.Query("variant"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	days, err := h.service.ListDays(c.Request.Context(), clinicID, variant)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, gin.H{"clinic_id": clinicID, "variant": variant, "days": days}, http.StatusOK)
}

type dayBody struct {
	ClinicID int64  `json:"clinic_id"`
	Variant  string `json:"variant"`
	Date     string `json:"date"`
}

func (b dayBody) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.ClinicID, clinicIDRules...),
		validation.Field(&b.Date, validation.Required, validation.Date(models.DateLayout)),
	)
}

func (h *BookingHandler) CloseDay(c *gin.Context) {
	var body dayBody
	if err := bindJSON(c, &body); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	key, err := dayKey(body.ClinicID, body.Variant, body.Date)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	entry, err := h.service.CloseDay(c.Request.Context(), key)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, entry, http.StatusOK)
}

type bookBody struct {
	ClinicID    int64  `json:"clinic_id"`
	Variant     string `json:"variant"`
	Date        string `json:"date"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
	Source      string `json:"source"`
	SecretaryID string `json:"secretary_id"`
}

func (b bookBody) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.ClinicID, clinicIDRules...),
		validation.Field(&b.Date, validation.Date(models.DateLayout)),
		validation.Field(&b.PatientName, validation.Required, validation.Length(1, 200)),
		validation.Field(&b.PatientID, validation.Length(0, 64)),
		validation.Field(&b.Source, validation.Required),
	)
}

func (h *BookingHandler) Book(c *gin.Context) {
	var body bookBody
	if err := bindJSON(c, &body); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	variant, err := models.ParseVariant(body.Variant)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	booking, err := h.service.Book(c.Request.Context(), services.BookRequest{
		ClinicID: body.ClinicID,
		Variant:  variant,
		Date:     body.Date,
		Patient: queue.Patient{
			PatientID:   body.PatientID,
			Name:        body.PatientName,
			Phone:       body.Phone,
			Source:      body.Source,
			SecretaryID: body.SecretaryID,
		},
	})
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, booking, http.StatusCreated)
}

type statusBody struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

func (b statusBody) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.BookingID, validation.Required),
		validation.Field(&b.Status, validation.Required),
	)
}

// ChangeStatus accepts canonical statuses and the Arabic labels the clinic
// apps send.
func (h *BookingHandler) ChangeStatus(c *gin.Context) {
	var body statusBody
	if err := bindJSON(c, &body); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	status, err := models.ParseSlotStatus(body.Status)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	change, err := h.service.ChangeStatus(c.Request.Context(), body.BookingID, status)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, change, http.StatusOK)
}
