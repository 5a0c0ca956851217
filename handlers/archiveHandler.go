package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ClinicQueue/middlewares"
	"ClinicQueue/models"
	"ClinicQueue/repositories"
	"ClinicQueue/services"
)

type ArchiveHandler struct {
	service *services.ArchiveService
	log     *zap.Logger
}

func NewArchiveHandler(service *services.ArchiveService, log *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{service: service, log: log}
}

// ListArchives returns a clinic's frozen days, newest first.
func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	clinicID, err := parseClinicID(c.Param("clinic_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	variant, err := models.ParseVariant(c.Query("variant"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	entries, err := h.service.ListArchives(c.Request.Context(), repositories.ArchiveFilter{
		ClinicID: clinicID,
		Variant:  variant,
		From:     c.Query("from_date"),
		To:       c.Query("to_date"),
		Limit:    limit,
	})
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, gin.H{"clinic_id": clinicID, "variant": variant, "archives": entries}, http.StatusOK)
}

// ArchiveDay freezes one past day on demand. Archiving a day that is already
// archived reports "skipped".
func (h *ArchiveHandler) ArchiveDay(c *gin.Context) {
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
	outcome, err := h.service.ArchiveDay(c.Request.Context(), key)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, gin.H{
		"clinic_id": key.ClinicID,
		"variant":   key.Variant,
		"date":      key.Date,
		"outcome":   outcome,
	}, http.StatusOK)
}

// RunArchival archives every past live day and reports per-outcome counts.
func (h *ArchiveHandler) RunArchival(c *gin.Context) {
	report, err := h.service.ArchivePastDays(c.Request.Context())
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	middlewares.RespondJSON(c, report, http.StatusOK)
}
