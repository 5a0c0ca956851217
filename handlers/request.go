package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"ClinicQueue/apperr"
	"ClinicQueue/models"
)

var clinicIDRules = []validation.Rule{validation.Required, validation.Min(int64(1))}

// bindJSON decodes the body into req and runs its validation rules.
func bindJSON(c *gin.Context, req validation.Validatable) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return apperr.Wrap(apperr.MalformedInput, err, "invalid request body")
	}
	return validate(req)
}

func validate(req validation.Validatable) error {
	if err := req.Validate(); err != nil {
		return apperr.Wrap(apperr.MalformedInput, err, "%s", err.Error())
	}
	return nil
}

func parseClinicID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.MalformedInput, "invalid clinic_id %q", raw)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.MalformedInput, "invalid %s %q", name, raw)
	}
	return n, nil
}

func queryBool(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.New(apperr.MalformedInput, "invalid %s %q", name, raw)
	}
	return b, nil
}

// queryDuration accepts a Go duration ("1500ms") or whole seconds ("2").
func queryDuration(c *gin.Context, name string) (time.Duration, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, apperr.New(apperr.MalformedInput, "invalid %s %q", name, raw)
	}
	return d, nil
}

func dayKey(clinicID int64, variant, date string) (models.DayKey, error) {
	v, err := models.ParseVariant(variant)
	if err != nil {
		return models.DayKey{}, err
	}
	if _, err := models.ParseDate(date); err != nil {
		return models.DayKey{}, err
	}
	return models.DayKey{ClinicID: clinicID, Variant: v, Date: date}, nil
}
