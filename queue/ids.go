package queue

import (
	"fmt"
	"strconv"
	"strings"

	"ClinicQueue/apperr"
	"ClinicQueue/models"
)

const (
	SourceSecretaryApp = "secretary_app"
	SourcePatientApp   = "patient_app"
)

// NewBookingID derives the id of the next slot in day. The sequence counts
// every slot ever recorded, cancelled ones included, so ids never repeat.
func NewBookingID(day *models.BookingDay, p Patient) (string, error) {
	compact := strings.ReplaceAll(day.Date, "-", "")
	if day.Variant == models.VariantGolden {
		if p.PatientID == "" {
			return "", apperr.New(apperr.MalformedInput, "golden bookings require patient_id")
		}
		return fmt.Sprintf("G-%d-%s-%s", day.ClinicID, compact, p.PatientID), nil
	}
	seq := len(day.Slots) + 1
	if p.Source == SourceSecretaryApp {
		return fmt.Sprintf("S-%d-%s-%03d", day.ClinicID, compact, seq), nil
	}
	return fmt.Sprintf("B-%d-%s-%04d", day.ClinicID, compact, seq), nil
}

// BookingRef is what a booking id encodes.
type BookingRef struct {
	Variant  models.Variant
	ClinicID int64
	Date     string
}

// ParseBookingID extracts the variant, clinic and date encoded in id.
func ParseBookingID(id string) (BookingRef, error) {
	parts := strings.SplitN(id, "-", 4)
	if len(parts) < 4 || parts[3] == "" {
		return BookingRef{}, apperr.New(apperr.MalformedInput, "invalid booking_id %q", id)
	}
	var ref BookingRef
	switch parts[0] {
	case "G":
		ref.Variant = models.VariantGolden
	case "B", "S":
		ref.Variant = models.VariantRegular
	default:
		return BookingRef{}, apperr.New(apperr.MalformedInput, "invalid booking_id prefix in %q", id)
	}
	clinicID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return BookingRef{}, apperr.New(apperr.MalformedInput, "invalid clinic segment in booking_id %q", id)
	}
	ref.ClinicID = clinicID

	compact := parts[2]
	if len(compact) != 8 {
		return BookingRef{}, apperr.New(apperr.MalformedInput, "invalid date segment in booking_id %q", id)
	}
	ref.Date = compact[0:4] + "-" + compact[4:6] + "-" + compact[6:8]
	if _, err := models.ParseDate(ref.Date); err != nil {
		return BookingRef{}, apperr.New(apperr.MalformedInput, "invalid date segment in booking_id %q", id)
	}
	return ref, nil
}

// NextPatientID returns P-<n> where n is one above the highest P- number in
// days, never below P-101.
func NextPatientID(days []models.BookingDay) string {
	maxNum := 100
	for _, d := range days {
		for _, s := range d.Slots {
			num, ok := strings.CutPrefix(s.PatientID, "P-")
			if !ok {
				continue
			}
			if n, err := strconv.Atoi(num); err == nil && n > maxNum {
				maxNum = n
			}
		}
	}
	return fmt.Sprintf("P-%d", maxNum+1)
}
