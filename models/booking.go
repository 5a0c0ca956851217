package models

import (
	"fmt"
	"strings"
	"time"

	"ClinicQueue/apperr"
)

// DateLayout is the canonical calendar-date key of a booking day.
const DateLayout = "2006-01-02"

// Variant separates the regular queue from the premium golden queue.
type Variant string

const (
	VariantRegular Variant = "regular"
	VariantGolden  Variant = "golden"
)

// ParseVariant defaults to regular when s is empty.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case "", VariantRegular:
		return VariantRegular, nil
	case VariantGolden, "gold":
		return VariantGolden, nil
	}
	return "", apperr.New(apperr.MalformedInput, "unknown variant %q", s)
}

// DayStatus is whether a day still accepts new bookings.
type DayStatus string

const (
	DayOpen   DayStatus = "open"
	DayClosed DayStatus = "closed"
)

// SlotStatus is the lifecycle state of a single booking.
type SlotStatus string

const (
	StatusBooked    SlotStatus = "booked"
	StatusServed    SlotStatus = "served"
	StatusCancelled SlotStatus = "cancelled"
	StatusNoShow    SlotStatus = "no_show"
)

// Terminal reports whether s can no longer change.
func (s SlotStatus) Terminal() bool {
	return s == StatusServed || s == StatusCancelled || s == StatusNoShow
}

var statusAliases = map[string]SlotStatus{
	"booked":      StatusBooked,
	"served":      StatusServed,
	"cancelled":   StatusCancelled,
	"canceled":    StatusCancelled,
	"no_show":     StatusNoShow,
	"تم الحجز":    StatusBooked,
	"تمت المعاينة": StatusServed,
	"ملغى":        StatusCancelled,
	"الغاء الحجز": StatusCancelled,
	"لم يحضر":     StatusNoShow,
}

// ParseSlotStatus accepts the canonical names and the labels sent by the
// clinic apps.
func ParseSlotStatus(s string) (SlotStatus, error) {
	if st, ok := statusAliases[strings.TrimSpace(strings.ToLower(s))]; ok {
		return st, nil
	}
	return "", apperr.New(apperr.MalformedInput, "unknown status %q", s)
}

// Slot is one patient's appointment inside a booking day.
type Slot struct {
	BookingID   string     `json:"booking_id"`
	Token       int        `json:"token,omitempty"`
	PatientID   string     `json:"patient_id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone,omitempty"`
	Source      string     `json:"source"`
	Status      SlotStatus `json:"status"`
	Code        string     `json:"code,omitempty"`
	SecretaryID string     `json:"secretary_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Active reports whether the slot still holds a queue position.
func (s Slot) Active() bool {
	return s.Status != StatusCancelled
}

// BookingDay is the per (clinic, variant, date) aggregate. The slot list is
// read, modified and rewritten as one unit.
type BookingDay struct {
	ID            uint      `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	ClinicID      int64     `gorm:"column:clinic_id;not null;uniqueIndex:idx_booking_day_key,priority:1" json:"clinic_id"`
	Variant       Variant   `gorm:"column:variant;size:16;not null;uniqueIndex:idx_booking_day_key,priority:2" json:"variant"`
	Date          string    `gorm:"column:day_date;size:10;not null;uniqueIndex:idx_booking_day_key,priority:3;index" json:"date"`
	CapacityTotal int       `gorm:"column:capacity_total;not null" json:"capacity_total"`
	CapacityUsed  int       `gorm:"column:capacity_used;not null;default:0" json:"capacity_used"`
	Status        DayStatus `gorm:"column:status;size:16;not null;default:open" json:"status"`
	Source        string    `gorm:"column:source;size:32" json:"source,omitempty"`
	Slots         []Slot    `gorm:"column:slots;type:text;serializer:json" json:"patients"`
	Version       int       `gorm:"column:version;not null;default:0" json:"-"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (BookingDay) TableName() string {
	return "booking_days"
}

// Key returns the day's identity.
func (d *BookingDay) Key() DayKey {
	return DayKey{ClinicID: d.ClinicID, Variant: d.Variant, Date: d.Date}
}

// ActiveCount is the number of slots holding a token.
func (d *BookingDay) ActiveCount() int {
	n := 0
	for _, s := range d.Slots {
		if s.Active() {
			n++
		}
	}
	return n
}

// FindSlot returns the index of bookingID in the slot list, or -1.
func (d *BookingDay) FindSlot(bookingID string) int {
	for i := range d.Slots {
		if d.Slots[i].BookingID == bookingID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to hand to readers.
func (d *BookingDay) Clone() *BookingDay {
	c := *d
	c.Slots = append([]Slot(nil), d.Slots...)
	return &c
}

// ParseDate validates a YYYY-MM-DD key.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, apperr.New(apperr.MalformedInput, "invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// Today returns the calendar date in loc.
func Today(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(DateLayout)
}

// DayKey identifies one booking day. It is the unit of locking, caching and
// archival.
type DayKey struct {
	ClinicID int64
	Variant  Variant
	Date     string
}

func (k DayKey) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Variant, k.ClinicID, k.Date)
}
