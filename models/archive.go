package models

import "time"

// BookingArchive is the frozen record of a day that can no longer change.
type BookingArchive struct {
	ID                uint      `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	ClinicID          int64     `gorm:"column:clinic_id;not null;uniqueIndex:idx_booking_archive_key,priority:1" json:"clinic_id"`
	Variant           Variant   `gorm:"column:variant;size:16;not null;uniqueIndex:idx_booking_archive_key,priority:2" json:"variant"`
	Date              string    `gorm:"column:day_date;size:10;not null;uniqueIndex:idx_booking_archive_key,priority:3;index" json:"table_date"`
	CapacityTotal     int       `gorm:"column:capacity_total;not null" json:"capacity_total"`
	CapacityServed    *int      `gorm:"column:capacity_served" json:"capacity_served"`
	CapacityCancelled *int      `gorm:"column:capacity_cancelled" json:"capacity_cancelled"`
	Slots             []Slot    `gorm:"column:slots;type:text;serializer:json" json:"patients"`
	ArchivedAt        time.Time `gorm:"column:archived_at;not null" json:"archived_at"`
}

func (BookingArchive) TableName() string {
	return "booking_archives"
}
