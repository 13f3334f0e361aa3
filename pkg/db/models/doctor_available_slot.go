package models

import (
	"time"

	"github.com/google/uuid"
)

// DoctorAvailableSlot is a bookable window in a doctor's schedule. Version is
// the optimistic-concurrency token; every availability update must carry the
// version read and fails when another writer got there first.
type DoctorAvailableSlot struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DoctorID    uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;index"`
	Date        time.Time `gorm:"column:date;type:date;not null"`
	StartTime   time.Time `gorm:"column:start_time;not null"`
	EndTime     time.Time `gorm:"column:end_time;not null"`
	IsAvailable bool      `gorm:"column:is_available;not null;default:true"`
	Version     int64     `gorm:"column:version;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
