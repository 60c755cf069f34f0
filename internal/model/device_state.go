package model

import "time"

// DeviceState is the durable last-known state of a machine, one row per
// machine. UltimoTimestamp is always server-assigned on write and is
// nullable until the machine reports for the first time.
//
// Conectado is bookkeeping only: it caches the value of the last write
// and goes stale between writes. Read paths must recompute connectivity
// from UltimoTimestamp (see internal/liveness), never trust this flag.
type DeviceState struct {
	ID              int64    `gorm:"primaryKey"`
	MaquinaID       int64    `gorm:"uniqueIndex;not null"`
	Activo          bool     `gorm:"not null;default:false"`
	GradosActuales  int      `gorm:"not null;default:0"`
	Repeticiones    int      `gorm:"not null;default:0"`
	StopGrados      int      `gorm:"not null;default:0"`
	Modo            string   `gorm:"size:50;not null;default:normal"`
	Conectado       bool     `gorm:"not null;default:false"`
	UltimoTimestamp *float64 // unix seconds
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (DeviceState) TableName() string { return "estados_maquinas" }
