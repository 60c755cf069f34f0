package model

import "time"

// TherapySession is the audit record of one prescribed exercise run on a
// machine. Write-mostly: telemetry ingest advances RepeticionesCompletadas
// on the open session and closes it once the target is reached. Not on the
// synchronization critical path.
type TherapySession struct {
	ID                      int64 `gorm:"primaryKey"`
	MaquinaID               int64 `gorm:"index;not null"`
	UsuarioID               int64 `gorm:"index;not null"`
	FechaInicio             time.Time
	FechaFin                *time.Time
	GradosObjetivo          int  `gorm:"not null"`
	RepeticionesObjetivo    int  `gorm:"not null"`
	RepeticionesCompletadas int  `gorm:"not null;default:0"`
	Completada              bool `gorm:"not null;default:false"`
}

func (TherapySession) TableName() string { return "sesiones_terapia" }
