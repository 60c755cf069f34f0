package model

// Command actions use the vocabulary the machine firmware expects.
const (
	ActionStart  = "iniciar"
	ActionStop   = "detener"
	ActionPause  = "pausar"
	ActionResume = "continuar"
)

// ValidAction reports whether accion is part of the firmware vocabulary.
func ValidAction(accion string) bool {
	switch accion {
	case ActionStart, ActionStop, ActionPause, ActionResume:
		return true
	}
	return false
}

// Command is a queued control instruction for a machine. Lifecycle is
// pending -> executed, terminal: a command is claimed by exactly one
// delivery poll and is never re-delivered afterwards. Delivery order is
// TimestampCreacion ascending per machine.
type Command struct {
	ID                 int64  `gorm:"primaryKey"`
	MaquinaID          int64  `gorm:"index;not null"`
	Accion             string `gorm:"size:20;not null"`
	Grados             *int
	Repeticiones       *int
	Modo               string  `gorm:"size:50;not null;default:normal"`
	Ejecutado          bool    `gorm:"not null;default:false;index:idx_comandos_pendientes,where:ejecutado = false"`
	TimestampCreacion  float64 `gorm:"not null"`
	TimestampEjecucion *float64
	UsuarioID          *int64 // issuing user, opaque reference into the clinic user store
}

func (Command) TableName() string { return "comandos_maquinas" }
