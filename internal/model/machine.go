package model

import "time"

// Machine represents a rehabilitation unit known to the clinic.
// Machines are created lazily on first contact and are never rejected
// for being unknown; only the IP may change after creation.
type Machine struct {
	ID        int64  `gorm:"primaryKey"`
	Numero    string `gorm:"uniqueIndex;size:50;not null"`
	IP        string `gorm:"size:45"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Estado   *DeviceState     `gorm:"foreignKey:MaquinaID;constraint:OnDelete:CASCADE"`
	Comandos []Command        `gorm:"foreignKey:MaquinaID;constraint:OnDelete:CASCADE"`
	Sesiones []TherapySession `gorm:"foreignKey:MaquinaID;constraint:OnDelete:CASCADE"`
}

// TableName keeps the table name used by the clinic database.
func (Machine) TableName() string { return "maquinas" }
