package store

// TelemetryReport is a device-reported state update. The timestamp is
// always assigned by the server at write time, never taken from the
// device.
type TelemetryReport struct {
	Numero         string
	Activo         bool
	GradosActuales int
	Repeticiones   int
}

// CommandRequest is a control instruction queued by the clinical plane.
type CommandRequest struct {
	Accion       string
	Grados       *int
	Repeticiones *int
	Modo         string
	UsuarioID    *int64
}
