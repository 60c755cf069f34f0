package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rehab-sync-backend/internal/liveness"
	"rehab-sync-backend/internal/model"
)

// PlaceholderIP is recorded for machines first seen through a path that
// does not carry a usable device address (telemetry ingest, dashboard
// enqueue). A later command poll overwrites it with the real one.
const PlaceholderIP = "0.0.0.0"

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// GetOrCreateMachine resolves a machine by its label, creating it if
	// absent. When ip is non-empty a differing stored address is
	// refreshed; pass "" to leave the address alone.
	GetOrCreateMachine(ctx context.Context, numero, ip string) (model.Machine, error)

	// MarkContact records that a device made contact: conectado=true and
	// a fresh ultimo_timestamp, creating the state row if needed.
	MarkContact(ctx context.Context, maquinaID int64, now time.Time) error

	// RecordTelemetry upserts machine and state from a device report and
	// advances the machine's open therapy session, all in one transaction.
	RecordTelemetry(ctx context.Context, rep TelemetryReport, now time.Time) (model.DeviceState, error)

	// SetActive updates only the active flag (simple-state write path).
	SetActive(ctx context.Context, numero string, activo bool, now time.Time) (model.DeviceState, error)

	// GetStateByNumero returns a machine and its state row, nil state when
	// the machine has never reported. gorm.ErrRecordNotFound when the
	// machine itself is unknown.
	GetStateByNumero(ctx context.Context, numero string) (model.Machine, *model.DeviceState, error)

	// ListStatuses returns every machine with its state row (nil when the
	// machine has never reported).
	ListStatuses(ctx context.Context) ([]MachineStatus, error)

	// EnqueueCommand appends a pending command for a machine, creating the
	// machine if it was never seen. No deduplication.
	EnqueueCommand(ctx context.Context, numero string, req CommandRequest, now time.Time) (model.Command, error)

	// ClaimNextCommand atomically fetches the oldest pending command for a
	// machine and marks it executed. Returns nil when the queue is empty.
	// At most one concurrent poll can claim a given command.
	ClaimNextCommand(ctx context.Context, maquinaID int64, now time.Time) (*model.Command, error)

	// ReconcileConnected rewrites the stored conectado bookkeeping flag.
	// Only the liveness sweeper calls this; read paths always recompute.
	ReconcileConnected(ctx context.Context, maquinaID int64, conectado bool) error

	StartSession(ctx context.Context, numero string, usuarioID int64, gradosObjetivo, repeticionesObjetivo int, now time.Time) (model.TherapySession, error)
	CloseSession(ctx context.Context, sessionID int64, now time.Time) (model.TherapySession, error)
}

// MachineStatus pairs a machine with its durable state row.
type MachineStatus struct {
	Machine model.Machine
	Estado  *model.DeviceState
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

func (s *gormStore) GetOrCreateMachine(ctx context.Context, numero, ip string) (model.Machine, error) {
	return getOrCreateMachine(s.db.WithContext(ctx), numero, ip)
}

// getOrCreateMachine is the shared upsert-by-natural-key used by every
// contact path. The OnConflict clause makes concurrent first contact for
// the same label converge on a single row.
func getOrCreateMachine(tx *gorm.DB, numero, ip string) (model.Machine, error) {
	createIP := ip
	if createIP == "" {
		createIP = PlaceholderIP
	}
	candidate := model.Machine{Numero: numero, IP: createIP}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "numero"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return model.Machine{}, fmt.Errorf("upsert machine %q: %w", numero, err)
	}

	var machine model.Machine
	if err := tx.Where("numero = ?", numero).Take(&machine).Error; err != nil {
		return model.Machine{}, fmt.Errorf("fetch machine %q after upsert: %w", numero, err)
	}

	if ip != "" && machine.IP != ip {
		if err := tx.Model(&machine).Update("ip", ip).Error; err != nil {
			return model.Machine{}, fmt.Errorf("refresh ip for machine %q: %w", numero, err)
		}
		machine.IP = ip
	}
	return machine, nil
}

// getOrCreateState resolves the one state row of a machine, creating a
// default row on first contact. Same OnConflict pattern as the machine
// upsert, keyed on the unique maquina_id.
func getOrCreateState(tx *gorm.DB, maquinaID int64) (model.DeviceState, error) {
	candidate := model.DeviceState{MaquinaID: maquinaID, Modo: "normal"}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "maquina_id"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return model.DeviceState{}, fmt.Errorf("upsert state for machine %d: %w", maquinaID, err)
	}

	var state model.DeviceState
	if err := tx.Where("maquina_id = ?", maquinaID).Take(&state).Error; err != nil {
		return model.DeviceState{}, fmt.Errorf("fetch state for machine %d: %w", maquinaID, err)
	}
	return state, nil
}

func (s *gormStore) MarkContact(ctx context.Context, maquinaID int64, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := getOrCreateState(tx, maquinaID)
		if err != nil {
			return err
		}
		ts := liveness.UnixSeconds(now)
		return tx.Model(&state).Updates(map[string]any{
			"conectado":        true,
			"ultimo_timestamp": ts,
		}).Error
	})
}

func (s *gormStore) RecordTelemetry(ctx context.Context, rep TelemetryReport, now time.Time) (model.DeviceState, error) {
	var result model.DeviceState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machine, err := getOrCreateMachine(tx, rep.Numero, "")
		if err != nil {
			return err
		}
		state, err := getOrCreateState(tx, machine.ID)
		if err != nil {
			return err
		}

		ts := liveness.UnixSeconds(now)
		if err := tx.Model(&state).Updates(map[string]any{
			"activo":           rep.Activo,
			"grados_actuales":  rep.GradosActuales,
			"repeticiones":     rep.Repeticiones,
			"conectado":        true,
			"ultimo_timestamp": ts,
		}).Error; err != nil {
			return fmt.Errorf("update state for machine %q: %w", rep.Numero, err)
		}

		state.Activo = rep.Activo
		state.GradosActuales = rep.GradosActuales
		state.Repeticiones = rep.Repeticiones
		state.Conectado = true
		state.UltimoTimestamp = &ts
		result = state

		return advanceOpenSession(tx, machine.ID, rep.Repeticiones, now)
	})
	return result, err
}

// advanceOpenSession moves the machine's open therapy session forward.
// Progress never goes backwards: a device rebooting mid-session reports
// low counts again, which must not undo recorded repetitions.
func advanceOpenSession(tx *gorm.DB, maquinaID int64, repeticiones int, now time.Time) error {
	var session model.TherapySession
	err := tx.Where("maquina_id = ? AND fecha_fin IS NULL", maquinaID).
		Order("fecha_inicio DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch open session for machine %d: %w", maquinaID, err)
	}

	if repeticiones <= session.RepeticionesCompletadas {
		return nil
	}

	updates := map[string]any{"repeticiones_completadas": repeticiones}
	if repeticiones >= session.RepeticionesObjetivo {
		updates["completada"] = true
		updates["fecha_fin"] = now
	}
	if err := tx.Model(&session).Updates(updates).Error; err != nil {
		return fmt.Errorf("advance session %d: %w", session.ID, err)
	}
	return nil
}

func (s *gormStore) SetActive(ctx context.Context, numero string, activo bool, now time.Time) (model.DeviceState, error) {
	var result model.DeviceState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machine, err := getOrCreateMachine(tx, numero, "")
		if err != nil {
			return err
		}
		state, err := getOrCreateState(tx, machine.ID)
		if err != nil {
			return err
		}
		ts := liveness.UnixSeconds(now)
		if err := tx.Model(&state).Updates(map[string]any{
			"activo":           activo,
			"conectado":        true,
			"ultimo_timestamp": ts,
		}).Error; err != nil {
			return fmt.Errorf("set active for machine %q: %w", numero, err)
		}
		state.Activo = activo
		state.Conectado = true
		state.UltimoTimestamp = &ts
		result = state
		return nil
	})
	return result, err
}

func (s *gormStore) GetStateByNumero(ctx context.Context, numero string) (model.Machine, *model.DeviceState, error) {
	var machine model.Machine
	if err := s.db.WithContext(ctx).Where("numero = ?", numero).Take(&machine).Error; err != nil {
		return model.Machine{}, nil, err
	}

	var state model.DeviceState
	err := s.db.WithContext(ctx).Where("maquina_id = ?", machine.ID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return machine, nil, nil
	}
	if err != nil {
		return model.Machine{}, nil, err
	}
	return machine, &state, nil
}

func (s *gormStore) ListStatuses(ctx context.Context) ([]MachineStatus, error) {
	var machines []model.Machine
	if err := s.db.WithContext(ctx).Order("numero").Find(&machines).Error; err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}

	var states []model.DeviceState
	if err := s.db.WithContext(ctx).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	stateMap := make(map[int64]model.DeviceState, len(states))
	for _, st := range states {
		stateMap[st.MaquinaID] = st
	}

	statuses := make([]MachineStatus, 0, len(machines))
	for _, m := range machines {
		status := MachineStatus{Machine: m}
		if st, ok := stateMap[m.ID]; ok {
			status.Estado = &st
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *gormStore) EnqueueCommand(ctx context.Context, numero string, req CommandRequest, now time.Time) (model.Command, error) {
	var cmd model.Command
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machine, err := getOrCreateMachine(tx, numero, "")
		if err != nil {
			return err
		}
		modo := req.Modo
		if modo == "" {
			modo = "normal"
		}
		cmd = model.Command{
			MaquinaID:         machine.ID,
			Accion:            req.Accion,
			Grados:            req.Grados,
			Repeticiones:      req.Repeticiones,
			Modo:              modo,
			TimestampCreacion: liveness.UnixSeconds(now),
			UsuarioID:         req.UsuarioID,
		}
		if err := tx.Create(&cmd).Error; err != nil {
			return fmt.Errorf("enqueue command for machine %q: %w", numero, err)
		}
		return nil
	})
	return cmd, err
}

func (s *gormStore) ClaimNextCommand(ctx context.Context, maquinaID int64, now time.Time) (*model.Command, error) {
	var claimed *model.Command
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("maquina_id = ? AND ejecutado = ?", maquinaID, false).
			Order("timestamp_creacion ASC")
		// sqlite has no FOR UPDATE; the guarded update below covers it.
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var cmd model.Command
		err := q.First(&cmd).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch pending command for machine %d: %w", maquinaID, err)
		}

		// Guarded update: even without row locks (sqlite) two racing
		// polls cannot both flip the same command.
		ts := liveness.UnixSeconds(now)
		res := tx.Model(&model.Command{}).
			Where("id = ? AND ejecutado = ?", cmd.ID, false).
			Updates(map[string]any{
				"ejecutado":           true,
				"timestamp_ejecucion": ts,
			})
		if res.Error != nil {
			return fmt.Errorf("mark command %d executed: %w", cmd.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race; the next poll picks up the next command.
			return nil
		}
		cmd.Ejecutado = true
		cmd.TimestampEjecucion = &ts
		claimed = &cmd
		return nil
	})
	return claimed, err
}

func (s *gormStore) ReconcileConnected(ctx context.Context, maquinaID int64, conectado bool) error {
	return s.db.WithContext(ctx).Model(&model.DeviceState{}).
		Where("maquina_id = ?", maquinaID).
		Update("conectado", conectado).Error
}

func (s *gormStore) StartSession(ctx context.Context, numero string, usuarioID int64, gradosObjetivo, repeticionesObjetivo int, now time.Time) (model.TherapySession, error) {
	var session model.TherapySession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		machine, err := getOrCreateMachine(tx, numero, "")
		if err != nil {
			return err
		}
		session = model.TherapySession{
			MaquinaID:            machine.ID,
			UsuarioID:            usuarioID,
			FechaInicio:          now,
			GradosObjetivo:       gradosObjetivo,
			RepeticionesObjetivo: repeticionesObjetivo,
		}
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("start session for machine %q: %w", numero, err)
		}
		return nil
	})
	return session, err
}

func (s *gormStore) CloseSession(ctx context.Context, sessionID int64, now time.Time) (model.TherapySession, error) {
	var session model.TherapySession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&session, sessionID).Error; err != nil {
			return err
		}
		if session.FechaFin != nil {
			return nil
		}
		if err := tx.Model(&session).Update("fecha_fin", now).Error; err != nil {
			return fmt.Errorf("close session %d: %w", sessionID, err)
		}
		session.FechaFin = &now
		return nil
	})
	return session, err
}
