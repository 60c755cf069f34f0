package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"rehab-sync-backend/internal/db"
	"rehab-sync-backend/internal/model"
	"rehab-sync-backend/internal/mw"
	"rehab-sync-backend/internal/statecache"
	"rehab-sync-backend/internal/store"
)

const testDeviceToken = "secreto-esp32"

type testEnv struct {
	router  *gin.Engine
	store   store.Store
	mirror  *statecache.Mirror
	handler *Handler
}

// newTestEnv wires the device and dashboard handlers over an in-memory
// database, without the credential middleware that router_test covers.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(testDB))

	s := store.NewGormStore(testDB)
	mirror := statecache.New()
	handler := NewHandler(s, mirror, 60*time.Second, nil)

	r := gin.New()
	r.POST("/api/device/telemetry", mw.DeviceToken(testDeviceToken), handler.PostTelemetry)
	r.GET("/api/device/command", handler.PollCommand)
	r.GET("/api/device/state", handler.GetState)
	r.POST("/api/device/state", handler.PostState)
	r.GET("/api/maquinas", handler.GetMachines)
	r.POST("/api/comandos", handler.EnqueueCommand)

	return &testEnv{router: r, store: s, mirror: mirror, handler: handler}
}

func (env *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) postTelemetry(nombre string, activo bool, grados, reps int) *httptest.ResponseRecorder {
	return env.do(http.MethodPost, "/api/device/telemetry", testDeviceToken, gin.H{
		"nombre":          nombre,
		"activo":          activo,
		"grados_actuales": grados,
		"repeticiones":    reps,
	})
}

func TestTelemetryRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing token", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/device/telemetry", "", gin.H{"nombre": "M1"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "error")
	})

	t.Run("wrong token", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/device/telemetry", "equivocado", gin.H{"nombre": "M1"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	// A rejected report must not create anything.
	var machines int64
	env.store.DB().Model(&model.Machine{}).Count(&machines)
	assert.Equal(t, int64(0), machines)
	_, found := env.mirror.Get("M1")
	assert.False(t, found)
}

func TestTelemetryValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/device/telemetry", strings.NewReader("{no es json"))
		req.Header.Set("Authorization", "Token "+testDeviceToken)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing nombre", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/device/telemetry", testDeviceToken, gin.H{"activo": true})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "nombre")
	})
}

func TestTelemetryIngest(t *testing.T) {
	env := newTestEnv(t)

	w := env.postTelemetry("M1", true, 45, 3)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status      string              `json:"status"`
		Nombre      string              `json:"nombre"`
		NuevoEstado statecache.Snapshot `json:"nuevo_estado"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "M1", resp.Nombre)
	assert.Equal(t, 45, resp.NuevoEstado.GradosActuales)
	assert.NotZero(t, resp.NuevoEstado.UltimoTimestamp)

	// Mirror and durable record both see the write.
	snap, found := env.mirror.Get("M1")
	require.True(t, found)
	assert.Equal(t, 3, snap.Repeticiones)

	_, state, err := env.store.GetStateByNumero(context.Background(), "M1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 45, state.GradosActuales)
	assert.True(t, state.Activo)

	// Retransmission changes nothing but the timestamp.
	first := snap.UltimoTimestamp
	w = env.postTelemetry("M1", true, 45, 3)
	require.Equal(t, http.StatusOK, w.Code)
	snap, _ = env.mirror.Get("M1")
	assert.Equal(t, 45, snap.GradosActuales)
	assert.Equal(t, 3, snap.Repeticiones)
	assert.GreaterOrEqual(t, snap.UltimoTimestamp, first)
}

func TestPollUnknownMachine(t *testing.T) {
	env := newTestEnv(t)

	// Scenario: a machine that never reported polls for work.
	w := env.do(http.MethodGet, "/api/device/command?numero=M1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp["accion"])

	// The poll lazily registered the machine but queued nothing.
	var commands int64
	env.store.DB().Model(&model.Command{}).Count(&commands)
	assert.Equal(t, int64(0), commands)
	var machines int64
	env.store.DB().Model(&model.Machine{}).Count(&machines)
	assert.Equal(t, int64(1), machines)
}

func TestPollMissingNumero(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/api/device/command", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommandRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/comandos", "", gin.H{
		"maquina":      "M1",
		"accion":       "iniciar",
		"grados":       90,
		"repeticiones": 10,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	// The device polls and receives the queued command.
	w = env.do(http.MethodGet, "/api/device/command?numero=M1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Accion       *string `json:"accion"`
		Grados       *int    `json:"grados"`
		Repeticiones *int    `json:"repeticiones"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Accion)
	assert.Equal(t, "iniciar", *resp.Accion)
	require.NotNil(t, resp.Grados)
	assert.Equal(t, 90, *resp.Grados)

	// The pending -> executed transition is persisted.
	var cmd model.Command
	require.NoError(t, env.store.DB().First(&cmd).Error)
	assert.True(t, cmd.Ejecutado)
	require.NotNil(t, cmd.TimestampEjecucion)

	// An immediate second poll receives nothing.
	w = env.do(http.MethodGet, "/api/device/command?numero=M1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Nil(t, second["accion"])
}

func TestCommandsDeliveredInCreationOrder(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now()

	// Distinct creation instants via the injectable clock.
	for i, accion := range []string{"iniciar", "pausar", "detener"} {
		at := base.Add(time.Duration(i) * time.Second)
		env.handler.now = func() time.Time { return at }
		w := env.do(http.MethodPost, "/api/comandos", "", gin.H{"maquina": "M1", "accion": accion})
		require.Equal(t, http.StatusOK, w.Code)
	}

	env.handler.now = time.Now
	for _, want := range []string{"iniciar", "pausar", "detener"} {
		w := env.do(http.MethodGet, "/api/device/command?numero=M1", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Accion *string `json:"accion"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Accion)
		assert.Equal(t, want, *resp.Accion)
	}
}

func TestEnqueueValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing maquina", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/comandos", "", gin.H{"accion": "iniciar"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown accion", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/comandos", "", gin.H{"maquina": "M1", "accion": "despegar"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStateLivenessWindow(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now()

	// T=0: the device reports.
	env.handler.now = func() time.Time { return base }
	w := env.postTelemetry("M1", true, 45, 3)
	require.Equal(t, http.StatusOK, w.Code)

	readState := func() stateResponse {
		w := env.do(http.MethodGet, "/api/device/state?numero=M1", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp stateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	// T=30: still connected.
	env.handler.now = func() time.Time { return base.Add(30 * time.Second) }
	resp := readState()
	assert.True(t, resp.Conectado)
	assert.Equal(t, 45, resp.GradosActuales)

	// T=90: stale, but the telemetry values survive.
	env.handler.now = func() time.Time { return base.Add(90 * time.Second) }
	resp = readState()
	assert.False(t, resp.Conectado)
	assert.Equal(t, 45, resp.GradosActuales)
	assert.Equal(t, 3, resp.Repeticiones)
	assert.True(t, resp.Activo)
}

func TestStateMirrorRebuildAfterRestart(t *testing.T) {
	env := newTestEnv(t)

	w := env.postTelemetry("M1", true, 45, 3)
	require.Equal(t, http.StatusOK, w.Code)

	// Simulate a process restart: the mirror is gone, the durable record
	// is not.
	env.mirror.Flush()

	w = env.do(http.MethodGet, "/api/device/state?numero=M1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp stateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 45, resp.GradosActuales)
	assert.True(t, resp.Conectado)

	// The read repopulated the mirror.
	snap, found := env.mirror.Get("M1")
	assert.True(t, found)
	assert.Equal(t, 45, snap.GradosActuales)
}

func TestStateUnknownMachineDefaults(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/device/state?numero=fantasma", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp stateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Activo)
	assert.False(t, resp.Conectado)
	assert.Zero(t, resp.GradosActuales)
	assert.Zero(t, resp.Repeticiones)
}

func TestStateWrite(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/device/state", "", gin.H{"numero": "M1", "estado": true})
	require.Equal(t, http.StatusOK, w.Code)
	var resp stateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Activo)
	assert.True(t, resp.Conectado)

	// Durable record agrees.
	_, state, err := env.store.GetStateByNumero(context.Background(), "M1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Activo)

	t.Run("missing numero", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/device/state", "", gin.H{"estado": true})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMachineListing(t *testing.T) {
	env := newTestEnv(t)

	w := env.postTelemetry("M1", true, 45, 3)
	require.Equal(t, http.StatusOK, w.Code)
	_, err := env.store.GetOrCreateMachine(context.Background(), "M2", "10.0.0.9")
	require.NoError(t, err)

	w = env.do(http.MethodGet, "/api/maquinas", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Maquinas []machineStatusEntry `json:"maquinas"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Maquinas, 2)

	byNumero := map[string]machineStatusEntry{}
	for _, m := range resp.Maquinas {
		byNumero[m.Numero] = m
	}
	assert.True(t, byNumero["M1"].Conectado)
	assert.Equal(t, 45, byNumero["M1"].GradosActuales)
	assert.False(t, byNumero["M2"].Conectado, "machine without telemetry is disconnected")
	assert.Equal(t, "10.0.0.9", byNumero["M2"].IP)
}

func TestMachineListingPrefersMirror(t *testing.T) {
	env := newTestEnv(t)

	w := env.postTelemetry("M1", false, 10, 1)
	require.Equal(t, http.StatusOK, w.Code)

	// A fresher mirror entry (e.g. the durable write lagged) wins.
	snap, _ := env.mirror.Get("M1")
	snap.GradosActuales = 77
	env.mirror.Set(snap)

	w = env.do(http.MethodGet, "/api/maquinas", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Maquinas []machineStatusEntry `json:"maquinas"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Maquinas, 1)
	assert.Equal(t, 77, resp.Maquinas[0].GradosActuales)
}
