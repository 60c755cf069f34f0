package statecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMirror(t *testing.T) {
	m := New()

	_, found := m.Get("M1")
	assert.False(t, found)

	m.Set(Snapshot{Numero: "M1", Activo: true, GradosActuales: 45, Repeticiones: 3, UltimoTimestamp: 100})
	snap, found := m.Get("M1")
	assert.True(t, found)
	assert.Equal(t, 45, snap.GradosActuales)

	// Overwrite replaces the whole snapshot.
	m.Set(Snapshot{Numero: "M1", GradosActuales: 90})
	snap, _ = m.Get("M1")
	assert.Equal(t, 90, snap.GradosActuales)
	assert.False(t, snap.Activo)

	m.Flush()
	_, found = m.Get("M1")
	assert.False(t, found)
}
