// Package statecache holds the in-memory mirror of last-known device
// state. The mirror is a latency optimization, not a source of truth:
// the durable DeviceState row is authoritative, and a missing mirror
// entry (fresh process, evicted nothing — entries live for the process
// lifetime) is repopulated from the durable record by the caller.
package statecache

import (
	"github.com/patrickmn/go-cache"
)

// Snapshot is one machine's last-known state as reported over the wire.
type Snapshot struct {
	Numero          string  `json:"nombre"`
	Activo          bool    `json:"activo"`
	GradosActuales  int     `json:"grados_actuales"`
	Repeticiones    int     `json:"repeticiones"`
	UltimoTimestamp float64 `json:"ultimo_timestamp"`
}

// Mirror is the process-wide device state cache, keyed by machine label.
type Mirror struct {
	c *cache.Cache
}

// New creates an empty mirror. Entries never expire.
func New() *Mirror {
	return &Mirror{c: cache.New(cache.NoExpiration, 0)}
}

// Get returns the snapshot for a machine, if the mirror has one.
func (m *Mirror) Get(numero string) (Snapshot, bool) {
	v, found := m.c.Get(numero)
	if !found {
		return Snapshot{}, false
	}
	return v.(Snapshot), true
}

// Set stores the snapshot for its machine.
func (m *Mirror) Set(s Snapshot) {
	m.c.Set(s.Numero, s, cache.NoExpiration)
}

// Flush drops every entry. Used by tests to simulate a process restart.
func (m *Mirror) Flush() {
	m.c.Flush()
}
