// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package ctzone allocates connection-tracking zone ids for endpoints out
// of a bounded range.
package ctzone

import (
	"github.com/accessflow/accessflow/pkg/lock"
	"github.com/accessflow/accessflow/pkg/logging"
	"github.com/accessflow/accessflow/pkg/logging/logfields"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "ctzone")

// None is returned when the range is exhausted. Callers must not install
// conntrack flows with it.
const None uint16 = 0xffff

// Manager hands out zone ids in [min, max], reusing erased ids first.
type Manager struct {
	mu    lock.Mutex
	min   uint16
	max   uint16
	next  uint16
	free  []uint16
	zones map[string]uint16
}

// New returns a Manager over [min, max]. The bounds are swapped if given
// in reverse and None is excluded from the range.
func New(min, max uint16) *Manager {
	if min > max {
		min, max = max, min
	}
	if max == None {
		max = None - 1
	}
	return &Manager{
		min:   min,
		max:   max,
		next:  min,
		zones: make(map[string]uint16),
	}
}

// GetID returns the zone for key, allocating one on first use. It returns
// None when the range is exhausted.
func (m *Manager) GetID(key string) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if zone, ok := m.zones[key]; ok {
		return zone
	}
	var zone uint16
	switch {
	case len(m.free) > 0:
		zone = m.free[len(m.free)-1]
		m.free = m.free[:len(m.free)-1]
	case m.next <= m.max:
		zone = m.next
		m.next++
	default:
		log.WithField(logfields.Key, key).
			Error("Conntrack zone range exhausted")
		return None
	}
	m.zones[key] = zone
	return zone
}

// Erase releases the zone held by key.
func (m *Manager) Erase(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	zone, ok := m.zones[key]
	if !ok {
		return
	}
	delete(m.zones, key)
	m.free = append(m.free, zone)
}

// Size returns the number of allocated zones.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.zones)
}
