// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package flowcache keeps the desired flow state per (owner, table) pair.
// It implements the compiler's writer contract; reconciliation with an
// actual switch happens behind it.
package flowcache

import (
	"sort"

	"github.com/accessflow/accessflow/pkg/flow"
	"github.com/accessflow/accessflow/pkg/lock"
)

type cacheKey struct {
	owner string
	table uint8
}

// Table is an in-memory flow state cache. Writes replace the whole entry
// list for an (owner, table) pair; an empty write removes the pair.
type Table struct {
	mu          lock.RWMutex
	flows       map[cacheKey]flow.EntryList
	syncEnabled bool
}

// New returns an empty Table.
func New() *Table {
	return &Table{flows: make(map[cacheKey]flow.EntryList)}
}

// WriteFlow replaces the entries owned by (owner, table).
func (t *Table) WriteFlow(owner string, table uint8, entries flow.EntryList) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := cacheKey{owner: owner, table: table}
	if len(entries) == 0 {
		delete(t.flows, k)
		return
	}
	stored := make(flow.EntryList, len(entries))
	copy(stored, entries)
	t.flows[k] = stored
}

// ClearFlows removes the entries owned by (owner, table).
func (t *Table) ClearFlows(owner string, table uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.flows, cacheKey{owner: owner, table: table})
}

// EnableSync marks the initial state as complete.
func (t *Table) EnableSync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncEnabled = true
}

// SyncEnabled reports whether EnableSync has been called.
func (t *Table) SyncEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.syncEnabled
}

// Snapshot returns a copy of the entries owned by (owner, table).
func (t *Table) Snapshot(owner string, table uint8) flow.EntryList {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries, ok := t.flows[cacheKey{owner: owner, table: table}]
	if !ok {
		return nil
	}
	out := make(flow.EntryList, len(entries))
	copy(out, entries)
	return out
}

// Owners returns the owner keys present in the table, sorted.
func (t *Table) Owners(table uint8) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var owners []string
	for k := range t.flows {
		if k.table == table {
			owners = append(owners, k.owner)
		}
	}
	sort.Strings(owners)
	return owners
}

// CountEntries returns the total number of cached entries.
func (t *Table) CountEntries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, entries := range t.flows {
		n += len(entries)
	}
	return n
}
