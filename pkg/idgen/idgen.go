// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package idgen allocates stable numeric ids for string identities,
// partitioned into namespaces. Ids start at 1 within each namespace; 0 is
// never handed out so callers can use it as "unset".
package idgen

import (
	"sort"

	"github.com/accessflow/accessflow/pkg/lock"
	"github.com/accessflow/accessflow/pkg/logging"
	"github.com/accessflow/accessflow/pkg/logging/logfields"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "idgen")

// Namespaces used by the agent.
const (
	NamespaceSecGroup     = "secGroup"
	NamespaceSecGroupSet  = "secGroupSet"
	NamespaceL24ClassRule = "l24classifierRule"
)

type namespace struct {
	ids  map[string]uint32
	free []uint32
	next uint32
}

// Generator hands out per-namespace numeric ids. Erased ids return to a
// free list and are reused before the counter advances.
type Generator struct {
	mu         lock.Mutex
	namespaces map[string]*namespace
}

// New returns an empty Generator.
func New() *Generator {
	return &Generator{namespaces: make(map[string]*namespace)}
}

// InitNamespace creates the namespace if it does not exist yet.
func (g *Generator) InitNamespace(ns string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.namespace(ns)
}

func (g *Generator) namespace(ns string) *namespace {
	n, ok := g.namespaces[ns]
	if !ok {
		n = &namespace{ids: make(map[string]uint32), next: 1}
		g.namespaces[ns] = n
	}
	return n
}

// GetID returns the id for key in ns, allocating one on first use.
func (g *Generator) GetID(ns, key string) uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.namespace(ns)
	if id, ok := n.ids[key]; ok {
		return id
	}
	var id uint32
	if len(n.free) > 0 {
		id = n.free[len(n.free)-1]
		n.free = n.free[:len(n.free)-1]
	} else {
		id = n.next
		n.next++
	}
	n.ids[key] = id
	log.WithField(logfields.ObjID, id).WithField(logfields.Key, key).
		Debug("Allocated id")
	return id
}

// LookupID returns the id for key in ns without allocating.
func (g *Generator) LookupID(ns, key string) (uint32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.namespaces[ns]
	if !ok {
		return 0, false
	}
	id, ok := n.ids[key]
	return id, ok
}

// Erase releases the id held by key in ns.
func (g *Generator) Erase(ns, key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.namespaces[ns]
	if !ok {
		return
	}
	id, ok := n.ids[key]
	if !ok {
		return
	}
	delete(n.ids, key)
	n.free = append(n.free, id)
}

// Size returns the number of allocated ids in ns.
func (g *Generator) Size(ns string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.namespaces[ns]
	if !ok {
		return 0
	}
	return len(n.ids)
}

// CollectGarbage releases every id in ns whose key the live callback
// rejects and returns the erased keys in sorted order.
func (g *Generator) CollectGarbage(ns string, live func(key string) bool) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.namespaces[ns]
	if !ok {
		return nil
	}
	var dead []string
	for key := range n.ids {
		if !live(key) {
			dead = append(dead, key)
		}
	}
	sort.Strings(dead)
	for _, key := range dead {
		n.free = append(n.free, n.ids[key])
		delete(n.ids, key)
	}
	return dead
}
