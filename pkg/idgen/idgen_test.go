// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetIDAllocatesFromOne(t *testing.T) {
	g := New()
	assert.Equal(t, uint32(1), g.GetID(NamespaceSecGroupSet, "a"))
	assert.Equal(t, uint32(2), g.GetID(NamespaceSecGroupSet, "b"))
	// Stable on repeat.
	assert.Equal(t, uint32(1), g.GetID(NamespaceSecGroupSet, "a"))
}

func TestNamespacesAreIndependent(t *testing.T) {
	g := New()
	assert.Equal(t, uint32(1), g.GetID(NamespaceSecGroup, "x"))
	assert.Equal(t, uint32(1), g.GetID(NamespaceSecGroupSet, "x"))
}

func TestEraseAndReuse(t *testing.T) {
	g := New()
	a := g.GetID(NamespaceSecGroup, "a")
	g.GetID(NamespaceSecGroup, "b")
	g.Erase(NamespaceSecGroup, "a")

	_, ok := g.LookupID(NamespaceSecGroup, "a")
	assert.False(t, ok)

	// The freed id is reused before the counter advances.
	assert.Equal(t, a, g.GetID(NamespaceSecGroup, "c"))
	assert.Equal(t, uint32(3), g.GetID(NamespaceSecGroup, "d"))
}

func TestCollectGarbage(t *testing.T) {
	g := New()
	g.GetID(NamespaceSecGroupSet, "keep")
	g.GetID(NamespaceSecGroupSet, "drop1")
	g.GetID(NamespaceSecGroupSet, "drop2")

	dead := g.CollectGarbage(NamespaceSecGroupSet, func(key string) bool {
		return key == "keep"
	})
	require.Equal(t, []string{"drop1", "drop2"}, dead)
	assert.Equal(t, 1, g.Size(NamespaceSecGroupSet))
	_, ok := g.LookupID(NamespaceSecGroupSet, "keep")
	assert.True(t, ok)
}

func TestCollectGarbageUnknownNamespace(t *testing.T) {
	g := New()
	assert.Nil(t, g.CollectGarbage("nope", func(string) bool { return true }))
}
