// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package accessflow

import (
	"github.com/accessflow/accessflow/pkg/endpoint"
	"github.com/accessflow/accessflow/pkg/flow"
	"github.com/accessflow/accessflow/pkg/policy"
)

// FlowWriter is the table-synchronization collaborator. Every entry list
// written under an (owner, table) pair atomically replaces the previous
// list for that pair; writing an empty list is equivalent to ClearFlows.
type FlowWriter interface {
	WriteFlow(owner string, table uint8, entries flow.EntryList)
	ClearFlows(owner string, table uint8)
	// EnableSync signals that the initial configuration has been
	// processed and reconciliation with the datapath may begin.
	EnableSync()
}

// PortMapper resolves interface names to datapath port numbers.
type PortMapper interface {
	FindPort(ifaceName string) (uint32, bool)
}

// EndpointSource provides read access to the endpoint inventory.
type EndpointSource interface {
	// GetEndpoint returns the endpoint or nil when it no longer exists.
	GetEndpoint(uuid string) *endpoint.Endpoint
	// GetEndpointsByAccessIface returns uuids of endpoints whose access
	// interface is the named port.
	GetEndpointsByAccessIface(iface string) []string
	// GetEndpointsByAccessUplink returns uuids of endpoints whose uplink
	// interface is the named port.
	GetEndpointsByAccessUplink(iface string) []string
	// GetEndpointsByIface returns uuids of endpoints on the integration
	// interface.
	GetEndpointsByIface(iface string) []string
	// SecGroupSetEmpty reports whether no live endpoint references the
	// given group set.
	SecGroupSetEmpty(groups []string) bool
	// SecGroupSetsForGroup returns every live set referencing the group.
	SecGroupSetsForGroup(groupURI string) [][]string
}

// PolicySource provides read access to security group policy.
type PolicySource interface {
	// SecGroupRules returns the ordered rule list of the group.
	SecGroupRules(groupURI string) []*policy.Rule
	// HasSecGroup reports whether the group still exists.
	HasSecGroup(groupURI string) bool
}

// LearningBridgeSource provides read access to learning bridge
// interfaces and their trunked VLAN ranges.
type LearningBridgeSource interface {
	// LBIfacesByIface returns uuids of learning bridge interfaces bound
	// to the integration interface.
	LBIfacesByIface(iface string) []string
	// InterfaceName returns the integration interface of the learning
	// bridge interface.
	InterfaceName(lbIfaceUUID string) (string, bool)
	// TrunkVlans returns the trunked VLAN ranges of the learning bridge
	// interface.
	TrunkVlans(lbIfaceUUID string) []endpoint.VlanRange
}

// IDGenerator allocates stable numeric ids for string identities.
type IDGenerator interface {
	InitNamespace(ns string)
	GetID(ns, key string) uint32
	Erase(ns, key string)
	Size(ns string) int
	CollectGarbage(ns string, live func(key string) bool) []string
}

// CtZoneAllocator allocates conntrack zones per endpoint.
type CtZoneAllocator interface {
	GetID(key string) uint16
	Erase(key string)
}
