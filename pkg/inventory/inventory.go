// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package inventory is an in-memory store of endpoints, security group
// policy, learning bridge interfaces and port mappings. It implements the
// compiler's source interfaces; external feeds populate it.
package inventory

import (
	"sort"

	"github.com/accessflow/accessflow/pkg/endpoint"
	"github.com/accessflow/accessflow/pkg/lock"
	"github.com/accessflow/accessflow/pkg/policy"
)

// LBIface is a learning bridge interface bound to an integration
// interface with a set of trunked VLAN ranges.
type LBIface struct {
	UUID          string
	InterfaceName string
	TrunkVlans    []endpoint.VlanRange
}

// Store holds the agent's view of its configuration inputs.
type Store struct {
	mu        lock.RWMutex
	endpoints map[string]*endpoint.Endpoint
	rules     map[string][]*policy.Rule
	lbIfaces  map[string]*LBIface
	ports     map[string]uint32
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		endpoints: make(map[string]*endpoint.Endpoint),
		rules:     make(map[string][]*policy.Rule),
		lbIfaces:  make(map[string]*LBIface),
		ports:     make(map[string]uint32),
	}
}

// SetEndpoint inserts or replaces an endpoint.
func (s *Store) SetEndpoint(ep *endpoint.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.UUID] = ep
}

// RemoveEndpoint deletes an endpoint.
func (s *Store) RemoveEndpoint(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.endpoints, uuid)
}

// SetSecGroup inserts or replaces a security group's ordered rule list.
func (s *Store) SetSecGroup(groupURI string, rules []*policy.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[groupURI] = rules
}

// RemoveSecGroup deletes a security group.
func (s *Store) RemoveSecGroup(groupURI string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, groupURI)
}

// SetLBIface inserts or replaces a learning bridge interface.
func (s *Store) SetLBIface(iface *LBIface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lbIfaces[iface.UUID] = iface
}

// RemoveLBIface deletes a learning bridge interface.
func (s *Store) RemoveLBIface(uuid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lbIfaces, uuid)
}

// SetPort maps an interface name to a datapath port number.
func (s *Store) SetPort(iface string, port uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[iface] = port
}

// RemovePort drops an interface's port mapping.
func (s *Store) RemovePort(iface string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ports, iface)
}

// FindPort implements accessflow.PortMapper.
func (s *Store) FindPort(iface string) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	port, ok := s.ports[iface]
	return port, ok
}

// GetEndpoint implements accessflow.EndpointSource.
func (s *Store) GetEndpoint(uuid string) *endpoint.Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoints[uuid]
}

func (s *Store) endpointsWhere(match func(*endpoint.Endpoint) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var uuids []string
	for uuid, ep := range s.endpoints {
		if match(ep) {
			uuids = append(uuids, uuid)
		}
	}
	sort.Strings(uuids)
	return uuids
}

// GetEndpointsByAccessIface implements accessflow.EndpointSource.
func (s *Store) GetEndpointsByAccessIface(iface string) []string {
	return s.endpointsWhere(func(ep *endpoint.Endpoint) bool {
		return ep.AccessInterface == iface
	})
}

// GetEndpointsByAccessUplink implements accessflow.EndpointSource.
func (s *Store) GetEndpointsByAccessUplink(iface string) []string {
	return s.endpointsWhere(func(ep *endpoint.Endpoint) bool {
		return ep.AccessUplinkInterface == iface
	})
}

// GetEndpointsByIface implements accessflow.EndpointSource.
func (s *Store) GetEndpointsByIface(iface string) []string {
	return s.endpointsWhere(func(ep *endpoint.Endpoint) bool {
		return ep.InterfaceName == iface
	})
}

// SecGroupSetEmpty implements accessflow.EndpointSource: true when no
// endpoint carries exactly this group set.
func (s *Store) SecGroupSetEmpty(groups []string) bool {
	id := policy.SecGroupSetID(groups)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ep := range s.endpoints {
		if policy.SecGroupSetID(ep.SecurityGroups) == id {
			return false
		}
	}
	return true
}

// SecGroupSetsForGroup implements accessflow.EndpointSource: the distinct
// live sets referencing the group.
func (s *Store) SecGroupSetsForGroup(groupURI string) [][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string][]string)
	for _, ep := range s.endpoints {
		found := false
		for _, g := range ep.SecurityGroups {
			if g == groupURI {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		id := policy.SecGroupSetID(ep.SecurityGroups)
		if _, ok := seen[id]; !ok {
			seen[id] = policy.SplitSecGroupSetID(id)
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sets := make([][]string, 0, len(ids))
	for _, id := range ids {
		sets = append(sets, seen[id])
	}
	return sets
}

// SecGroupRules implements accessflow.PolicySource.
func (s *Store) SecGroupRules(groupURI string) []*policy.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules[groupURI]
}

// HasSecGroup implements accessflow.PolicySource.
func (s *Store) HasSecGroup(groupURI string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rules[groupURI]
	return ok
}

// LBIfacesByIface implements accessflow.LearningBridgeSource.
func (s *Store) LBIfacesByIface(iface string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var uuids []string
	for uuid, lbi := range s.lbIfaces {
		if lbi.InterfaceName == iface {
			uuids = append(uuids, uuid)
		}
	}
	sort.Strings(uuids)
	return uuids
}

// InterfaceName implements accessflow.LearningBridgeSource.
func (s *Store) InterfaceName(lbIfaceUUID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lbi, ok := s.lbIfaces[lbIfaceUUID]
	if !ok {
		return "", false
	}
	return lbi.InterfaceName, true
}

// TrunkVlans implements accessflow.LearningBridgeSource.
func (s *Store) TrunkVlans(lbIfaceUUID string) []endpoint.VlanRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lbi, ok := s.lbIfaces[lbIfaceUUID]
	if !ok {
		return nil
	}
	return lbi.TrunkVlans
}
