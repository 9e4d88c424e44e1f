// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package accessflow compiles endpoint and security group state into the
// access bridge flow pipeline.
package accessflow

import (
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/accessflow/accessflow/pkg/idgen"
	"github.com/accessflow/accessflow/pkg/lock"
	"github.com/accessflow/accessflow/pkg/logging"
	"github.com/accessflow/accessflow/pkg/logging/logfields"
	"github.com/accessflow/accessflow/pkg/metrics"
	"github.com/accessflow/accessflow/pkg/option"
	"github.com/accessflow/accessflow/pkg/policy"
	"github.com/accessflow/accessflow/pkg/taskqueue"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "accessflow")

// systemSecGroupSuffix marks the security group holding system rules.
const systemSecGroupSuffix = "_SystemSecurityGroup"

// Manager owns the access bridge pipeline: it reacts to endpoint, policy,
// port and drop-log configuration changes and rewrites the affected flow
// owner keys. All recomputation runs on the task queue, keyed so that
// updates for one object are serialized and superseded updates collapse.
type Manager struct {
	flows     FlowWriter
	ports     PortMapper
	endpoints EndpointSource
	policies  PolicySource
	lbs       LearningBridgeSource
	idGen     IDGenerator
	ctZones   CtZoneAllocator
	queue     *taskqueue.Queue

	conntrackEnabled         bool
	addL34FlowsWithoutSubnet bool
	policyDomain             string

	// mu guards the drop-log punt configuration.
	mu                lock.Mutex
	dropLogIface      string
	dropLogDst        netip.Addr
	dropLogRemotePort uint16

	stopping atomic.Bool
}

// New wires a Manager to its collaborators. Start must be called before
// any update is delivered.
func New(cfg *option.Config, flows FlowWriter, ports PortMapper,
	endpoints EndpointSource, policies PolicySource,
	lbs LearningBridgeSource, idGen IDGenerator,
	ctZones CtZoneAllocator) *Manager {

	return &Manager{
		flows:                    flows,
		ports:                    ports,
		endpoints:                endpoints,
		policies:                 policies,
		lbs:                      lbs,
		idGen:                    idGen,
		ctZones:                  ctZones,
		queue:                    taskqueue.New(cfg.WorkerCount),
		conntrackEnabled:         cfg.ConnTrackEnabled,
		addL34FlowsWithoutSubnet: cfg.AddL34FlowsWithoutSubnet,
		policyDomain:             cfg.PolicyDomain,
	}
}

// Start initializes the id namespaces and writes the static pipeline
// flows.
func (m *Manager) Start() {
	m.idGen.InitNamespace(idgen.NamespaceSecGroup)
	m.idGen.InitNamespace(idgen.NamespaceSecGroupSet)
	m.idGen.InitNamespace(idgen.NamespaceL24ClassRule)
	m.createStaticFlows()
}

// Stop rejects further updates and drains the task queue.
func (m *Manager) Stop() {
	m.stopping.Store(true)
	m.queue.Stop()
}

// WaitIdle blocks until all dispatched work has completed. Intended for
// tests and shutdown sequencing.
func (m *Manager) WaitIdle() {
	m.queue.WaitIdle()
}

// EndpointUpdated schedules recomputation of the endpoint's flows.
func (m *Manager) EndpointUpdated(uuid string) {
	if m.stopping.Load() {
		return
	}
	m.queue.Dispatch(uuid, func() { m.handleEndpointUpdate(uuid) })
}

// SecGroupSetUpdated schedules recomputation of the set's policy flows.
func (m *Manager) SecGroupSetUpdated(groups []string) {
	if m.stopping.Load() {
		return
	}
	id := policy.SecGroupSetID(groups)
	sorted := policy.SplitSecGroupSetID(id)
	m.queue.Dispatch("set:"+id, func() { m.handleSecGrpSetUpdate(sorted, id) })
}

// SecGroupUpdated fans a security group change out to every set that
// references the group.
func (m *Manager) SecGroupUpdated(groupURI string) {
	if m.stopping.Load() {
		return
	}
	m.queue.Dispatch("secgrp:"+groupURI, func() {
		for _, set := range m.endpoints.SecGroupSetsForGroup(groupURI) {
			m.SecGroupSetUpdated(set)
		}
	})
}

// DscpQosUpdated schedules recomputation of the interface's DSCP marking
// flows.
func (m *Manager) DscpQosUpdated(iface string, dscp uint8) {
	if m.stopping.Load() {
		return
	}
	m.queue.Dispatch(iface, func() { m.handleDscpQosUpdate(iface, dscp) })
}

// PortStatusUpdated reacts to a datapath port appearing, disappearing or
// changing number by recomputing every object that references it.
func (m *Manager) PortStatusUpdated(portName string, portNo uint32) {
	if m.stopping.Load() {
		return
	}
	m.queue.Dispatch("port:"+portName, func() {
		m.handlePortStatusUpdate(portName, portNo)
	})
}

// LBIfaceUpdated reacts to a learning bridge interface change by
// recomputing the endpoints sharing its integration interface.
func (m *Manager) LBIfaceUpdated(lbIfaceUUID string) {
	if m.stopping.Load() {
		return
	}
	m.queue.Dispatch("lbiface:"+lbIfaceUUID, func() {
		iface, ok := m.lbs.InterfaceName(lbIfaceUUID)
		if !ok || iface == "" {
			return
		}
		for _, uuid := range m.endpoints.GetEndpointsByIface(iface) {
			m.EndpointUpdated(uuid)
		}
	})
}

// ConfigUpdated marks the initial configuration as processed and lets the
// sync layer reconcile.
func (m *Manager) ConfigUpdated() {
	if m.stopping.Load() {
		return
	}
	m.flows.EnableSync()
}

// SetDropLog configures the drop-log punt interface and its tunnel
// destination. Only IPv4 destinations are supported.
func (m *Manager) SetDropLog(iface, remoteIP string, remotePort uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLogIface = iface
	dst, err := netip.ParseAddr(remoteIP)
	switch {
	case err != nil:
		log.WithError(err).WithField(logfields.Address, remoteIP).
			Error("Invalid drop-log tunnel destination")
	case dst.Is6():
		log.WithField(logfields.Address, remoteIP).
			Error("IPv6 drop-log tunnel destinations are not supported")
	default:
		m.dropLogDst = dst
		log.WithField(logfields.Interface, iface).
			WithField(logfields.Address, remoteIP).
			WithField(logfields.Port, remotePort).
			Info("Drop-log port configured")
	}
	m.dropLogRemotePort = remotePort
}

func (m *Manager) handlePortStatusUpdate(portName string, _ uint32) {
	log.WithField(logfields.Port, portName).Debug("Port-status update")
	seen := make(map[string]struct{})
	for _, uuid := range m.endpoints.GetEndpointsByAccessIface(portName) {
		seen[uuid] = struct{}{}
	}
	for _, uuid := range m.endpoints.GetEndpointsByAccessUplink(portName) {
		seen[uuid] = struct{}{}
	}
	for uuid := range seen {
		m.EndpointUpdated(uuid)
	}

	m.mu.Lock()
	isDropLogPort := portName == m.dropLogIface
	m.mu.Unlock()
	if isDropLogPort {
		m.handleDropLogPortUpdate()
	}
}

// isSystemSecurityGroup reports whether the group URI names the system
// security group of the configured policy domain. The domain encodes the
// controller name in its third path segment; its last dash-separated part
// prefixes the group name.
func (m *Manager) isSystemSecurityGroup(groupURI string) bool {
	name := systemSecGroupSuffix
	parts := strings.Split(m.policyDomain, "/")
	if len(parts) == 4 {
		ctrlrParts := strings.Split(parts[2], "-")
		if len(ctrlrParts) == 3 {
			name = ctrlrParts[2] + systemSecGroupSuffix
		}
	}
	return strings.Contains(groupURI, name)
}

// Cleanup drops ids whose identities are no longer referenced. Run
// periodically by the agent driver.
func (m *Manager) Cleanup() {
	m.idGen.CollectGarbage(idgen.NamespaceSecGroup, m.policies.HasSecGroup)
	dead := m.idGen.CollectGarbage(idgen.NamespaceSecGroupSet,
		func(id string) bool {
			groups := policy.SplitSecGroupSetID(id)
			// The empty set identity is permanently live.
			if len(groups) == 0 {
				return true
			}
			return !m.endpoints.SecGroupSetEmpty(groups)
		})
	for _, id := range dead {
		log.WithField(logfields.SecGroupSet, id).
			Debug("Released unreferenced security-group set id")
	}
	metrics.SecGroupSetIDs.Set(float64(m.idGen.Size(idgen.NamespaceSecGroupSet)))
}
