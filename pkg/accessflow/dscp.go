// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package accessflow

import (
	"github.com/accessflow/accessflow/pkg/flow"
	"github.com/accessflow/accessflow/pkg/logging/logfields"
	"github.com/accessflow/accessflow/pkg/metrics"
)

// dscpPriority puts the marking entries ahead of everything else in the
// classification table.
const dscpPriority = 65535

// handleDscpQosUpdate rewrites the DSCP marking entries for one
// interface. A zero code point removes them.
func (m *Manager) handleDscpQosUpdate(iface string, dscp uint8) {
	metrics.Recomputations.WithLabelValues(metrics.KindDscp).Inc()
	ownerV4 := iface + "ipv4"
	ownerV6 := iface + "ipv6"
	m.flows.ClearFlows(ownerV4, DropLogTableID)
	m.flows.ClearFlows(ownerV6, DropLogTableID)

	if dscp == 0 {
		return
	}

	port, ok := m.ports.FindPort(iface)
	if !ok {
		log.WithField(logfields.Interface, iface).
			Warn("Skipping DSCP flows for unresolved interface")
		return
	}
	log.WithField(logfields.Interface, iface).
		WithField(logfields.DSCP, dscp).Debug("Adding DSCP flows")

	mark := func(owner string, ethType uint16) {
		var markFlows flow.EntryList
		b := flow.NewBuilder()
		b.Table(DropLogTableID).Priority(dscpPriority).
			EthType(ethType).InPort(port)
		b.Action().
			SetDscp(dscp).
			Resubmit(port, ServiceBypassTableID)
		b.BuildInto(&markFlows)
		m.writeFlows(owner, DropLogTableID, markFlows)
	}
	mark(ownerV4, flow.EthTypeIP)
	mark(ownerV6, flow.EthTypeIPv6)
}
