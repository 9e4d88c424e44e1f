// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package accessflow

import (
	"encoding/binary"
	"net/netip"

	"github.com/accessflow/accessflow/pkg/flow"
	"github.com/accessflow/accessflow/pkg/logging/logfields"
	"github.com/accessflow/accessflow/pkg/metrics"
)

// DropLogMode selects which dropped packets are captured.
type DropLogMode uint8

const (
	// DropLogModeUnfiltered captures every dropped packet.
	DropLogModeUnfiltered DropLogMode = iota
	// DropLogModeFiltered captures only packets matching installed drop
	// flow filters.
	DropLogModeFiltered
)

// DropLogConfig is the global drop-log switch.
type DropLogConfig struct {
	Enable bool
	Mode   DropLogMode
}

// DropFlowSpec is one drop-log filter: only fields with their Set flag
// raised are matched. Addresses are textual and skipped when
// unparseable.
type DropFlowSpec struct {
	EthType    uint16
	EthTypeSet bool

	InnerSrc string
	InnerDst string
	OuterSrc string
	OuterDst string

	TunnelID    uint64
	TunnelIDSet bool

	IPProto    uint8
	IPProtoSet bool

	SrcPort    uint16
	SrcPortSet bool
	DstPort    uint16
	DstPortSet bool
}

// handleDropLogPortUpdate rewrites the capture-table punt entry against
// the currently resolved drop-log port.
func (m *Manager) handleDropLogPortUpdate() {
	metrics.Recomputations.WithLabelValues(metrics.KindDropLog).Inc()
	m.mu.Lock()
	iface := m.dropLogIface
	dst := m.dropLogDst
	m.mu.Unlock()

	if iface == "" || !dst.Is4() {
		m.flows.ClearFlows(ownerStatic, ExpDropTableID)
		log.WithField(logfields.Interface, iface).
			Warn("Ignoring drop-log port")
		return
	}
	port, ok := m.ports.FindPort(iface)
	if !ok {
		// A previously installed entry would output to a stale port
		// number.
		m.flows.ClearFlows(ownerStatic, ExpDropTableID)
		log.WithField(logfields.Interface, iface).
			Warn("Drop-log port not resolved, clearing punt entry")
		return
	}

	dstBytes := dst.As4()
	var puntFlows flow.EntryList
	b := flow.NewBuilder()
	b.Table(ExpDropTableID).Priority(0).
		Metadata(flow.MetaDropLog, flow.MetaDropLog)
	b.Action().
		Reg(flow.RegTunDst, uint64(binary.BigEndian.Uint32(dstBytes[:]))).
		Output(port)
	b.BuildInto(&puntFlows)
	m.writeFlows(ownerStatic, ExpDropTableID, puntFlows)
}

// DropLogConfigUpdated applies the global drop-log mode. A nil config
// reverts to the disabled default.
func (m *Manager) DropLogConfigUpdated(cfg *DropLogConfig) {
	if m.stopping.Load() {
		return
	}
	metrics.Recomputations.WithLabelValues(metrics.KindDropLog).Inc()

	var dropLogFlows flow.EntryList
	switch {
	case cfg == nil:
		b := flow.NewBuilder()
		b.Table(DropLogTableID).Priority(2)
		b.Action().Go(ServiceBypassTableID)
		b.BuildInto(&dropLogFlows)
		log.Info("Defaulting to drop-log disabled")
	case cfg.Enable && cfg.Mode == DropLogModeUnfiltered:
		b := flow.NewBuilder()
		b.Table(DropLogTableID).Priority(2)
		b.Action().
			Metadata(flow.MetaDropLog, flow.MetaDropLog).
			Go(ServiceBypassTableID)
		b.BuildInto(&dropLogFlows)
		log.Info("Drop-log mode set to unfiltered")
	case cfg.Enable:
		// Filtered mode: only the per-filter entries mark packets.
		m.flows.ClearFlows(ownerDropLogConfig, DropLogTableID)
		log.Info("Drop-log mode set to filtered")
		return
	default:
		b := flow.NewBuilder()
		b.Table(DropLogTableID).Priority(2)
		b.Action().Go(ServiceBypassTableID)
		b.BuildInto(&dropLogFlows)
		log.Info("Drop-log disabled")
	}
	m.writeFlows(ownerDropLogConfig, DropLogTableID, dropLogFlows)
}

// DropFlowConfigUpdated installs or removes one drop-log filter, keyed by
// its identity. A nil spec removes the filter.
func (m *Manager) DropFlowConfigUpdated(id string, spec *DropFlowSpec) {
	if m.stopping.Load() {
		return
	}
	metrics.Recomputations.WithLabelValues(metrics.KindDropLog).Inc()

	if spec == nil {
		m.flows.ClearFlows(id, DropLogTableID)
		return
	}

	b := flow.NewBuilder()
	b.Table(DropLogTableID).Priority(1)
	if spec.EthTypeSet {
		b.EthType(spec.EthType)
	}
	applyAddr := func(s string, apply func(netip.Prefix) *flow.Builder) {
		if s == "" {
			return
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			log.WithError(err).WithField(logfields.Address, s).
				Warn("Skipping unparseable drop-flow address")
			return
		}
		apply(netip.PrefixFrom(addr, addr.BitLen()))
	}
	applyAddr(spec.InnerSrc, b.IPSrc)
	applyAddr(spec.InnerDst, b.IPDst)
	applyAddr(spec.OuterSrc, b.OuterIPSrc)
	applyAddr(spec.OuterDst, b.OuterIPDst)
	if spec.TunnelIDSet {
		b.TunID(spec.TunnelID)
	}
	if spec.IPProtoSet {
		b.Proto(spec.IPProto)
	}
	if spec.SrcPortSet {
		b.TpSrc(spec.SrcPort)
	}
	if spec.DstPortSet {
		b.TpDst(spec.DstPort)
	}
	b.Action().
		Metadata(flow.MetaDropLog, flow.MetaDropLog).
		Go(ServiceBypassTableID)

	var filterFlows flow.EntryList
	b.BuildInto(&filterFlows)
	m.writeFlows(id, DropLogTableID, filterFlows)
}
