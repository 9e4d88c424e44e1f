// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package accessflow

import (
	"github.com/accessflow/accessflow/pkg/flow"
	"github.com/accessflow/accessflow/pkg/idgen"
	"github.com/accessflow/accessflow/pkg/metrics"
)

// emptySetPriority is the priority of the empty-set catch-all allow
// entries; the lowest a policy entry can carry.
const emptySetPriority = 1

// flowEmptySecGroup allows everything for endpoints whose security-group
// set is empty.
func flowEmptySecGroup(emptySetID uint32) flow.Entry {
	b := flow.NewBuilder()
	b.Priority(emptySetPriority).Reg0(emptySetID)
	b.Action().Go(TapTableID)
	return b.Build()
}

// createStaticFlows installs the pipeline's fixed entries: VLAN handling
// and default output, the drop-log defaults and per-table catch-alls, the
// service bypass and tap defaults, and the empty-set allows.
func (m *Manager) createStaticFlows() {
	log.Debug("Writing static flows")
	metrics.Recomputations.WithLabelValues(metrics.KindStatic).Inc()

	{
		var outFlows flow.EntryList
		b := flow.NewBuilder()
		b.Table(OutTableID).Priority(1).
			Metadata(flow.MetaPopVlan, flow.MetaOutMask).
			TCI(0x1000, 0x1000)
		b.Action().PopVlan().OutputReg(flow.Reg7)
		b.BuildInto(&outFlows)

		b = flow.NewBuilder()
		b.Table(OutTableID).Priority(1).
			Metadata(flow.MetaPushVlan, flow.MetaOutMask)
		b.Action().PushVlan().
			RegMove(flow.Reg5, flow.RegVlanVID).
			OutputReg(flow.Reg7)
		b.BuildInto(&outFlows)

		// The untagged copy exists for hosts that bootstrap before their
		// VLAN is configured; the packet goes out twice, once untagged
		// and once tagged.
		b = flow.NewBuilder()
		b.Table(OutTableID).Priority(1).
			Metadata(flow.MetaUntaggedAndPushVlan, flow.MetaOutMask)
		b.Action().OutputReg(flow.Reg7).
			PushVlan().
			RegMove(flow.Reg5, flow.RegVlanVID).
			OutputReg(flow.Reg7)
		b.BuildInto(&outFlows)

		// Default: output to the port selected by the pipeline. Packets
		// carrying unhandled out-metadata bits fall through to the
		// table-miss catch-all instead.
		b = flow.NewBuilder()
		b.Table(OutTableID).Priority(1).
			Metadata(0, flow.MetaOutMask)
		b.Action().OutputReg(flow.Reg7)
		b.BuildInto(&outFlows)

		m.writeFlows(ownerStatic, OutTableID, outFlows)
	}
	{
		var dropLogFlows flow.EntryList
		b := flow.NewBuilder()
		b.Table(DropLogTableID).Priority(0)
		b.Action().Go(ServiceBypassTableID)
		b.BuildInto(&dropLogFlows)
		m.writeFlows(ownerStatic, DropLogTableID, dropLogFlows)

		// Every table gets a lowest-priority entry sending dropped
		// packets to the capture table.
		for table := ServiceBypassTableID; table < ExpDropTableID; table++ {
			var catchAll flow.EntryList
			b := flow.NewBuilder()
			b.Table(table).Priority(0).
				Cookie(flow.CookieTableDrop).
				Flags(flow.FlagSendFlowRem)
			b.Action().
				DropLog(table, flow.ReasonTableMiss, flow.CookieTableDrop).
				Go(ExpDropTableID)
			b.BuildInto(&catchAll)
			m.writeFlows(ownerDropLog, table, catchAll)
		}
		m.handleDropLogPortUpdate()
	}
	{
		var bypassFlows flow.EntryList
		b := flow.NewBuilder()
		b.Table(ServiceBypassTableID).Priority(1)
		b.Action().Go(GroupMapTableID)
		b.BuildInto(&bypassFlows)
		m.writeFlows(ownerStatic, ServiceBypassTableID, bypassFlows)
	}
	{
		var tapFlows flow.EntryList
		dnsPunt := func(ethType uint16, proto uint8, cookie uint64) {
			b := flow.NewBuilder()
			b.Table(TapTableID).Priority(2).Cookie(cookie).
				EthType(ethType).Proto(proto).
				TpSrc(flow.PortDNS).
				Metadata(flow.MetaIngressDir, flow.MetaDirMask)
			b.Action().Controller().Go(OutTableID)
			b.BuildInto(&tapFlows)
		}
		dnsPunt(flow.EthTypeIP, flow.ProtoTCP, flow.CookieDNSResponseV4)
		dnsPunt(flow.EthTypeIPv6, flow.ProtoTCP, flow.CookieDNSResponseV6)
		dnsPunt(flow.EthTypeIP, flow.ProtoUDP, flow.CookieDNSResponseV4)
		dnsPunt(flow.EthTypeIPv6, flow.ProtoUDP, flow.CookieDNSResponseV6)

		b := flow.NewBuilder()
		b.Table(TapTableID).Priority(1)
		b.Action().Go(OutTableID)
		b.BuildInto(&tapFlows)
		m.writeFlows(ownerStatic, TapTableID, tapFlows)
	}
	{
		var sysIn flow.EntryList
		b := flow.NewBuilder()
		b.Table(SysSecGrpInTableID).Priority(1)
		b.Action().Go(SecGrpInTableID)
		b.BuildInto(&sysIn)
		m.writeFlows(ownerStatic, SysSecGrpInTableID, sysIn)

		var sysOut flow.EntryList
		b = flow.NewBuilder()
		b.Table(SysSecGrpOutTableID).Priority(1)
		b.Action().Go(SecGrpOutTableID)
		b.BuildInto(&sysOut)
		m.writeFlows(ownerStatic, SysSecGrpOutTableID, sysOut)
	}

	// Everything is allowed for endpoints with no security group set.
	emptySetID := m.idGen.GetID(idgen.NamespaceSecGroupSet, "")
	in := flowEmptySecGroup(emptySetID)
	in.Table = SecGrpInTableID
	out := flowEmptySecGroup(emptySetID)
	out.Table = SecGrpOutTableID
	m.writeFlows(ownerStatic, SecGrpInTableID, flow.EntryList{in})
	m.writeFlows(ownerStatic, SecGrpOutTableID, flow.EntryList{out})
}

// writeFlows hands entries to the sync layer and accounts for them.
func (m *Manager) writeFlows(owner string, table uint8, entries flow.EntryList) {
	metrics.FlowEntriesWritten.Add(float64(len(entries)))
	m.flows.WriteFlow(owner, table, entries)
}
