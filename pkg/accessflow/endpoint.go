// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package accessflow

import (
	"net/netip"

	"github.com/accessflow/accessflow/pkg/ctzone"
	"github.com/accessflow/accessflow/pkg/endpoint"
	"github.com/accessflow/accessflow/pkg/flow"
	"github.com/accessflow/accessflow/pkg/idgen"
	"github.com/accessflow/accessflow/pkg/logging/logfields"
	"github.com/accessflow/accessflow/pkg/metrics"
	"github.com/accessflow/accessflow/pkg/policy"
	"github.com/accessflow/accessflow/pkg/rangemask"
)

// Bridge flow priorities.
const (
	bridgePriority         = 100
	bridgeUntaggedPriority = 99
	bypassPriority         = 200
	bypassTaggedPriority   = 201
	serviceBypassPriority  = 10
	trunkPriority          = 500
)

func pushVlanMeta(ep *endpoint.Endpoint) uint64 {
	if ep.AccessAllowUntagged {
		return flow.MetaUntaggedAndPushVlan
	}
	return flow.MetaPushVlan
}

func ethTypeFor(addr netip.Addr) uint16 {
	if addr.Is4() {
		return flow.EthTypeIP
	}
	return flow.EthTypeIPv6
}

// parseHostOrPrefix accepts "10.0.0.1" or "10.0.0.0/24".
func parseHostOrPrefix(s string) (netip.Prefix, bool) {
	if pfx, err := netip.ParsePrefix(s); err == nil {
		return pfx.Masked(), true
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(addr, addr.BitLen()), true
}

// flowBypassDhcpRequest lets DHCP requests skip the security tables when
// virtual DHCP serves the endpoint. The skipUntagged variant matches the
// untagged bootstrap copy on a tagged port.
func flowBypassDhcpRequest(el *flow.EntryList, v4, skipPopVlan bool,
	inPort, outPort uint32, ep *endpoint.Endpoint) {

	b := flow.NewBuilder()
	b.Table(GroupMapTableID).InPort(inPort)
	tagged := ep.AccessVlanSet && !skipPopVlan
	if tagged {
		b.Priority(bypassTaggedPriority)
	} else {
		b.Priority(bypassPriority)
	}

	if v4 {
		b.EthType(flow.EthTypeIP).Proto(flow.ProtoUDP).
			TpSrc(flow.PortDHCPv4Client).TpDst(flow.PortDHCPv4Server)
	} else {
		b.EthType(flow.EthTypeIPv6).Proto(flow.ProtoUDP).
			TpSrc(flow.PortDHCPv6Client).TpDst(flow.PortDHCPv6Server)
	}

	ab := b.Action().Reg(flow.Reg7, uint64(outPort))
	switch {
	case tagged:
		b.Vlan(ep.AccessVlan)
		ab.Metadata(flow.MetaPopVlan|flow.MetaEgressDir, flow.MetaAccessMask)
	case skipPopVlan:
		b.TCI(0, 0x1fff)
		ab.Metadata(flow.MetaEgressDir, flow.MetaDirMask)
	default:
		ab.Metadata(flow.MetaEgressDir, flow.MetaDirMask)
	}
	ab.Go(TapTableID)
	b.BuildInto(el)
}

// flowBypassFloatingIP keeps traffic between the endpoint and its own
// floating address out of connection tracking.
func flowBypassFloatingIP(el *flow.EntryList, inPort, outPort uint32,
	in, skipPopVlan bool, floating netip.Addr, ep *endpoint.Endpoint) {

	b := flow.NewBuilder()
	b.Table(GroupMapTableID).InPort(inPort)
	tagged := ep.AccessVlanSet && !skipPopVlan
	if tagged {
		b.Priority(bypassTaggedPriority)
	} else {
		b.Priority(bypassPriority)
	}

	b.EthType(ethTypeFor(floating))
	host := netip.PrefixFrom(floating, floating.BitLen())
	if in {
		b.IPSrc(host)
	} else {
		b.IPDst(host)
	}

	ab := b.Action().Reg(flow.Reg7, uint64(outPort))
	switch {
	case tagged && in:
		ab.Reg(flow.Reg5, uint64(ep.AccessVlan)).
			Metadata(pushVlanMeta(ep)|flow.MetaIngressDir, flow.MetaAccessMask)
	case tagged:
		b.Vlan(ep.AccessVlan)
		ab.Metadata(flow.MetaPopVlan|flow.MetaEgressDir, flow.MetaAccessMask)
	case skipPopVlan:
		if !in {
			b.TCI(0, 0x1fff)
		}
		if in {
			ab.Metadata(flow.MetaIngressDir, flow.MetaDirMask)
		} else {
			ab.Metadata(flow.MetaEgressDir, flow.MetaDirMask)
		}
	default:
		if in {
			ab.Metadata(flow.MetaIngressDir, flow.MetaDirMask)
		} else {
			ab.Metadata(flow.MetaEgressDir, flow.MetaDirMask)
		}
	}
	ab.Go(TapTableID)
	b.BuildInto(el)
}

// flowBypassServiceIP skips security group checks for an endpoint that is
// a backend reaching its own service address.
func flowBypassServiceIP(el *flow.EntryList, accessPort, uplinkPort uint32,
	ep *endpoint.Endpoint) {

	for _, epIP := range ep.IPs {
		cidr, ok := parseHostOrPrefix(epIP)
		if !ok {
			continue
		}
		for _, svcIP := range ep.ServiceIPs {
			svcAddr, err := netip.ParseAddr(svcIP)
			if err != nil {
				continue
			}
			if svcAddr.Is4() != cidr.Addr().Is4() {
				continue
			}
			svcHost := netip.PrefixFrom(svcAddr, svcAddr.BitLen())
			ethType := ethTypeFor(svcAddr)

			in := flow.NewBuilder()
			in.Table(ServiceBypassTableID).Priority(serviceBypassPriority).
				EthType(ethType).InPort(uplinkPort).
				IPSrc(svcHost).IPDst(cidr)
			inAct := in.Action().Reg(flow.Reg7, uint64(accessPort))
			if ep.AccessVlanSet {
				inAct.Reg(flow.Reg5, uint64(ep.AccessVlan)).
					Metadata(flow.MetaPushVlan|flow.MetaIngressDir,
						flow.MetaAccessMask)
			} else {
				inAct.Metadata(flow.MetaIngressDir, flow.MetaDirMask)
			}
			inAct.Go(TapTableID)
			in.BuildInto(el)

			out := flow.NewBuilder()
			out.Table(ServiceBypassTableID).Priority(serviceBypassPriority).
				EthType(ethType).InPort(accessPort).
				IPSrc(cidr).IPDst(svcHost)
			outAct := out.Action().Reg(flow.Reg7, uint64(uplinkPort))
			if ep.AccessVlanSet {
				out.Vlan(ep.AccessVlan)
				outAct.Metadata(flow.MetaPopVlan|flow.MetaEgressDir,
					flow.MetaAccessMask)
			} else {
				out.TCI(0, 0x1fff)
				outAct.Metadata(flow.MetaEgressDir, flow.MetaDirMask)
			}
			outAct.Go(TapTableID)
			out.BuildInto(el)
		}
	}
}

func (m *Manager) handleEndpointUpdate(uuid string) {
	scopedLog := log.WithField(logfields.EndpointID, uuid)
	scopedLog.Debug("Updating endpoint")
	metrics.Recomputations.WithLabelValues(metrics.KindEndpoint).Inc()

	ep := m.endpoints.GetEndpoint(uuid)
	if ep == nil {
		m.flows.ClearFlows(uuid, GroupMapTableID)
		m.flows.ClearFlows(uuid, ServiceBypassTableID)
		if m.conntrackEnabled {
			m.ctZones.Erase(uuid)
		}
		return
	}

	var accessPort, uplinkPort uint32
	accessOK, uplinkOK := false, false
	if ep.AccessInterface != "" {
		accessPort, accessOK = m.ports.FindPort(ep.AccessInterface)
	}
	if ep.AccessUplinkInterface != "" {
		uplinkPort, uplinkOK = m.ports.FindPort(ep.AccessUplinkInterface)
	}

	setID := m.idGen.GetID(idgen.NamespaceSecGroupSet,
		policy.SecGroupSetID(ep.SecGroups()))

	zone := ctzone.None
	if m.conntrackEnabled {
		zone = m.ctZones.GetID(uuid)
		if zone == ctzone.None {
			scopedLog.Error("Could not allocate connection tracking zone")
		}
	}

	var trunkVlans rangemask.MaskList
	if ep.InterfaceName != "" {
		for _, lbi := range m.lbs.LBIfacesByIface(ep.InterfaceName) {
			for _, r := range m.lbs.TrunkVlans(lbi) {
				trunkVlans = append(trunkVlans,
					rangemask.GetMasks(r.Start, r.End)...)
			}
		}
	}

	var el flow.EntryList
	var skipServiceFlows flow.EntryList

	if accessOK && uplinkOK {
		{
			in := flow.NewBuilder()
			in.Table(GroupMapTableID).Priority(bridgePriority).
				InPort(accessPort)
			ab := in.Action()
			if zone != ctzone.None {
				ab.Reg(flow.Reg6, uint64(zone))
			}
			ab.Reg(flow.Reg0, uint64(setID)).
				Reg(flow.Reg7, uint64(uplinkPort))
			if ep.AccessVlanSet {
				in.Vlan(ep.AccessVlan)
				ab.Metadata(flow.MetaPopVlan|flow.MetaEgressDir,
					flow.MetaAccessMask)
			} else {
				in.TCI(0, 0x1fff)
				ab.Metadata(flow.MetaEgressDir, flow.MetaDirMask)
			}
			ab.Go(SysSecGrpOutTableID)
			in.BuildInto(&el)
		}

		flowBypassServiceIP(&skipServiceFlows, accessPort, uplinkPort, ep)

		if ep.AccessAllowUntagged && ep.AccessVlanSet {
			untagged := flow.NewBuilder()
			untagged.Table(GroupMapTableID).
				Priority(bridgeUntaggedPriority).
				InPort(accessPort).TCI(0, 0x1fff)
			ab := untagged.Action()
			if zone != ctzone.None {
				ab.Reg(flow.Reg6, uint64(zone))
			}
			ab.Reg(flow.Reg0, uint64(setID)).
				Reg(flow.Reg7, uint64(uplinkPort)).
				Metadata(flow.MetaEgressDir, flow.MetaDirMask).
				Go(SysSecGrpOutTableID)
			untagged.BuildInto(&el)
		}

		if ep.HasDHCPv4 {
			flowBypassDhcpRequest(&el, true, false, accessPort, uplinkPort, ep)
			if ep.AccessAllowUntagged && ep.AccessVlanSet {
				flowBypassDhcpRequest(&el, true, true, accessPort, uplinkPort, ep)
			}
		}
		if ep.HasDHCPv6 {
			flowBypassDhcpRequest(&el, false, false, accessPort, uplinkPort, ep)
			if ep.AccessAllowUntagged && ep.AccessVlanSet {
				flowBypassDhcpRequest(&el, false, true, accessPort, uplinkPort, ep)
			}
		}

		{
			out := flow.NewBuilder()
			out.Table(GroupMapTableID).Priority(bridgePriority).
				InPort(uplinkPort)
			ab := out.Action()
			if zone != ctzone.None {
				ab.Reg(flow.Reg6, uint64(zone))
			}
			ab.Reg(flow.Reg0, uint64(setID)).
				Reg(flow.Reg7, uint64(accessPort))
			if ep.AccessVlanSet {
				ab.Reg(flow.Reg5, uint64(ep.AccessVlan)).
					Metadata(pushVlanMeta(ep)|flow.MetaIngressDir,
						flow.MetaAccessMask)
			} else {
				ab.Metadata(flow.MetaIngressDir, flow.MetaDirMask)
			}
			ab.Go(SysSecGrpInTableID)
			out.BuildInto(&el)
		}

		// Ports trunked by learning bridge interfaces bypass the access
		// bridge pipeline entirely.
		for _, mask := range trunkVlans {
			tci := 0x1000 | mask.Value
			tciMask := 0x1000 | (0xfff & mask.Mask)

			fwd := flow.NewBuilder()
			fwd.Table(GroupMapTableID).Priority(trunkPriority).
				InPort(accessPort).TCI(tci, tciMask)
			fwd.Action().Output(uplinkPort)
			fwd.BuildInto(&el)

			rev := flow.NewBuilder()
			rev.Table(GroupMapTableID).Priority(trunkPriority).
				InPort(uplinkPort).TCI(tci, tciMask)
			rev.Action().Output(accessPort)
			rev.BuildInto(&el)
		}

		// Traffic between the endpoint and its floating addresses skips
		// conntrack.
		for _, ipm := range ep.IPAddressMappings {
			if ipm.MappedIP == "" || ipm.EgressGroup == "" {
				continue
			}
			mapped, err := netip.ParseAddr(ipm.MappedIP)
			if err != nil {
				continue
			}
			if ipm.FloatingIP == "" {
				continue
			}
			floating, err := netip.ParseAddr(ipm.FloatingIP)
			if err != nil || floating.Is4() != mapped.Is4() ||
				floating.IsUnspecified() {
				continue
			}
			flowBypassFloatingIP(&el, accessPort, uplinkPort, false, false,
				floating, ep)
			flowBypassFloatingIP(&el, uplinkPort, accessPort, true, false,
				floating, ep)
			if ep.AccessAllowUntagged && ep.AccessVlanSet {
				flowBypassFloatingIP(&el, accessPort, uplinkPort, false, true,
					floating, ep)
				flowBypassFloatingIP(&el, uplinkPort, accessPort, true, true,
					floating, ep)
			}
		}
	}

	m.writeFlows(uuid, GroupMapTableID, el)
	m.writeFlows(uuid, ServiceBypassTableID, skipServiceFlows)
}
