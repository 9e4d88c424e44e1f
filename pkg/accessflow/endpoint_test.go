// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package accessflow

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessflow/accessflow/pkg/endpoint"
	"github.com/accessflow/accessflow/pkg/flow"
	"github.com/accessflow/accessflow/pkg/idgen"
	"github.com/accessflow/accessflow/pkg/inventory"
	"github.com/accessflow/accessflow/pkg/option"
	"github.com/accessflow/accessflow/pkg/policy"
)

func taggedEndpoint() *endpoint.Endpoint {
	return &endpoint.Endpoint{
		UUID:                  "ep-1",
		AccessInterface:       "veth-access",
		AccessUplinkInterface: "veth-uplink",
		AccessVlan:            100,
		AccessVlanSet:         true,
		HasDHCPv4:             true,
	}
}

func setupPorts(h *harness) {
	h.store.SetPort("veth-access", 3)
	h.store.SetPort("veth-uplink", 7)
}

func TestEndpointBridgeFlows(t *testing.T) {
	h := newHarness(t, nil)
	setupPorts(h)
	h.store.SetEndpoint(taggedEndpoint())

	h.mgr.handleEndpointUpdate("ep-1")

	el := h.cache.Snapshot("ep-1", GroupMapTableID)
	require.Len(t, el, 3)

	setID := h.emptySetID()
	zone := h.zones.GetID("ep-1")

	// Access to uplink: pop the tag, mark egress, continue into the
	// system egress table.
	in := el[0]
	assert.Equal(t, GroupMapTableID, in.Table)
	assert.Equal(t, uint16(bridgePriority), in.Priority)
	assert.Equal(t, uint32(3), in.Match.InPort)
	assert.Equal(t, uint16(0x1000|100), in.Match.TCI)
	assert.Equal(t, uint16(0x1fff), in.Match.TCIMask)
	require.Len(t, in.Actions, 5)
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.Reg6,
		Value: uint64(zone)}, in.Actions[0])
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.Reg0,
		Value: uint64(setID)}, in.Actions[1])
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.Reg7,
		Value: uint64(7)}, in.Actions[2])
	assert.Equal(t, flow.Action{Type: flow.ActionWriteMetadata,
		Value: flow.MetaPopVlan | flow.MetaEgressDir,
		Mask:  flow.MetaAccessMask}, in.Actions[3])
	assert.Equal(t, flow.Action{Type: flow.ActionGoTable,
		Table: SysSecGrpOutTableID}, in.Actions[4])

	// DHCPv4 bypass on the tagged port.
	dhcp := el[1]
	assert.Equal(t, uint16(bypassTaggedPriority), dhcp.Priority)
	assert.Equal(t, uint32(3), dhcp.Match.InPort)
	assert.Equal(t, flow.EthTypeIP, dhcp.Match.EthType)
	assert.Equal(t, flow.ProtoUDP, dhcp.Match.Proto)
	assert.Equal(t, uint16(flow.PortDHCPv4Client), dhcp.Match.TpSrc)
	assert.Equal(t, uint16(flow.PortDHCPv4Server), dhcp.Match.TpDst)
	assert.Equal(t, uint16(0x1000|100), dhcp.Match.TCI)
	require.Len(t, dhcp.Actions, 3)
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.Reg7,
		Value: uint64(7)}, dhcp.Actions[0])
	assert.Equal(t, flow.Action{Type: flow.ActionWriteMetadata,
		Value: flow.MetaPopVlan | flow.MetaEgressDir,
		Mask:  flow.MetaAccessMask}, dhcp.Actions[1])
	assert.Equal(t, flow.Action{Type: flow.ActionGoTable, Table: TapTableID},
		dhcp.Actions[2])

	// Uplink to access: push the tag, mark ingress, continue into the
	// system ingress table.
	out := el[2]
	assert.Equal(t, uint16(bridgePriority), out.Priority)
	assert.Equal(t, uint32(7), out.Match.InPort)
	require.Len(t, out.Actions, 6)
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.Reg6,
		Value: uint64(zone)}, out.Actions[0])
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.Reg0,
		Value: uint64(setID)}, out.Actions[1])
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.Reg7,
		Value: uint64(3)}, out.Actions[2])
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.Reg5,
		Value: uint64(100)}, out.Actions[3])
	assert.Equal(t, flow.Action{Type: flow.ActionWriteMetadata,
		Value: flow.MetaPushVlan | flow.MetaIngressDir,
		Mask:  flow.MetaAccessMask}, out.Actions[4])
	assert.Equal(t, flow.Action{Type: flow.ActionGoTable,
		Table: SysSecGrpInTableID}, out.Actions[5])
}

func TestEndpointRecompileIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	setupPorts(h)
	ep := taggedEndpoint()
	ep.SecurityGroups = []string{"/sg/web/", "/sg/db/"}
	h.store.SetEndpoint(ep)

	h.mgr.handleEndpointUpdate("ep-1")
	first := h.cache.Snapshot("ep-1", GroupMapTableID)
	h.mgr.handleEndpointUpdate("ep-1")
	second := h.cache.Snapshot("ep-1", GroupMapTableID)

	assert.Equal(t, first, second)
}

func TestEndpointUnresolvedPorts(t *testing.T) {
	h := newHarness(t, nil)
	// Only the access port resolves.
	h.store.SetPort("veth-access", 3)
	h.store.SetEndpoint(taggedEndpoint())

	h.mgr.handleEndpointUpdate("ep-1")

	assert.Empty(t, h.cache.Snapshot("ep-1", GroupMapTableID))
	assert.Empty(t, h.cache.Snapshot("ep-1", ServiceBypassTableID))
}

func TestEndpointDeleteClearsState(t *testing.T) {
	h := newHarness(t, nil)
	setupPorts(h)
	h.store.SetEndpoint(taggedEndpoint())
	h.mgr.handleEndpointUpdate("ep-1")
	require.NotEmpty(t, h.cache.Snapshot("ep-1", GroupMapTableID))
	require.Equal(t, 1, h.zones.Size())

	h.store.RemoveEndpoint("ep-1")
	h.mgr.handleEndpointUpdate("ep-1")

	assert.Empty(t, h.cache.Snapshot("ep-1", GroupMapTableID))
	assert.Empty(t, h.cache.Snapshot("ep-1", ServiceBypassTableID))
	assert.Zero(t, h.zones.Size())
}

func TestEndpointUntaggedCompanion(t *testing.T) {
	h := newHarness(t, nil)
	setupPorts(h)
	ep := taggedEndpoint()
	ep.HasDHCPv4 = false
	ep.AccessAllowUntagged = true
	h.store.SetEndpoint(ep)

	h.mgr.handleEndpointUpdate("ep-1")

	el := h.cache.Snapshot("ep-1", GroupMapTableID)
	require.Len(t, el, 3)

	companion := el[1]
	assert.Equal(t, uint16(bridgeUntaggedPriority), companion.Priority)
	assert.Equal(t, uint32(3), companion.Match.InPort)
	assert.Equal(t, uint16(0), companion.Match.TCI)
	assert.Equal(t, uint16(0x1fff), companion.Match.TCIMask)

	// The uplink flow replicates untagged in addition to pushing.
	out := el[2]
	require.Len(t, out.Actions, 6)
	assert.Equal(t, flow.MetaUntaggedAndPushVlan|flow.MetaIngressDir,
		out.Actions[4].Value)
}

func TestEndpointTrunkPassthrough(t *testing.T) {
	h := newHarness(t, nil)
	setupPorts(h)
	ep := taggedEndpoint()
	ep.HasDHCPv4 = false
	ep.InterfaceName = "veth-int"
	h.store.SetEndpoint(ep)
	h.store.SetLBIface(&inventory.LBIface{
		UUID:          "lbi-1",
		InterfaceName: "veth-int",
		TrunkVlans:    []endpoint.VlanRange{{Start: 16, End: 31}},
	})

	h.mgr.handleEndpointUpdate("ep-1")

	el := h.cache.Snapshot("ep-1", GroupMapTableID)
	// Bridge in/out plus one aligned block in both directions.
	require.Len(t, el, 4)

	fwd, rev := el[2], el[3]
	assert.Equal(t, uint16(trunkPriority), fwd.Priority)
	assert.Equal(t, uint32(3), fwd.Match.InPort)
	assert.Equal(t, uint16(0x1000|16), fwd.Match.TCI)
	assert.Equal(t, uint16(0x1000|0xff0), fwd.Match.TCIMask)
	require.Len(t, fwd.Actions, 1)
	assert.Equal(t, flow.Action{Type: flow.ActionOutput, Port: 7}, fwd.Actions[0])

	assert.Equal(t, uint32(7), rev.Match.InPort)
	assert.Equal(t, flow.Action{Type: flow.ActionOutput, Port: 3}, rev.Actions[0])
}

func TestEndpointServiceIPBypass(t *testing.T) {
	h := newHarness(t, nil)
	setupPorts(h)
	ep := taggedEndpoint()
	ep.HasDHCPv4 = false
	ep.IPs = []string{"10.0.1.5"}
	ep.ServiceIPs = []string{"10.100.0.1", "fd00::1"}
	h.store.SetEndpoint(ep)

	h.mgr.handleEndpointUpdate("ep-1")

	// Only the family-consistent pair compiles.
	bypass := h.cache.Snapshot("ep-1", ServiceBypassTableID)
	require.Len(t, bypass, 2)

	in := bypass[0]
	assert.Equal(t, uint16(serviceBypassPriority), in.Priority)
	assert.Equal(t, uint32(7), in.Match.InPort)
	assert.Equal(t, netip.MustParsePrefix("10.100.0.1/32"), in.Match.SrcIP)
	assert.Equal(t, netip.MustParsePrefix("10.0.1.5/32"), in.Match.DstIP)

	out := bypass[1]
	assert.Equal(t, uint32(3), out.Match.InPort)
	assert.Equal(t, netip.MustParsePrefix("10.100.0.1/32"), out.Match.DstIP)
	assert.Equal(t, uint16(0x1000|100), out.Match.TCI)
}

func TestEndpointFloatingIPBypass(t *testing.T) {
	h := newHarness(t, nil)
	setupPorts(h)
	ep := taggedEndpoint()
	ep.HasDHCPv4 = false
	ep.IPAddressMappings = []endpoint.IPAddressMapping{
		{
			UUID:        "ipm-1",
			MappedIP:    "10.0.1.5",
			FloatingIP:  "198.51.100.7",
			EgressGroup: "/eg/ext/",
		},
		// Family mismatch: skipped.
		{
			UUID:        "ipm-2",
			MappedIP:    "10.0.1.5",
			FloatingIP:  "fd00::7",
			EgressGroup: "/eg/ext/",
		},
		// No egress group: skipped.
		{
			UUID:       "ipm-3",
			MappedIP:   "10.0.1.5",
			FloatingIP: "198.51.100.8",
		},
	}
	h.store.SetEndpoint(ep)

	h.mgr.handleEndpointUpdate("ep-1")

	el := h.cache.Snapshot("ep-1", GroupMapTableID)
	// Bridge in/out plus egress and ingress floating-IP bypasses.
	require.Len(t, el, 4)

	egress := el[2]
	assert.Equal(t, uint16(bypassTaggedPriority), egress.Priority)
	assert.Equal(t, uint32(3), egress.Match.InPort)
	assert.Equal(t, netip.MustParsePrefix("198.51.100.7/32"), egress.Match.DstIP)

	ingress := el[3]
	assert.Equal(t, uint32(7), ingress.Match.InPort)
	assert.Equal(t, netip.MustParsePrefix("198.51.100.7/32"), ingress.Match.SrcIP)
	// Ingress pushes the access VLAN.
	require.GreaterOrEqual(t, len(ingress.Actions), 3)
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.Reg5,
		Value: uint64(100)}, ingress.Actions[1])
}

func TestEndpointConntrackDisabled(t *testing.T) {
	h := newHarness(t, func(cfg *option.Config) {
		cfg.ConnTrackEnabled = false
	})
	setupPorts(h)
	ep := taggedEndpoint()
	ep.HasDHCPv4 = false
	h.store.SetEndpoint(ep)

	h.mgr.handleEndpointUpdate("ep-1")

	el := h.cache.Snapshot("ep-1", GroupMapTableID)
	require.Len(t, el, 2)
	// No zone register load.
	assert.Equal(t, flow.Reg0, el[0].Actions[0].Reg)
	assert.Zero(t, h.zones.Size())
}

func TestEndpointSetIDStableAcrossGroupOrder(t *testing.T) {
	h := newHarness(t, nil)
	setupPorts(h)
	ep := taggedEndpoint()
	ep.HasDHCPv4 = false
	ep.SecurityGroups = []string{"/sg/b/", "/sg/a/"}
	h.store.SetEndpoint(ep)
	h.mgr.handleEndpointUpdate("ep-1")

	id, ok := h.ids.LookupID(idgen.NamespaceSecGroupSet,
		policy.SecGroupSetID([]string{"/sg/a/", "/sg/b/"}))
	require.True(t, ok)

	el := h.cache.Snapshot("ep-1", GroupMapTableID)
	require.NotEmpty(t, el)
	assert.Equal(t, uint64(id), el[0].Actions[1].Value)
}
