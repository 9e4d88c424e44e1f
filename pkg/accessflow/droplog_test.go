// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package accessflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accessflow/accessflow/pkg/flow"
)

func TestDropLogPortPunt(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetPort("gre-droplog", 42)
	h.mgr.SetDropLog("gre-droplog", "10.20.0.1", 6081)

	h.mgr.PortStatusUpdated("gre-droplog", 42)
	h.mgr.WaitIdle()

	punt := h.cache.Snapshot(ownerStatic, ExpDropTableID)
	require.Len(t, punt, 1)
	e := punt[0]
	assert.Zero(t, e.Priority)
	assert.Equal(t, flow.MetaDropLog, e.Match.Metadata)
	assert.Equal(t, flow.MetaDropLog, e.Match.MetadataMask)
	require.Len(t, e.Actions, 2)
	assert.Equal(t, flow.Action{Type: flow.ActionLoadReg, Reg: flow.RegTunDst,
		Value: 0x0a140001}, e.Actions[0])
	assert.Equal(t, flow.Action{Type: flow.ActionOutput, Port: 42},
		e.Actions[1])
}

func TestDropLogRejectsIPv6Destination(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetPort("gre-droplog", 42)
	h.mgr.SetDropLog("gre-droplog", "fd00::1", 6081)

	h.mgr.handleDropLogPortUpdate()

	assert.Empty(t, h.cache.Snapshot(ownerStatic, ExpDropTableID))
}

func TestDropLogUnresolvedPortLeavesTableEmpty(t *testing.T) {
	h := newHarness(t, nil)
	h.mgr.SetDropLog("gre-droplog", "10.20.0.1", 6081)

	h.mgr.handleDropLogPortUpdate()

	assert.Empty(t, h.cache.Snapshot(ownerStatic, ExpDropTableID))
}

func TestDropLogPuntClearedWhenPortVanishes(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetPort("gre-droplog", 42)
	h.mgr.SetDropLog("gre-droplog", "10.20.0.1", 6081)
	h.mgr.handleDropLogPortUpdate()
	require.NotEmpty(t, h.cache.Snapshot(ownerStatic, ExpDropTableID))

	// The punt port disappears; the entry outputting to its old number
	// must go with it.
	h.store.RemovePort("gre-droplog")
	h.mgr.handleDropLogPortUpdate()

	assert.Empty(t, h.cache.Snapshot(ownerStatic, ExpDropTableID))
}

func TestDropLogConfigModes(t *testing.T) {
	h := newHarness(t, nil)

	// Unfiltered: every packet is marked for capture.
	h.mgr.DropLogConfigUpdated(&DropLogConfig{
		Enable: true,
		Mode:   DropLogModeUnfiltered,
	})
	cfg := h.cache.Snapshot(ownerDropLogConfig, DropLogTableID)
	require.Len(t, cfg, 1)
	assert.Equal(t, uint16(2), cfg[0].Priority)
	require.Len(t, cfg[0].Actions, 2)
	assert.Equal(t, flow.Action{Type: flow.ActionWriteMetadata,
		Value: flow.MetaDropLog, Mask: flow.MetaDropLog}, cfg[0].Actions[0])
	assert.Equal(t, flow.Action{Type: flow.ActionGoTable,
		Table: ServiceBypassTableID}, cfg[0].Actions[1])

	// Filtered: only the per-filter entries mark packets.
	h.mgr.DropLogConfigUpdated(&DropLogConfig{
		Enable: true,
		Mode:   DropLogModeFiltered,
	})
	assert.Empty(t, h.cache.Snapshot(ownerDropLogConfig, DropLogTableID))

	// Disabled: packets continue unmarked.
	h.mgr.DropLogConfigUpdated(&DropLogConfig{Enable: false})
	cfg = h.cache.Snapshot(ownerDropLogConfig, DropLogTableID)
	require.Len(t, cfg, 1)
	require.Len(t, cfg[0].Actions, 1)
	assert.Equal(t, flow.ActionGoTable, cfg[0].Actions[0].Type)

	// Nil reverts to the disabled default.
	h.mgr.DropLogConfigUpdated(nil)
	cfg = h.cache.Snapshot(ownerDropLogConfig, DropLogTableID)
	require.Len(t, cfg, 1)
	require.Len(t, cfg[0].Actions, 1)
}

func TestDropFlowFilterLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	h.mgr.DropFlowConfigUpdated("filter-1", &DropFlowSpec{
		EthType:    flow.EthTypeIP,
		EthTypeSet: true,
		InnerSrc:   "10.0.0.5",
		IPProto:    flow.ProtoUDP,
		IPProtoSet: true,
		DstPort:    4789,
		DstPortSet: true,
	})

	filters := h.cache.Snapshot("filter-1", DropLogTableID)
	require.Len(t, filters, 1)
	e := filters[0]
	assert.Equal(t, uint16(1), e.Priority)
	assert.Equal(t, flow.EthTypeIP, e.Match.EthType)
	assert.Equal(t, "10.0.0.5/32", e.Match.SrcIP.String())
	assert.Equal(t, flow.ProtoUDP, e.Match.Proto)
	assert.Equal(t, uint16(4789), e.Match.TpDst)
	require.Len(t, e.Actions, 2)
	assert.Equal(t, flow.Action{Type: flow.ActionWriteMetadata,
		Value: flow.MetaDropLog, Mask: flow.MetaDropLog}, e.Actions[0])
	assert.Equal(t, flow.Action{Type: flow.ActionGoTable,
		Table: ServiceBypassTableID}, e.Actions[1])

	h.mgr.DropFlowConfigUpdated("filter-1", nil)
	assert.Empty(t, h.cache.Snapshot("filter-1", DropLogTableID))
}

func TestDropFlowFilterSkipsBadAddress(t *testing.T) {
	h := newHarness(t, nil)

	h.mgr.DropFlowConfigUpdated("filter-1", &DropFlowSpec{
		InnerSrc: "not-an-address",
		OuterDst: "192.0.2.9",
	})

	filters := h.cache.Snapshot("filter-1", DropLogTableID)
	require.Len(t, filters, 1)
	assert.False(t, filters[0].Match.SrcIP.IsValid())
	assert.Equal(t, "192.0.2.9/32", filters[0].Match.TunDst.String())
}
