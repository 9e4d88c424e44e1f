// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package flow

import (
	"net/netip"
)

// Builder assembles one Entry. Match methods live on Builder; Action()
// switches to the ActionBuilder, whose Parent() switches back.
type Builder struct {
	entry  Entry
	action ActionBuilder
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	b := &Builder{}
	b.action.builder = b
	return b
}

// Build returns the assembled entry.
func (b *Builder) Build() Entry {
	return b.entry
}

// BuildInto appends the assembled entry to el.
func (b *Builder) BuildInto(el *EntryList) {
	*el = append(*el, b.entry)
}

// Action returns the action builder for this entry.
func (b *Builder) Action() *ActionBuilder {
	return &b.action
}

func (b *Builder) Table(id uint8) *Builder {
	b.entry.Table = id
	return b
}

func (b *Builder) Priority(prio uint16) *Builder {
	b.entry.Priority = prio
	return b
}

func (b *Builder) Cookie(cookie uint64) *Builder {
	b.entry.Cookie = cookie
	return b
}

func (b *Builder) Flags(flags Flags) *Builder {
	b.entry.Flags = flags
	return b
}

func (b *Builder) InPort(port uint32) *Builder {
	b.entry.Match.InPort = port
	return b
}

func (b *Builder) EthType(ethType uint16) *Builder {
	b.entry.Match.EthType = ethType
	return b
}

func (b *Builder) Proto(proto uint8) *Builder {
	b.entry.Match.Proto = proto
	b.entry.Match.ProtoSet = true
	return b
}

func (b *Builder) Reg0(id uint32) *Builder {
	b.entry.Match.Reg0 = id
	return b
}

// Vlan matches a frame tagged with the given VLAN id.
func (b *Builder) Vlan(tag uint16) *Builder {
	return b.TCI(0x1000|(tag&0xfff), 0x1fff)
}

// TCI matches the VLAN tag control field under a mask.
func (b *Builder) TCI(tci, mask uint16) *Builder {
	b.entry.Match.TCI = tci
	b.entry.Match.TCIMask = mask
	return b
}

func (b *Builder) IPSrc(prefix netip.Prefix) *Builder {
	b.entry.Match.SrcIP = prefix
	return b
}

func (b *Builder) IPDst(prefix netip.Prefix) *Builder {
	b.entry.Match.DstIP = prefix
	return b
}

// OuterIPSrc matches the outer (tunnel) source address.
func (b *Builder) OuterIPSrc(prefix netip.Prefix) *Builder {
	b.entry.Match.TunSrc = prefix
	return b
}

// OuterIPDst matches the outer (tunnel) destination address.
func (b *Builder) OuterIPDst(prefix netip.Prefix) *Builder {
	b.entry.Match.TunDst = prefix
	return b
}

func (b *Builder) TunID(id uint64) *Builder {
	b.entry.Match.TunID = id
	b.entry.Match.TunIDSet = true
	return b
}

// TpSrc matches the L4 source port exactly.
func (b *Builder) TpSrc(port uint16) *Builder {
	return b.TpSrcMasked(port, 0xffff)
}

// TpSrcMasked matches the L4 source port under a mask. A zero mask still
// records the match so idempotent recompiles stay byte-identical.
func (b *Builder) TpSrcMasked(port, mask uint16) *Builder {
	b.entry.Match.TpSrc = port
	b.entry.Match.TpSrcMask = mask
	b.entry.Match.TpSrcSet = true
	return b
}

// TpDst matches the L4 destination port exactly.
func (b *Builder) TpDst(port uint16) *Builder {
	return b.TpDstMasked(port, 0xffff)
}

// TpDstMasked matches the L4 destination port under a mask.
func (b *Builder) TpDstMasked(port, mask uint16) *Builder {
	b.entry.Match.TpDst = port
	b.entry.Match.TpDstMask = mask
	b.entry.Match.TpDstSet = true
	return b
}

// HasTpDst reports whether a destination port match has been recorded.
func (b *Builder) HasTpDst() bool {
	return b.entry.Match.TpDstSet
}

func (b *Builder) TCPFlags(flags, mask uint16) *Builder {
	b.entry.Match.TCPFlags = flags
	b.entry.Match.TCPFlagsMask = mask
	return b
}

func (b *Builder) CtState(state, mask uint16) *Builder {
	b.entry.Match.CtState = state
	b.entry.Match.CtStateMask = mask
	return b
}

// Metadata matches the metadata field under a mask.
func (b *Builder) Metadata(value, mask uint64) *Builder {
	b.entry.Match.Metadata = value
	b.entry.Match.MetadataMask = mask
	return b
}

// ActionBuilder appends actions to its parent builder's entry.
type ActionBuilder struct {
	builder *Builder
}

// Parent returns the owning Builder.
func (a *ActionBuilder) Parent() *Builder {
	return a.builder
}

func (a *ActionBuilder) add(act Action) *ActionBuilder {
	e := &a.builder.entry
	e.Actions = append(e.Actions, act)
	return a
}

// Reg loads an immediate value into a register.
func (a *ActionBuilder) Reg(reg RegID, value uint64) *ActionBuilder {
	return a.add(Action{Type: ActionLoadReg, Reg: reg, Value: value})
}

// Metadata writes the metadata field under a mask.
func (a *ActionBuilder) Metadata(value, mask uint64) *ActionBuilder {
	return a.add(Action{Type: ActionWriteMetadata, Value: value, Mask: mask})
}

// Go continues processing at the given table.
func (a *ActionBuilder) Go(table uint8) *ActionBuilder {
	return a.add(Action{Type: ActionGoTable, Table: table})
}

// Output sends the packet out of a fixed port.
func (a *ActionBuilder) Output(port uint32) *ActionBuilder {
	return a.add(Action{Type: ActionOutput, Port: port})
}

// OutputReg sends the packet out of the port held in a register.
func (a *ActionBuilder) OutputReg(reg RegID) *ActionBuilder {
	return a.add(Action{Type: ActionOutputReg, Reg: reg})
}

func (a *ActionBuilder) PushVlan() *ActionBuilder {
	return a.add(Action{Type: ActionPushVlan})
}

func (a *ActionBuilder) PopVlan() *ActionBuilder {
	return a.add(Action{Type: ActionPopVlan})
}

// RegMove copies a register into another field.
func (a *ActionBuilder) RegMove(src, dst RegID) *ActionBuilder {
	return a.add(Action{Type: ActionRegMove, Reg: src, DstReg: dst})
}

// Controller punts the packet to the control plane.
func (a *ActionBuilder) Controller() *ActionBuilder {
	return a.add(Action{Type: ActionController})
}

// Conntrack sends the packet through connection tracking with the zone
// taken from zoneReg and recirculates it into recircTable.
func (a *ActionBuilder) Conntrack(zoneReg RegID, recircTable uint8) *ActionBuilder {
	return a.add(Action{
		Type:     ActionConntrack,
		Reg:      zoneReg,
		Table:    recircTable,
		TableSet: true,
	})
}

// ConntrackCommit commits the connection's tracked state with the zone
// taken from zoneReg.
func (a *ActionBuilder) ConntrackCommit(zoneReg RegID) *ActionBuilder {
	return a.add(Action{Type: ActionConntrack, Reg: zoneReg, Commit: true})
}

// DropLog records the drop reason for the given table before the packet
// continues toward the drop-processing path.
func (a *ActionBuilder) DropLog(table uint8, reason CaptureReason, cookie uint64) *ActionBuilder {
	return a.add(Action{
		Type:   ActionDropLog,
		Table:  table,
		Reason: reason,
		Cookie: cookie,
	})
}

// PermitLog records a permit event for the given table.
func (a *ActionBuilder) PermitLog(table, dropTable uint8, cookie uint64) *ActionBuilder {
	return a.add(Action{
		Type:      ActionPermitLog,
		Table:     table,
		DropTable: dropTable,
		Cookie:    cookie,
	})
}

// SetDscp rewrites the IP DSCP field.
func (a *ActionBuilder) SetDscp(dscp uint8) *ActionBuilder {
	return a.add(Action{Type: ActionSetDscp, Value: uint64(dscp)})
}

// Resubmit re-injects the packet with the given in-port into a table.
func (a *ActionBuilder) Resubmit(inPort uint32, table uint8) *ActionBuilder {
	return a.add(Action{Type: ActionResubmit, Port: inPort, Table: table})
}
