// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package flow defines the match/action pipeline entry model produced by
// the compilers and consumed by the table-synchronization layer.
package flow

import (
	"net/netip"
)

// Flags carries per-entry option bits understood by the synchronization
// layer.
type Flags uint32

const (
	// FlagSendFlowRem requests a notification when the entry is removed.
	FlagSendFlowRem Flags = 1 << 0
)

// RegID identifies a pipeline register used in matches and actions.
type RegID uint8

const (
	// Reg0 carries the security-group-set id.
	Reg0 RegID = 0
	// Reg5 carries the VLAN tag to push on output.
	Reg5 RegID = 5
	// Reg6 carries the conntrack zone.
	Reg6 RegID = 6
	// Reg7 carries the output port.
	Reg7 RegID = 7
	// RegTunDst carries the tunnel destination address.
	RegTunDst RegID = 16
	// RegVlanVID addresses the VLAN id field in register move actions.
	RegVlanVID RegID = 17
)

// Connection tracking state bits, matching the OVS ct_state layout.
const (
	CTNew         uint16 = 1 << 0
	CTEstablished uint16 = 1 << 1
	CTRelated     uint16 = 1 << 2
	CTReply       uint16 = 1 << 3
	CTInvalid     uint16 = 1 << 4
	CTTracked     uint16 = 1 << 5
)

// Match is the predicate side of an Entry. Zero values mean "not matched"
// except where an explicit Set flag exists because zero is a valid match
// value for that field.
type Match struct {
	InPort  uint32
	EthType uint16

	Proto    uint8
	ProtoSet bool

	// Reg0 matches the security-group-set id register; 0 skips the match.
	Reg0 uint32

	// TCI/TCIMask match the VLAN tag control field; a zero mask means
	// the field is not matched.
	TCI     uint16
	TCIMask uint16

	SrcIP netip.Prefix
	DstIP netip.Prefix

	// Outer (tunnel) header addresses, used by drop-log filters.
	TunSrc netip.Prefix
	TunDst netip.Prefix

	TunID    uint64
	TunIDSet bool

	TpSrc     uint16
	TpSrcMask uint16
	TpSrcSet  bool

	TpDst     uint16
	TpDstMask uint16
	TpDstSet  bool

	TCPFlags     uint16
	TCPFlagsMask uint16

	CtState     uint16
	CtStateMask uint16

	Metadata     uint64
	MetadataMask uint64
}

// ActionType discriminates Action values.
type ActionType uint8

const (
	ActionLoadReg ActionType = iota + 1
	ActionWriteMetadata
	ActionGoTable
	ActionOutput
	ActionOutputReg
	ActionPushVlan
	ActionPopVlan
	ActionRegMove
	ActionController
	ActionConntrack
	ActionDropLog
	ActionPermitLog
	ActionSetDscp
	ActionResubmit
)

// CaptureReason qualifies drop-log actions.
type CaptureReason uint8

const (
	// ReasonTableMiss marks packets dropped by a table-miss catch-all.
	ReasonTableMiss CaptureReason = iota
	// ReasonPolicyDeny marks packets dropped by an explicit deny rule.
	ReasonPolicyDeny
)

// Action is one step of an entry's action sequence. Only the fields
// relevant to Type are populated.
type Action struct {
	Type ActionType

	// Reg is the target of LoadReg/OutputReg, the source of RegMove and
	// the zone source of Conntrack.
	Reg    RegID
	DstReg RegID

	// Value carries the LoadReg value, the metadata value or the DSCP
	// code point.
	Value uint64
	// Mask is the metadata mask.
	Mask uint64

	// Table is the GoTable/Resubmit/DropLog target or the Conntrack
	// recirculation table.
	Table uint8
	// TableSet distinguishes a Conntrack action with recirculation from
	// a plain commit.
	TableSet bool
	// DropTable is the PermitLog drop continuation.
	DropTable uint8

	// Commit requests conntrack state commit.
	Commit bool

	// Port is the Output port or the Resubmit in-port argument.
	Port uint32

	// Cookie identifies the rule for DropLog/PermitLog accounting.
	Cookie uint64
	// Reason qualifies DropLog captures.
	Reason CaptureReason
}

// Entry is one match/action pipeline entry. Entries are plain comparable
// values apart from the action slice so that recompilations of identical
// input diff cleanly.
type Entry struct {
	Table    uint8
	Priority uint16
	Cookie   uint64
	Flags    Flags
	Match    Match
	Actions  []Action
}

// EntryList is an ordered list of entries sharing an owner key and table.
type EntryList []Entry
