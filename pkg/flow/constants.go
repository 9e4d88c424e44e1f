// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package flow

// Ethernet types.
const (
	EthTypeIP   uint16 = 0x0800
	EthTypeARP  uint16 = 0x0806
	EthTypeIPv6 uint16 = 0x86dd
)

// IP protocol numbers used by the compilers.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// PortNone is the sentinel for an interface name with no current port
// mapping.
const PortNone uint32 = 0xffffffff

// Metadata bits written by access-bridge flows and consumed by the output
// stage.
const (
	// MetaPopVlan requests popping the VLAN tag on output.
	MetaPopVlan uint64 = 0x1
	// MetaPushVlan requests pushing the VLAN tag held in Reg5.
	MetaPushVlan uint64 = 0x2
	// MetaUntaggedAndPushVlan replicates the packet untagged and tagged.
	MetaUntaggedAndPushVlan uint64 = 0x3
	// MetaOutMask selects the output-action bits.
	MetaOutMask uint64 = 0xff

	// MetaIngressDir marks traffic headed into the endpoint.
	MetaIngressDir uint64 = 0x100
	// MetaEgressDir marks traffic leaving the endpoint.
	MetaEgressDir uint64 = 0x200
	// MetaDirMask selects the direction bits.
	MetaDirMask uint64 = 0x300

	// MetaAccessMask selects all access-bridge metadata bits.
	MetaAccessMask uint64 = MetaOutMask | MetaDirMask

	// MetaDropLog marks a packet for drop logging if it is dropped.
	MetaDropLog uint64 = 0x400
)

// Cookies identifying classes of agent-installed flows.
const (
	CookieTableDrop     uint64 = 0x1
	CookieDNSResponseV4 uint64 = 0x2
	CookieDNSResponseV6 uint64 = 0x3
)

// Well-known L4 ports matched by bypass and punt flows.
const (
	PortDHCPv4Client uint16 = 68
	PortDHCPv4Server uint16 = 67
	PortDHCPv6Client uint16 = 546
	PortDHCPv6Server uint16 = 547
	PortDNS          uint16 = 53
)
