// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package policy holds the security policy model and the classifier
// expander that turns one policy rule into pipeline entries.
package policy

import (
	"sort"
	"strings"
)

// Direction scopes a rule relative to the endpoint the policy protects.
type Direction uint8

const (
	// DirectionIn applies to traffic headed into the endpoint.
	DirectionIn Direction = iota + 1
	// DirectionOut applies to traffic leaving the endpoint.
	DirectionOut
	// DirectionBidirectional applies both ways.
	DirectionBidirectional
)

// ConnTrack selects the connection-tracking semantics of an allow rule.
type ConnTrack uint8

const (
	// ConnTrackNormal allows matching traffic with no tracked state.
	ConnTrackNormal ConnTrack = iota
	// ConnTrackReflexive allows matching traffic and its tracked return
	// traffic.
	ConnTrackReflexive
)

// TCP flag bits as carried on the wire.
const (
	TCPFlagFIN uint16 = 0x01
	TCPFlagSYN uint16 = 0x02
	TCPFlagRST uint16 = 0x04
	TCPFlagACK uint16 = 0x10
)

// PortRange is a closed L4 port interval.
type PortRange struct {
	From uint16
	To   uint16
}

// Subnet is a remote subnet in string form. An empty address denotes the
// universal subnet (no restriction).
type Subnet struct {
	Address   string
	PrefixLen uint8
}

// ServicePort is a resolved named destination: an address with an optional
// protocol and port. A zero port means the address alone is matched.
type ServicePort struct {
	Address   string
	PrefixLen uint8
	Proto     uint8
	Port      uint16
}

// Classifier is the protocol-level predicate of one rule. Zero-valued
// fields are unspecified unless an explicit Set flag exists.
type Classifier struct {
	EtherType uint16
	ArpOpc    uint8

	Proto    uint8
	ProtoSet bool

	ICMPType    uint8
	ICMPTypeSet bool
	ICMPCode    uint8
	ICMPCodeSet bool

	// TCPFlags is the exact flag combination to match; TCPEstablished
	// instead requests the two-combination established expansion.
	TCPFlags       uint16
	TCPEstablished bool

	SrcPorts *PortRange
	DstPorts *PortRange
}

// Rule is one ordered classifier rule of a security group.
type Rule struct {
	// URI is the rule's identity, used to derive its flow cookie.
	URI string

	Direction Direction
	Priority  uint16
	Allow     bool
	Log       bool
	ConnTrack ConnTrack

	Classifier Classifier

	RemoteSubnets     []Subnet
	NamedServicePorts []ServicePort
}

// SecurityGroup is an identity with an ordered rule list. Rule order is
// the tie break for equal priorities: later rules win.
type SecurityGroup struct {
	URI   string
	Rules []*Rule
}

// SecGroupSetID returns the identity string of a security group set: the
// comma-join of the member identities in sorted order. Sorting keeps the
// identity stable across processes, which the numeric id allocation
// depends on.
func SecGroupSetID(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	sorted := make([]string, len(groups))
	copy(sorted, groups)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// SplitSecGroupSetID is the inverse of SecGroupSetID; empty elements are
// dropped.
func SplitSecGroupSetID(id string) []string {
	var groups []string
	for _, uri := range strings.Split(id, ",") {
		if uri != "" {
			groups = append(groups, uri)
		}
	}
	return groups
}
