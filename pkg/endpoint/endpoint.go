// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package endpoint defines the local endpoint model consumed by the
// access-bridge compiler.
package endpoint

import (
	"sort"
)

// IPAddressMapping is a floating-IP translation attached to an endpoint.
type IPAddressMapping struct {
	// UUID identifies the mapping.
	UUID string
	// MappedIP is the endpoint-local address.
	MappedIP string
	// FloatingIP is the externally visible address.
	FloatingIP string
	// EgressGroup is the routing group the mapping belongs to; mappings
	// without one are ignored.
	EgressGroup string
}

// Endpoint is a locally attached workload interface with its access
// configuration and policy bindings.
type Endpoint struct {
	UUID string

	// InterfaceName is the integration-bridge side interface.
	InterfaceName string
	// AccessInterface and AccessUplinkInterface are the two legs of the
	// access bridge the endpoint is wired through.
	AccessInterface       string
	AccessUplinkInterface string

	// AccessVlan is the VLAN tag on the uplink leg; AccessVlanSet tells a
	// configured tag 0 apart from no tag.
	AccessVlan    uint16
	AccessVlanSet bool
	// AccessAllowUntagged additionally accepts untagged uplink traffic
	// and replicates endpoint-bound traffic untagged.
	AccessAllowUntagged bool

	// SecurityGroups are the URIs of the groups whose union applies to
	// this endpoint.
	SecurityGroups []string

	// IPs are the endpoint's own addresses, used by DHCP and virtual-IP
	// related flows.
	IPs []string

	// IPAddressMappings are the endpoint's floating-IP translations.
	IPAddressMappings []IPAddressMapping

	// HasDHCPv4/HasDHCPv6 enable the DHCP bypass for the respective
	// family.
	HasDHCPv4 bool
	HasDHCPv6 bool

	// ServiceIPs are anycast service addresses answered on behalf of the
	// endpoint; traffic to them bypasses policy.
	ServiceIPs []string
}

// SecGroups returns the endpoint's security group URIs in sorted order.
func (ep *Endpoint) SecGroups() []string {
	groups := make([]string, len(ep.SecurityGroups))
	copy(groups, ep.SecurityGroups)
	sort.Strings(groups)
	return groups
}

// VlanRange is a closed interval of trunked VLAN ids.
type VlanRange struct {
	Start uint16
	End   uint16
}
