// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package accessflow

// Access bridge pipeline tables, in processing order.
const (
	// DropLogTableID classifies packets for drop logging before any
	// other processing.
	DropLogTableID uint8 = 0
	// ServiceBypassTableID short-circuits service loopback traffic past
	// the security tables.
	ServiceBypassTableID uint8 = 1
	// GroupMapTableID maps the in-port to the endpoint's security-group
	// set, conntrack zone and output port.
	GroupMapTableID uint8 = 2
	// SysSecGrpInTableID holds system security group ingress rules.
	SysSecGrpInTableID uint8 = 3
	// SecGrpInTableID holds user security group ingress rules.
	SecGrpInTableID uint8 = 4
	// SysSecGrpOutTableID holds system security group egress rules.
	SysSecGrpOutTableID uint8 = 5
	// SecGrpOutTableID holds user security group egress rules.
	SecGrpOutTableID uint8 = 6
	// TapTableID punts selected permitted traffic to the control plane.
	TapTableID uint8 = 7
	// OutTableID applies VLAN handling and outputs the packet.
	OutTableID uint8 = 8
	// ExpDropTableID forwards capture-marked dropped packets to the
	// drop-log port.
	ExpDropTableID uint8 = 9

	// NumFlowTables is the pipeline size.
	NumFlowTables = 10
)

// TableInfo describes a pipeline table for diagnostics.
type TableInfo struct {
	Name       string
	DropReason string
}

// TableDescriptions maps each table to its diagnostic description.
var TableDescriptions = map[uint8]TableInfo{
	ServiceBypassTableID: {"SERVICE_BYPASS_TABLE",
		"Skip security-group checks for service loopback traffic"},
	GroupMapTableID: {"GROUP_MAP_TABLE", "Access port incorrect"},
	SysSecGrpInTableID: {"SYS_SEC_GRP_IN_TABLE",
		"Ingress system security group derivation missing/incorrect"},
	SecGrpInTableID: {"SEC_GROUP_IN_TABLE",
		"Ingress security group derivation missing/incorrect"},
	SysSecGrpOutTableID: {"SYS_SEC_GRP_OUT_TABLE",
		"Egress system security group derivation missing/incorrect"},
	SecGrpOutTableID: {"SEC_GROUP_OUT_TABLE",
		"Egress security group missing/incorrect"},
	TapTableID: {"TAP_TABLE", "Tap missing/incorrect"},
	OutTableID: {"OUT_TABLE", "Output port missing/incorrect"},
}

// Owner keys for flows not owned by an endpoint or security-group set.
const (
	ownerStatic        = "static"
	ownerDropLog       = "DropLogFlow"
	ownerSystemDropLog = "SystemDropLogFlow"
	ownerDropLogConfig = "DropLogConfig"
)
