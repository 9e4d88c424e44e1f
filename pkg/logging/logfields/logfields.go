// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package logfields defines common logging fields which are used across packages
package logfields

const (
	// LogSubsys is the field denoting the subsystem when logging
	LogSubsys = "subsys"

	// EndpointID is the endpoint identifier (uuid)
	EndpointID = "endpointID"

	// SecGroup is a security group identity string
	SecGroup = "secGroup"

	// SecGroupSet is a security group set identity string
	SecGroupSet = "secGroupSet"

	// Rule is a policy rule identity string
	Rule = "rule"

	// Interface is an interface name
	Interface = "interface"

	// Port is an OpenFlow port number
	Port = "port"

	// Table is a flow pipeline table id
	Table = "table"

	// ObjID is the owner key under which flow entries are written
	ObjID = "objID"

	// Key is a task queue key
	Key = "key"

	// Address is an IP address or CIDR in string form
	Address = "address"

	// DSCP is a differentiated services code point value
	DSCP = "dscp"

	// Mode is a configuration mode value
	Mode = "mode"

	// Duration is a span duration
	Duration = "duration"
)
