// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

// Package option holds the agent's runtime configuration.
package option

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Option names, shared between flag registration and viper lookup.
const (
	ConnTrackEnabledName         = "conntrack-enabled"
	AddL34FlowsWithoutSubnetName = "add-l34-flows-without-subnet"
	PolicyDomainName             = "policy-domain"
	DropLogIfaceName             = "droplog-iface"
	DropLogRemoteIPName          = "droplog-remote-ip"
	DropLogRemotePortName        = "droplog-remote-port"
	WorkerCountName              = "worker-count"
	CtZoneMinName                = "ct-zone-min"
	CtZoneMaxName                = "ct-zone-max"
	MetricsAddressName           = "metrics-address"
	LogLevelName                 = "log-level"
)

// Config is the agent configuration, populated once at startup.
type Config struct {
	// ConnTrackEnabled selects reflexive expansion for allow rules that
	// request connection tracking.
	ConnTrackEnabled bool

	// AddL34FlowsWithoutSubnet keeps protocol-level flows for rules that
	// carry neither remote subnets nor named service ports. When false
	// such rules compile to ethertype-level flows only.
	AddL34FlowsWithoutSubnet bool

	// PolicyDomain is the policy domain URI used to derive the system
	// security group name.
	PolicyDomain string

	// DropLogIface is the interface packets captured for drop logging are
	// mirrored to; empty disables the mirror port flows.
	DropLogIface string
	// DropLogRemoteIP and DropLogRemotePort describe the remote collector
	// the capture interface tunnels to.
	DropLogRemoteIP   string
	DropLogRemotePort uint16

	// WorkerCount sizes the update dispatcher's worker pool.
	WorkerCount int

	// CtZoneMin and CtZoneMax bound the conntrack zone range handed out
	// to endpoints.
	CtZoneMin uint16
	CtZoneMax uint16

	// MetricsAddress is the listen address of the Prometheus endpoint;
	// empty disables it.
	MetricsAddress string

	// LogLevel is the logrus level name.
	LogLevel string
}

// DefaultConfig holds the built-in defaults.
var DefaultConfig = Config{
	ConnTrackEnabled:         true,
	AddL34FlowsWithoutSubnet: true,
	WorkerCount:              4,
	CtZoneMin:                1,
	CtZoneMax:                65534,
	LogLevel:                 "info",
}

// AgentConfig is the process-wide configuration instance.
var AgentConfig = DefaultConfig

// RegisterFlags declares the agent flags with their built-in defaults on
// the given flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	def := DefaultConfig
	flags.Bool(ConnTrackEnabledName, def.ConnTrackEnabled,
		"Expand reflexive allow rules with connection tracking")
	flags.Bool(AddL34FlowsWithoutSubnetName, def.AddL34FlowsWithoutSubnet,
		"Compile protocol-level flows for rules without remote subnets")
	flags.String(PolicyDomainName, "",
		"Policy domain URI used to derive the system security group name")
	flags.String(DropLogIfaceName, "",
		"Interface dropped packets are mirrored to for capture")
	flags.String(DropLogRemoteIPName, "",
		"Drop-log tunnel destination address")
	flags.Uint16(DropLogRemotePortName, 6081,
		"Drop-log tunnel destination port")
	flags.Int(WorkerCountName, def.WorkerCount,
		"Number of update dispatcher workers")
	flags.Uint16(CtZoneMinName, def.CtZoneMin,
		"Lowest connection tracking zone handed to endpoints")
	flags.Uint16(CtZoneMaxName, def.CtZoneMax,
		"Highest connection tracking zone handed to endpoints")
	flags.String(MetricsAddressName, "",
		"Prometheus listen address, empty to disable")
	flags.String(LogLevelName, def.LogLevel,
		"Log level (trace, debug, info, warning, error)")
}

// Populate fills c from the given viper instance.
func (c *Config) Populate(vp *viper.Viper) {
	c.ConnTrackEnabled = vp.GetBool(ConnTrackEnabledName)
	c.AddL34FlowsWithoutSubnet = vp.GetBool(AddL34FlowsWithoutSubnetName)
	c.PolicyDomain = vp.GetString(PolicyDomainName)
	c.DropLogIface = vp.GetString(DropLogIfaceName)
	c.DropLogRemoteIP = vp.GetString(DropLogRemoteIPName)
	c.DropLogRemotePort = uint16(vp.GetUint32(DropLogRemotePortName))
	c.WorkerCount = vp.GetInt(WorkerCountName)
	c.CtZoneMin = uint16(vp.GetUint32(CtZoneMinName))
	c.CtZoneMax = uint16(vp.GetUint32(CtZoneMaxName))
	c.MetricsAddress = vp.GetString(MetricsAddressName)
	c.LogLevel = vp.GetString(LogLevelName)
}
