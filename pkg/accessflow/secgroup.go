// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package accessflow

import (
	"github.com/accessflow/accessflow/pkg/flow"
	"github.com/accessflow/accessflow/pkg/idgen"
	"github.com/accessflow/accessflow/pkg/logging/logfields"
	"github.com/accessflow/accessflow/pkg/metrics"
	"github.com/accessflow/accessflow/pkg/policy"
)

// systemCatchAllPriority sits above the static default-continue entries
// in the system tables so unmatched traffic is logged and dropped when
// system rules exist.
const systemCatchAllPriority = 2

// groupTables are the table roles one security group's rules compile
// into; system groups use the system tables and continue into the user
// tables instead of the tap table.
type groupTables struct {
	ingress      uint8
	egress       uint8
	afterIngress uint8
	afterEgress  uint8
}

var userGroupTables = groupTables{
	ingress:      SecGrpInTableID,
	egress:       SecGrpOutTableID,
	afterIngress: TapTableID,
	afterEgress:  TapTableID,
}

var systemGroupTables = groupTables{
	ingress:      SysSecGrpInTableID,
	egress:       SysSecGrpOutTableID,
	afterIngress: SecGrpInTableID,
	afterEgress:  SecGrpOutTableID,
}

func (m *Manager) handleSecGrpSetUpdate(groups []string, id string) {
	scopedLog := log.WithField(logfields.SecGroupSet, id)
	scopedLog.Debug("Updating security group set")
	metrics.Recomputations.WithLabelValues(metrics.KindSecGroupSet).Inc()

	if m.endpoints.SecGroupSetEmpty(groups) {
		m.flows.ClearFlows(id, SecGrpInTableID)
		m.flows.ClearFlows(id, SecGrpOutTableID)
		m.flows.ClearFlows(id, SysSecGrpInTableID)
		m.flows.ClearFlows(id, SysSecGrpOutTableID)
		return
	}

	setID := m.idGen.GetID(idgen.NamespaceSecGroupSet, id)

	var secGrpIn, secGrpOut flow.EntryList
	var sysSecGrpIn, sysSecGrpOut flow.EntryList
	anySystemRule := false

	for _, group := range groups {
		rules := m.policies.SecGroupRules(group)

		system := m.isSystemSecurityGroup(group)
		tables := userGroupTables
		inList, outList := &secGrpIn, &secGrpOut
		if system {
			tables = systemGroupTables
			inList, outList = &sysSecGrpIn, &sysSecGrpOut
		}

		for _, rule := range rules {
			if system {
				anySystemRule = true
			}
			m.expandRule(rule, system, setID, tables, inList, outList)
		}
	}

	m.writeFlows(id, SecGrpInTableID, secGrpIn)
	m.writeFlows(id, SecGrpOutTableID, secGrpOut)

	if anySystemRule {
		// Unmatched traffic in the system tables is logged and dropped
		// instead of falling through to the static continues.
		for _, table := range []uint8{SysSecGrpInTableID, SysSecGrpOutTableID} {
			var catchAll flow.EntryList
			b := flow.NewBuilder()
			b.Table(table).Priority(systemCatchAllPriority).
				Cookie(flow.CookieTableDrop).
				Flags(flow.FlagSendFlowRem)
			b.Action().
				DropLog(table, flow.ReasonTableMiss, flow.CookieTableDrop).
				Go(ExpDropTableID)
			b.BuildInto(&catchAll)
			m.writeFlows(ownerSystemDropLog, table, catchAll)
		}

		m.writeFlows(id, SysSecGrpInTableID, sysSecGrpIn)
		m.writeFlows(id, SysSecGrpOutTableID, sysSecGrpOut)
	} else {
		m.flows.ClearFlows(id, SysSecGrpInTableID)
		m.flows.ClearFlows(id, SysSecGrpOutTableID)
		m.flows.ClearFlows(ownerSystemDropLog, SysSecGrpInTableID)
		m.flows.ClearFlows(ownerSystemDropLog, SysSecGrpOutTableID)
	}
}

// expandRule compiles one rule into the ingress and egress entry lists of
// its group's tables.
func (m *Manager) expandRule(rule *policy.Rule, system bool, setID uint32,
	tables groupTables, inList, outList *flow.EntryList) {

	cls := &rule.Classifier
	cookie := uint64(m.idGen.GetID(idgen.NamespaceL24ClassRule, rule.URI))

	// nil means unrestricted; a non-nil empty slice means the rule named
	// targets but none apply on that side.
	var remote []policy.Subnet
	var named []policy.ServicePort
	skipL34 := false
	if len(rule.RemoteSubnets) > 0 || len(rule.NamedServicePorts) > 0 {
		remote = rule.RemoteSubnets
		if remote == nil {
			remote = []policy.Subnet{}
		}
		named = rule.NamedServicePorts
	} else {
		skipL34 = !m.addL34FlowsWithoutSubnet
		log.WithField(logfields.Rule, rule.URI).
			WithField("skipL34", skipL34).
			Debug("Rule carries no remote subnets")
	}

	act := policy.ClassActionDeny
	if rule.Allow {
		if rule.ConnTrack == policy.ConnTrackReflexive {
			act = policy.ClassActionReflexFwd
		} else {
			act = policy.ClassActionAllow
		}
	}

	ctx := func(current, next uint8, cookie uint64) policy.ExpandContext {
		return policy.ExpandContext{
			Tables:     policy.TableSpec{Current: current, Next: next, Drop: ExpDropTableID},
			Priority:   rule.Priority,
			Flags:      flow.FlagSendFlowRem,
			Cookie:     cookie,
			SetID:      setID,
			SystemRule: system,
		}
	}

	inDir := rule.Direction == policy.DirectionIn ||
		rule.Direction == policy.DirectionBidirectional
	outDir := rule.Direction == policy.DirectionOut ||
		rule.Direction == policy.DirectionBidirectional

	if skipL34 {
		if inDir {
			next := tables.afterIngress
			if act == policy.ClassActionDeny {
				next = ExpDropTableID
			}
			policy.AppendL2ClassifierEntries(cls, act, rule.Log,
				ctx(tables.ingress, next, cookie), inList)
		}
		if outDir {
			next := tables.afterEgress
			if act == policy.ClassActionDeny {
				next = ExpDropTableID
			}
			policy.AppendL2ClassifierEntries(cls, act, rule.Log,
				ctx(tables.egress, next, cookie), outList)
		}
		return
	}

	if inDir {
		next := tables.afterIngress
		if act == policy.ClassActionDeny {
			next = ExpDropTableID
		}
		policy.AppendClassifierEntries(cls, act, rule.Log,
			remote, nil, nil, ctx(tables.ingress, next, cookie), inList)

		if act == policy.ClassActionReflexFwd {
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexFwdTrack, rule.Log,
				remote, nil, nil,
				ctx(tables.ingress, GroupMapTableID, cookie), inList)
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexFwdEst, rule.Log,
				remote, nil, nil,
				ctx(tables.ingress, tables.afterIngress, cookie), inList)
			// Reverse direction: the remote subnets become destinations.
			// The track entry carries a zero cookie so return traffic is
			// not double counted against the rule.
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexRevTrack, rule.Log,
				nil, remote, named,
				ctx(tables.egress, GroupMapTableID, 0), outList)
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexRevAllow, rule.Log,
				nil, remote, named,
				ctx(tables.egress, tables.afterEgress, cookie), outList)
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexRevRelated, rule.Log,
				nil, remote, named,
				ctx(tables.egress, tables.afterEgress, cookie), outList)
		}
	}

	if outDir {
		next := tables.afterEgress
		if act == policy.ClassActionDeny {
			next = ExpDropTableID
		}
		policy.AppendClassifierEntries(cls, act, rule.Log,
			nil, remote, named, ctx(tables.egress, next, cookie), outList)

		if act == policy.ClassActionReflexFwd {
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexFwdTrack, rule.Log,
				nil, remote, named,
				ctx(tables.egress, GroupMapTableID, cookie), outList)
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexFwdEst, rule.Log,
				nil, remote, named,
				ctx(tables.egress, tables.afterEgress, cookie), outList)
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexRevTrack, rule.Log,
				remote, nil, nil,
				ctx(tables.ingress, GroupMapTableID, 0), inList)
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexRevAllow, rule.Log,
				remote, nil, nil,
				ctx(tables.ingress, tables.afterIngress, cookie), inList)
			policy.AppendClassifierEntries(cls,
				policy.ClassActionReflexRevRelated, rule.Log,
				remote, nil, nil,
				ctx(tables.ingress, tables.afterIngress, cookie), inList)
		}
	}
}
