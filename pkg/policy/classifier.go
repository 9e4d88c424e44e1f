// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

package policy

import (
	"net/netip"

	"github.com/accessflow/accessflow/pkg/flow"
	"github.com/accessflow/accessflow/pkg/logging"
	"github.com/accessflow/accessflow/pkg/logging/logfields"
	"github.com/accessflow/accessflow/pkg/rangemask"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "policy")

// ClassAction selects what the expanded entries do with matching traffic.
// The reflexive actions are the pieces of one reflexive allow rule spread
// over the forward and reverse tables.
type ClassAction uint8

const (
	// ClassActionAllow forwards matching traffic with no tracked state.
	ClassActionAllow ClassAction = iota
	// ClassActionDeny drops matching traffic.
	ClassActionDeny
	// ClassActionReflexFwd admits new tracked connections and commits
	// their state.
	ClassActionReflexFwd
	// ClassActionReflexFwdTrack sends untracked forward traffic through
	// connection tracking.
	ClassActionReflexFwdTrack
	// ClassActionReflexFwdEst forwards established tracked traffic.
	ClassActionReflexFwdEst
	// ClassActionReflexRevTrack sends untracked reverse traffic through
	// connection tracking.
	ClassActionReflexRevTrack
	// ClassActionReflexRevAllow forwards tracked reply traffic.
	ClassActionReflexRevAllow
	// ClassActionReflexRevRelated forwards tracked related traffic, such
	// as ICMP errors for a tracked connection.
	ClassActionReflexRevRelated
)

// TableSpec names the tables an expansion writes into: the table holding
// the entries, the table traffic continues to and the drop-processing
// table referenced by logging actions.
type TableSpec struct {
	Current uint8
	Next    uint8
	Drop    uint8
}

// ExpandContext carries the per-rule parameters shared by every entry of
// one expansion.
type ExpandContext struct {
	Tables   TableSpec
	Priority uint16
	Flags    flow.Flags
	Cookie   uint64

	// SetID is the security-group-set id the entries are scoped to; zero
	// skips the register match.
	SetID uint32
	// SystemRule marks rules from the system security group, which match
	// all sets and never commit connection state.
	SystemRule bool
}

// target is one resolved element of the source or destination cross
// product.
type target struct {
	universal bool
	prefix    netip.Prefix
	proto     uint8
	port      uint16
}

func parseTarget(address string, prefixLen uint8) (netip.Prefix, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return netip.Prefix{}, err
	}
	plen := int(prefixLen)
	if plen == 0 || plen > addr.BitLen() {
		plen = addr.BitLen()
	}
	return netip.PrefixFrom(addr, plen).Masked(), nil
}

// effectiveSubnets resolves a subnet list into targets. A nil list means
// no restriction and yields the single universal target; a non-nil empty
// list yields no targets at all. Unparseable addresses are logged and
// skipped without discarding their siblings.
func effectiveSubnets(subnets []Subnet) []target {
	if subnets == nil {
		return []target{{universal: true}}
	}
	targets := make([]target, 0, len(subnets))
	for _, sn := range subnets {
		pfx, err := parseTarget(sn.Address, sn.PrefixLen)
		if err != nil {
			log.WithError(err).WithField(logfields.Address, sn.Address).
				Warn("Skipping unparseable remote subnet")
			continue
		}
		targets = append(targets, target{prefix: pfx})
	}
	return targets
}

func appendNamedTargets(targets []target, named []ServicePort) []target {
	for _, sp := range named {
		pfx, err := parseTarget(sp.Address, sp.PrefixLen)
		if err != nil {
			log.WithError(err).WithField(logfields.Address, sp.Address).
				Warn("Skipping unparseable service address")
			continue
		}
		targets = append(targets, target{prefix: pfx, proto: sp.Proto, port: sp.Port})
	}
	return targets
}

func familyMatches(addr netip.Addr, ethType uint16) bool {
	if addr.Is4() {
		return ethType == flow.EthTypeIP || ethType == flow.EthTypeARP
	}
	return ethType == flow.EthTypeIPv6
}

// applyProtocol records the ethertype and protocol match and returns the
// ethertype for the address-family guard. For ARP the opcode takes the
// protocol slot.
func applyProtocol(b *flow.Builder, cls *Classifier) uint16 {
	ethType := cls.EtherType
	if ethType != 0 {
		b.EthType(ethType)
	}
	if ethType == flow.EthTypeARP {
		if cls.ArpOpc != 0 {
			b.Proto(cls.ArpOpc)
		}
	} else if cls.ProtoSet {
		b.Proto(cls.Proto)
	}
	return ethType
}

// portMasks resolves the classifier's L4 predicates into source and
// destination mask lists. ICMP type and code ride in the source and
// destination port slots as exact values. Both lists are padded with a
// match-anything mask so the cross product is never empty.
func portMasks(cls *Classifier) (src, dst rangemask.MaskList) {
	if cls.ProtoSet && cls.Proto == flow.ProtoICMP &&
		(cls.ICMPTypeSet || cls.ICMPCodeSet) {
		if cls.ICMPTypeSet {
			src = rangemask.MaskList{{Value: uint16(cls.ICMPType), Mask: 0xffff}}
		}
		if cls.ICMPCodeSet {
			dst = rangemask.MaskList{{Value: uint16(cls.ICMPCode), Mask: 0xffff}}
		}
	} else {
		if cls.SrcPorts != nil {
			src = rangemask.GetMasks(cls.SrcPorts.From, cls.SrcPorts.To)
		}
		if cls.DstPorts != nil {
			dst = rangemask.GetMasks(cls.DstPorts.From, cls.DstPorts.To)
		}
	}
	if len(src) == 0 {
		src = rangemask.MaskList{{}}
	}
	if len(dst) == 0 {
		dst = rangemask.MaskList{{}}
	}
	return src, dst
}

// tcpFlagCombos returns the exact flag combinations to expand, or a single
// zero mask when the classifier has no flag predicate. The established
// pseudo-flag expands to ACK and RST so either direction of an already
// established connection matches.
func tcpFlagCombos(cls *Classifier) []uint16 {
	if cls.TCPEstablished {
		return []uint16{TCPFlagACK, TCPFlagRST}
	}
	if cls.TCPFlags != 0 {
		return []uint16{cls.TCPFlags}
	}
	return []uint16{0}
}

// AppendClassifierEntries expands one classifier with the given action
// into entries appended to the list. Source and destination subnets follow
// the effectiveSubnets nil/empty convention; named service ports extend
// the destination set. The reverse reflexive actions keep the protocol and
// subnet matching but not the port and flag predicates, whose values
// describe the forward five-tuple; ClassActionReflexRevRelated matches on
// the ethertype alone.
func AppendClassifierEntries(cls *Classifier, act ClassAction, ruleLog bool,
	srcSubnets, dstSubnets []Subnet, dstNamed []ServicePort,
	ctx ExpandContext, entries *flow.EntryList) {

	setID := ctx.SetID
	if ctx.SystemRule {
		setID = 0
	}

	if act == ClassActionReflexRevRelated {
		ethType := cls.EtherType
		if ethType != flow.EthTypeIP && ethType != flow.EthTypeIPv6 {
			return
		}
		b := flow.NewBuilder()
		b.Table(ctx.Tables.Current).Priority(ctx.Priority).
			Cookie(ctx.Cookie).Flags(ctx.Flags)
		if setID != 0 {
			b.Reg0(setID)
		}
		b.EthType(ethType)
		b.CtState(flow.CTTracked|flow.CTRelated|flow.CTReply,
			flow.CTTracked|flow.CTRelated|flow.CTReply|
				flow.CTEstablished|flow.CTInvalid|flow.CTNew)
		b.Action().Go(ctx.Tables.Next)
		b.BuildInto(entries)
		return
	}

	effSrc := effectiveSubnets(srcSubnets)
	effDst := appendNamedTargets(effectiveSubnets(dstSubnets), dstNamed)

	// Reply packets carry the forward rule's ports swapped, so the reverse
	// entries must not match them; conntrack already scopes the entries to
	// the tracked connection.
	reverse := act == ClassActionReflexRevTrack || act == ClassActionReflexRevAllow

	srcPorts, dstPorts := portMasks(cls)
	flagCombos := tcpFlagCombos(cls)
	tcpFlagged := cls.TCPEstablished || cls.TCPFlags != 0
	if reverse {
		srcPorts = rangemask.MaskList{{}}
		dstPorts = rangemask.MaskList{{}}
		flagCombos = []uint16{0}
		tcpFlagged = false
	}

	for _, src := range effSrc {
		for _, dst := range effDst {
			for _, sm := range srcPorts {
				for _, dm := range dstPorts {
					for _, fl := range flagCombos {
						b := flow.NewBuilder()
						b.Table(ctx.Tables.Current).Priority(ctx.Priority).
							Cookie(ctx.Cookie).Flags(ctx.Flags)
						if setID != 0 {
							b.Reg0(setID)
						}

						switch act {
						case ClassActionReflexFwd:
							b.CtState(flow.CTNew|flow.CTTracked,
								flow.CTNew|flow.CTTracked)
						case ClassActionReflexFwdTrack,
							ClassActionReflexRevTrack:
							b.CtState(0, flow.CTTracked)
						case ClassActionReflexFwdEst:
							b.CtState(flow.CTEstablished|flow.CTTracked,
								flow.CTEstablished|flow.CTTracked)
						case ClassActionReflexRevAllow:
							b.CtState(flow.CTTracked|flow.CTEstablished|flow.CTReply,
								flow.CTTracked|flow.CTEstablished|flow.CTReply|
									flow.CTInvalid|flow.CTNew|flow.CTRelated)
						}

						ethType := applyProtocol(b, cls)
						if tcpFlagged {
							b.TCPFlags(fl, fl)
						}
						if !src.universal {
							if !familyMatches(src.prefix.Addr(), ethType) {
								continue
							}
							b.IPSrc(src.prefix)
						}
						if !dst.universal {
							if !familyMatches(dst.prefix.Addr(), ethType) {
								continue
							}
							b.IPDst(dst.prefix)
							if dst.port != 0 && !reverse {
								b.Proto(dst.proto)
								b.TpDst(dst.port)
							}
						}
						if sm.Mask != 0 {
							b.TpSrcMasked(sm.Value, sm.Mask)
						}
						if dm.Mask != 0 && !b.HasTpDst() {
							b.TpDstMasked(dm.Value, dm.Mask)
						}

						switch act {
						case ClassActionDeny:
							if ruleLog {
								b.Action().
									DropLog(ctx.Tables.Current,
										flow.ReasonPolicyDeny, ctx.Cookie).
									Go(ctx.Tables.Drop)
							} else {
								// Clearing the drop-log bit keeps the sink
								// table from capturing the packet.
								b.Action().
									Metadata(0, flow.MetaDropLog).
									Go(ctx.Tables.Drop)
							}
						case ClassActionReflexFwdTrack,
							ClassActionReflexRevTrack:
							b.Action().Conntrack(flow.Reg6, ctx.Tables.Next)
						case ClassActionReflexFwd:
							ab := b.Action()
							if !ctx.SystemRule {
								ab.ConntrackCommit(flow.Reg6)
								if ruleLog {
									ab.PermitLog(ctx.Tables.Current,
										ctx.Tables.Drop, ctx.Cookie)
								}
							}
							ab.Go(ctx.Tables.Next)
						default:
							ab := b.Action()
							if ruleLog {
								ab.PermitLog(ctx.Tables.Current,
									ctx.Tables.Drop, ctx.Cookie)
							}
							ab.Go(ctx.Tables.Next)
						}

						b.BuildInto(entries)
					}
				}
			}
		}
	}
}

// AppendL2ClassifierEntries expands a classifier with no IP protocol
// predicate into a single ethertype-level entry. Classifiers that do name
// a protocol are handled by AppendClassifierEntries and yield nothing
// here.
func AppendL2ClassifierEntries(cls *Classifier, act ClassAction, ruleLog bool,
	ctx ExpandContext, entries *flow.EntryList) {

	if cls.ProtoSet {
		return
	}

	setID := ctx.SetID
	if ctx.SystemRule {
		setID = 0
	}

	b := flow.NewBuilder()
	b.Table(ctx.Tables.Current).Priority(ctx.Priority).
		Cookie(ctx.Cookie).Flags(ctx.Flags)
	if setID != 0 {
		b.Reg0(setID)
	}
	applyProtocol(b, cls)

	if act == ClassActionDeny {
		if ruleLog {
			b.Action().
				DropLog(ctx.Tables.Current, flow.ReasonPolicyDeny, ctx.Cookie).
				Go(ctx.Tables.Drop)
		} else {
			b.Action().Metadata(0, flow.MetaDropLog).Go(ctx.Tables.Drop)
		}
	} else {
		ab := b.Action()
		if ruleLog {
			ab.PermitLog(ctx.Tables.Current, ctx.Tables.Drop, ctx.Cookie)
		}
		ab.Go(ctx.Tables.Next)
	}

	b.BuildInto(entries)
}
