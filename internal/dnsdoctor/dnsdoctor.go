// Package dnsdoctor computes the DNS rewrite rules §4.8 describes: A
// answers inside a downlink's remote v4 network become NAT64-embedded
// AAAA answers, and AAAA answers inside its remote v6 network are
// rewritten 1:1 under the connection's NPTv6 prefix. Rules are built
// and validated using github.com/miekg/dns the same way the teacher's
// own DNS service constructs records, then pushed to the netfilter DNS
// hook over a local control channel.
package dnsdoctor

import (
	"context"
	"net"

	"github.com/miekg/dns"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// Rule is one downlink's rewrite policy, computed from its allocated
// prefixes (§4.2) and the remote networks its connection's routes
// advertise.
type Rule struct {
	NIID     string
	RemoteV4 *net.IPNet // A answers inside this network are rewritten
	NAT64    *net.IPNet // /96 the rewritten AAAA answer embeds the v4 address into
	RemoteV6 *net.IPNet // AAAA answers inside this network are rewritten
	NPTv6    *net.IPNet // prefix the rewritten AAAA answer's network bits become
}

// ControlChannel pushes a downlink's computed rules to the netfilter
// DNS hook, an external collaborator that mangles DNS responses on the
// management path in flight. A real implementation talks to the hook's
// local control socket; tests substitute a fake that records pushes.
type ControlChannel interface {
	PushRules(ctx context.Context, niID string, rules []Rule) error
}

// Feeder pushes a caller-supplied rule set for one downlink NI at a
// time; it does not derive the rules from allocations itself.
type Feeder struct {
	channel ControlChannel
	logger  *logging.Logger
}

// New builds a Feeder pushing through channel.
func New(channel ControlChannel, logger *logging.Logger) *Feeder {
	return &Feeder{channel: channel, logger: logger}
}

// Sync pushes the given rule set for niID, replacing whatever was
// previously pushed for it.
func (f *Feeder) Sync(ctx context.Context, niID string, rules []Rule) error {
	if err := f.channel.PushRules(ctx, niID, rules); err != nil {
		return verr.Wrapf(err, verr.DriverTransient, "push dns rewrite rules for %s", niID)
	}
	f.logger.Info("pushed dns rewrite rules", "ni", niID, "rules", len(rules))
	return nil
}

// RewriteResponse applies rule to a DNS response message, returning a
// new message with matching A/AAAA answers rewritten. It never mutates
// msg. This is the same transform the netfilter hook performs in
// flight; it exists here so rule correctness is testable with
// miekg/dns directly, independent of the hook process.
func RewriteResponse(msg *dns.Msg, rule Rule) *dns.Msg {
	out := msg.Copy()
	rewritten := make([]dns.RR, 0, len(out.Answer))
	for _, rr := range out.Answer {
		switch v := rr.(type) {
		case *dns.A:
			if aaaa := rewriteA(v, rule); aaaa != nil {
				rewritten = append(rewritten, aaaa)
				continue
			}
		case *dns.AAAA:
			if mapped := rewriteAAAA(v, rule); mapped != nil {
				rewritten = append(rewritten, mapped)
				continue
			}
		}
		rewritten = append(rewritten, rr)
	}
	out.Answer = rewritten
	return out
}

// rewriteA turns an A record whose address lies in rule.RemoteV4 into
// an AAAA record embedding that address in rule.NAT64's low 32 bits.
func rewriteA(a *dns.A, rule Rule) *dns.AAAA {
	if rule.RemoteV4 == nil || rule.NAT64 == nil || !rule.RemoteV4.Contains(a.A) {
		return nil
	}
	embedded := nat64Embed(rule.NAT64, a.A)
	return &dns.AAAA{
		Hdr: dns.RR_Header{
			Name:   a.Hdr.Name,
			Rrtype: dns.TypeAAAA,
			Class:  a.Hdr.Class,
			Ttl:    a.Hdr.Ttl,
		},
		AAAA: embedded,
	}
}

// rewriteAAAA applies the NPTv6 1:1 network prefix translation to an
// AAAA record whose address lies in rule.RemoteV6, preserving every
// host bit below rule.NPTv6's prefix length.
func rewriteAAAA(a *dns.AAAA, rule Rule) *dns.AAAA {
	if rule.RemoteV6 == nil || rule.NPTv6 == nil || !rule.RemoteV6.Contains(a.AAAA) {
		return nil
	}
	mapped := nptv6Rewrite(rule.NPTv6, a.AAAA)
	return &dns.AAAA{
		Hdr:  a.Hdr,
		AAAA: mapped,
	}
}

// nat64Embed builds a /96 + 32-bit NAT64 address: base's network bits
// followed by the four bytes of v4.
func nat64Embed(base *net.IPNet, v4 net.IP) net.IP {
	out := make(net.IP, net.IPv6len)
	copy(out, base.IP.To16())
	v4 = v4.To4()
	copy(out[12:], v4)
	return out
}

// nptv6Rewrite replaces addr's network bits with base's, keeping every
// bit below base's prefix length unchanged (NPTv6's 1:1 mapping).
func nptv6Rewrite(base *net.IPNet, addr net.IP) net.IP {
	ones, _ := base.Mask.Size()
	out := make(net.IP, net.IPv6len)
	copy(out, addr.To16())
	baseBytes := base.IP.To16()
	fullBytes := ones / 8
	copy(out[:fullBytes], baseBytes[:fullBytes])
	if rem := ones % 8; rem != 0 {
		mask := byte(0xFF << (8 - rem))
		out[fullBytes] = (baseBytes[fullBytes] & mask) | (out[fullBytes] &^ mask)
	}
	return out
}
