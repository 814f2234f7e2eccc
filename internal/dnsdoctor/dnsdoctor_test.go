package dnsdoctor

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func TestRewriteResponse_RewritesAInsideRemoteNetworkToNAT64AAAA(t *testing.T) {
	rule := Rule{
		NIID:     "C0001-down0",
		RemoteV4: mustCIDR(t, "10.10.0.0/16"),
		NAT64:    mustCIDR(t, "fdcc:0:c:1::/96"),
	}

	msg := new(dns.Msg)
	msg.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: "host.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP("10.10.1.2"),
	}}

	out := RewriteResponse(msg, rule)
	require.Len(t, out.Answer, 1)
	aaaa, ok := out.Answer[0].(*dns.AAAA)
	require.True(t, ok, "A answer inside RemoteV4 must be rewritten to AAAA")
	require.Equal(t, dns.TypeAAAA, aaaa.Hdr.Rrtype)
	require.Equal(t, "fdcc:0:c:1::a0a:102", aaaa.AAAA.String())

	// original message must be untouched
	require.IsType(t, &dns.A{}, msg.Answer[0])
}

func TestRewriteResponse_RewritesAAAAInsideRemoteNetworkUnderNPTv6(t *testing.T) {
	rule := Rule{
		NIID:     "C0001-down0",
		RemoteV6: mustCIDR(t, "2001:db8:1::/48"),
		NPTv6:    mustCIDR(t, "fd00:c:1::/48"),
	}

	msg := new(dns.Msg)
	msg.Answer = []dns.RR{&dns.AAAA{
		Hdr:  dns.RR_Header{Name: "host.example.", Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 300},
		AAAA: net.ParseIP("2001:db8:1::abcd"),
	}}

	out := RewriteResponse(msg, rule)
	require.Len(t, out.Answer, 1)
	aaaa, ok := out.Answer[0].(*dns.AAAA)
	require.True(t, ok)
	require.Equal(t, "fd00:c:1::abcd", aaaa.AAAA.String())
}

func TestRewriteResponse_LeavesAnswersOutsideRuleNetworksAlone(t *testing.T) {
	rule := Rule{
		NIID:     "C0001-down0",
		RemoteV4: mustCIDR(t, "10.10.0.0/16"),
		NAT64:    mustCIDR(t, "fdcc:0:c:1::/96"),
	}

	msg := new(dns.Msg)
	msg.Answer = []dns.RR{&dns.A{
		Hdr: dns.RR_Header{Name: "host.example.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 300},
		A:   net.ParseIP("203.0.113.5"),
	}}

	out := RewriteResponse(msg, rule)
	require.Len(t, out.Answer, 1)
	require.IsType(t, &dns.A{}, out.Answer[0])
	require.Equal(t, "203.0.113.5", out.Answer[0].(*dns.A).A.String())
}

type fakeChannel struct {
	mu    sync.Mutex
	pushed map[string][]Rule
	err    error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{pushed: map[string][]Rule{}}
}

func (f *fakeChannel) PushRules(ctx context.Context, niID string, rules []Rule) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed[niID] = rules
	return nil
}

func TestFeeder_SyncPushesRulesThroughChannel(t *testing.T) {
	ch := newFakeChannel()
	f := New(ch, logging.New(logging.DefaultConfig()))

	rules := []Rule{{NIID: "C0001-down0", RemoteV4: mustCIDR(t, "10.10.0.0/16")}}
	err := f.Sync(context.Background(), "C0001-down0", rules)
	require.NoError(t, err)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Equal(t, rules, ch.pushed["C0001-down0"])
}

func TestFeeder_SyncWrapsChannelError(t *testing.T) {
	ch := newFakeChannel()
	ch.err = context.DeadlineExceeded
	f := New(ch, logging.New(logging.DefaultConfig()))

	err := f.Sync(context.Background(), "C0001-down0", nil)
	require.Error(t, err)
}
