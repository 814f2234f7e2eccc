// Package routingdaemon renders and reloads the BGP routing daemon's
// configuration (§4.7): one instance per core NI, an uplink peer-group,
// priority-derived route-maps, and prefix-lists built from the
// allocator prefixes. It writes the config atomically and issues a
// reload; it never restarts the daemon.
package routingdaemon

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// ManagementPrefix is the fixed management network UPLINK-PL-IN
// accepts, long enough to identify a peer.
const ManagementPrefix = "fd00::/16"

// BlackholeCommunity tags routes whose next-hop is the discard route,
// matched by UPLINK-OUT to apply the extra 10x prepend penalty.
const BlackholeCommunity = "65535:666"

// Instance is one core NI's BGP configuration, derived from the
// service's BGP globals plus the allocator's NAT64/NPTv6 prefixes for
// that NI.
type Instance struct {
	NIID          string
	ASN           uint32
	RouterID      string
	BFD           bool
	Neighbors     []config.BGPNeighbor
	NAT64Prefixes []*net.IPNet
	NPTv6Prefixes []*net.IPNet
}

// Renderer builds the daemon's config file and issues reloads.
type Renderer struct {
	configPath string
	reloadCmd  []string
	logger     *logging.Logger
}

// New builds a Renderer writing to configPath, reloading via reloadCmd
// (e.g. []string{"vtysh", "-b"}) when Reload is called.
func New(configPath string, reloadCmd []string, logger *logging.Logger) *Renderer {
	return &Renderer{configPath: configPath, reloadCmd: reloadCmd, logger: logger}
}

// Render renders every instance into one config file and writes it
// atomically (temp file in the same directory, then rename), so a
// reload never observes a partially-written file.
func (r *Renderer) Render(instances []Instance) error {
	var buf bytes.Buffer
	for _, inst := range instances {
		rendered, err := renderInstance(inst)
		if err != nil {
			return verr.Wrapf(err, verr.InvalidConfig, "render bgp instance for %s", inst.NIID)
		}
		buf.WriteString(rendered)
		buf.WriteString("\n")
	}

	dir := filepath.Dir(r.configPath)
	tmp, err := os.CreateTemp(dir, ".bgpd-*.conf.tmp")
	if err != nil {
		return verr.Wrap(err, verr.KernelBusy, "create temp bgp config")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return verr.Wrap(err, verr.KernelBusy, "write temp bgp config")
	}
	if err := tmp.Close(); err != nil {
		return verr.Wrap(err, verr.KernelBusy, "close temp bgp config")
	}
	if err := os.Rename(tmp.Name(), r.configPath); err != nil {
		return verr.Wrap(err, verr.KernelBusy, "rename bgp config into place")
	}

	r.logger.Info("rendered bgp config", "path", r.configPath, "instances", len(instances))
	return nil
}

// Reload signals the routing daemon to re-read its config without
// restarting it.
func (r *Renderer) Reload(ctx context.Context) error {
	if len(r.reloadCmd) == 0 {
		return verr.Errorf(verr.InvalidConfig, "no reload command configured")
	}
	cmd := exec.CommandContext(ctx, r.reloadCmd[0], r.reloadCmd[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return verr.Wrapf(err, verr.DriverTransient, "reload routing daemon: %s", strings.TrimSpace(string(out)))
	}
	r.logger.Info("reloaded routing daemon")
	return nil
}

const instanceTemplate = `router bgp {{.ASN}} vrf {{.NIID}}
 bgp router-id {{.RouterID}}
 neighbor UPLINK peer-group
 neighbor UPLINK timers 10 30
 neighbor UPLINK advertisement-interval 0
{{if .BFD}} neighbor UPLINK bfd
{{end}}{{range .Neighbors}} neighbor {{.Address}} remote-as {{.ASN}}
 neighbor {{.Address}} peer-group UPLINK
 neighbor {{.Address}} route-map UPLINK-IN-P{{.Priority}} in
 neighbor {{.Address}} route-map UPLINK-OUT-P{{.Priority}} out
{{end}}!
ip prefix-list UPLINK-PL-IN-{{.NIID}} permit {{.ManagementPrefix}} le 128
ip prefix-list UPLINK-PL-OUT-{{.NIID}} permit 2000::/3 ge 32
{{range .NAT64Prefixes}}ip prefix-list UPLINK-PL-OUT-{{$.NIID}} permit {{.}}
{{end}}{{range .NPTv6Prefixes}}ip prefix-list UPLINK-PL-OUT-{{$.NIID}} permit {{.}}
{{end}}!
{{range .Priorities}}route-map UPLINK-IN-P{{.}} permit 10
 match ip address prefix-list UPLINK-PL-IN-{{$.NIID}}
 set local-preference {{localPref .}}
!
route-map UPLINK-OUT-P{{.}} permit 5
 match community BLACKHOLE
 set as-path prepend {{prepend $.ASN . 10}}
route-map UPLINK-OUT-P{{.}} permit 10
 match ip address prefix-list UPLINK-PL-OUT-{{$.NIID}}
 set as-path prepend {{prepend $.ASN .}}
!
{{end}}ip community-list standard BLACKHOLE permit {{.BlackholeCommunity}}
`

type renderData struct {
	Instance
	ManagementPrefix   string
	BlackholeCommunity string
	Priorities         []int
}

var funcMap = template.FuncMap{
	"localPref": func(priority int) int { return 100 - 10*priority },
	"prepend": func(asn uint32, priority int, multiplier ...int) string {
		count := priority
		if len(multiplier) > 0 {
			count = priority * multiplier[0]
		}
		if count <= 0 {
			count = 1
		}
		parts := make([]string, count)
		for i := range parts {
			parts[i] = fmt.Sprintf("%d", asn)
		}
		return strings.Join(parts, " ")
	},
}

var instanceTmpl = template.Must(template.New("bgp-instance").Funcs(funcMap).Parse(instanceTemplate))

func renderInstance(inst Instance) (string, error) {
	seen := map[int]bool{}
	priorities := make([]int, 0, len(inst.Neighbors))
	for _, n := range inst.Neighbors {
		if !seen[n.Priority] {
			seen[n.Priority] = true
			priorities = append(priorities, n.Priority)
		}
	}
	sort.Ints(priorities)

	data := renderData{
		Instance:           inst,
		ManagementPrefix:   ManagementPrefix,
		BlackholeCommunity: BlackholeCommunity,
		Priorities:         priorities,
	}

	var buf bytes.Buffer
	if err := instanceTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
