// Package install resolves the filesystem layout the daemon runs against:
// config directories, log directory, and runtime socket path, each
// overridable by environment variable for local testing.
package install

import (
	"os"
	"path/filepath"
	"strings"
)

// ConfigEnvPrefix is the environment variable prefix consulted before
// falling back to the compiled-in defaults below.
const ConfigEnvPrefix = "VPNC"

const socketName = "vpncd.sock"

var (
	// DefaultConfigDir is the root of the tenant/service config store.
	DefaultConfigDir = "/opt/ncubed/config/vpnc"
	// DefaultLogDir holds the daemon's log output.
	DefaultLogDir = "/var/log/ncubed/vpnc"
	// DefaultRunDir holds the PID file and status socket.
	DefaultRunDir = "/run/vpnc"
)

// ActiveDir returns the active/ subdirectory of the config store.
func ActiveDir() string {
	return filepath.Join(GetConfigDir(), "active")
}

// CandidateDir returns the candidate/ subdirectory of the config store.
func CandidateDir() string {
	return filepath.Join(GetConfigDir(), "candidate")
}

// UnitsDir returns the service-unit-files directory. It is an external
// collaborator's territory (packaging owns its contents); the daemon
// only needs the path to exist on the filesystem layout.
func UnitsDir() string {
	return filepath.Join(GetConfigDir(), "units")
}

// GetConfigDir returns the config directory, checking env vars first.
// Priority: VPNC_CONFIG_DIR > VPNC_PREFIX/config/vpnc > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config", "vpnc")
	}
	return DefaultConfigDir
}

// GetLogDir returns the log directory, checking env vars first.
// Priority: VPNC_LOG_DIR > VPNC_PREFIX/log/vpnc > DefaultLogDir
func GetLogDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_LOG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "log", "vpnc")
	}
	return DefaultLogDir
}

// GetRunDir returns the runtime directory for the PID file and status
// socket. Priority: VPNC_RUN_DIR > VPNC_PREFIX/run > DefaultRunDir
func GetRunDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_RUN_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "run")
	}
	return DefaultRunDir
}

// GetSocketPath returns the full path to the read-only status query
// socket (the observability surface).
func GetSocketPath() string {
	if path := os.Getenv(ConfigEnvPrefix + "_STATUS_SOCKET"); path != "" {
		return path
	}
	return filepath.Join(GetRunDir(), socketName)
}

// defaultBGPConfigPath is where the routing daemon's rendered
// configuration is written.
var defaultBGPConfigPath = "/etc/frr/frr.conf"

// GetBGPConfigPath returns the routing daemon's config file path.
// Priority: VPNC_BGP_CONFIG_PATH > defaultBGPConfigPath.
func GetBGPConfigPath() string {
	if path := os.Getenv(ConfigEnvPrefix + "_BGP_CONFIG_PATH"); path != "" {
		return path
	}
	return defaultBGPConfigPath
}

// GetBGPReloadCommand returns the argv used to reload the routing
// daemon after GetBGPConfigPath is rewritten. Priority:
// VPNC_BGP_RELOAD_CMD (space-separated) > the vtysh default.
func GetBGPReloadCommand() []string {
	if cmd := os.Getenv(ConfigEnvPrefix + "_BGP_RELOAD_CMD"); cmd != "" {
		return strings.Fields(cmd)
	}
	return []string{"vtysh", "-b"}
}
