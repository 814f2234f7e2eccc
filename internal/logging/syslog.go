package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig configures optional forwarding of log records to a syslog
// endpoint.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"; empty defaults to "udp"
	Tag      string
	Facility syslog.Priority // facility code, RFC 5424 numbering (1 = user, 3 = daemon)
}

// DefaultSyslogConfig returns syslog forwarding disabled, with the
// defaults that would apply if it were enabled without further overrides.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "vpncd",
		Facility: 1, // user
	}
}

// NewSyslogWriter dials the configured syslog endpoint and returns an
// io.Writer suitable for use as a log sink. Host is required; Port,
// Protocol, and Tag are defaulted when left zero.
func NewSyslogWriter(cfg SyslogConfig) (*syslog.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "vpncd"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return syslog.Dial(cfg.Protocol, addr, (cfg.Facility<<3)|syslog.LOG_INFO, cfg.Tag)
}
