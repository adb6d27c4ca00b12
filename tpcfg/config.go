// Package tpcfg is a file-backed TOML configuration with defaults and
// validation. No daemon under cmd/ imports it; tp-driverd and tp-discoveryd
// decode their own config files. Config file
// parsing is explicitly out of core scope (spec.md §1) -- this package is
// the thin seam between a TOML file and the in-core setter surface.
package tpcfg

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tensorpool/tpool/tpcmn/cos"
)

// Config is the on-disk shape decoded by Load.
type Config struct {
	Fabric struct {
		BasePath    string `toml:"base_path"`
		BaseChannel uint32 `toml:"base_channel"`
	} `toml:"fabric"`

	SHM struct {
		AllowedPaths     []string `toml:"allowed_paths"`
		RequireHugepages bool     `toml:"require_hugepages"`
	} `toml:"shm"`

	Lease struct {
		KeepaliveIntervalMs  int64 `toml:"keepalive_interval_ms"`
		ExpiryGraceIntervals int64 `toml:"expiry_grace_intervals"`
		CooldownMs           int64 `toml:"cooldown_ms"`
	} `toml:"lease"`

	Announce struct {
		PeriodMs int64 `toml:"period_ms"`
	} `toml:"announce"`

	Discovery struct {
		MaxResults int `toml:"max_results"`
		MaxEntries int `toml:"max_entries"`
	} `toml:"discovery"`

	Timeouts struct {
		AttachMs   int64 `toml:"attach_ms"`
		ReadFrameMs int64 `toml:"read_frame_ms"`
	} `toml:"timeouts"`
}

// Load decodes a TOML config file into Config, then validates it.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, cos.NewConfigErr("decode %s: %v", path, err)
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Lease.KeepaliveIntervalMs == 0 {
		c.Lease.KeepaliveIntervalMs = 1000
	}
	if c.Lease.ExpiryGraceIntervals == 0 {
		c.Lease.ExpiryGraceIntervals = 3
	}
	if c.Lease.CooldownMs == 0 {
		c.Lease.CooldownMs = 10_000
	}
	if c.Announce.PeriodMs == 0 {
		c.Announce.PeriodMs = 1000
	}
	if c.Discovery.MaxResults == 0 {
		c.Discovery.MaxResults = 1000
	}
	if c.Discovery.MaxEntries == 0 {
		c.Discovery.MaxEntries = 10_000
	}
	if c.Timeouts.AttachMs == 0 {
		c.Timeouts.AttachMs = 2000
	}
	if c.Timeouts.ReadFrameMs == 0 {
		c.Timeouts.ReadFrameMs = 100
	}
}

func (c *Config) validate() error {
	if len(c.SHM.AllowedPaths) == 0 {
		return cos.NewConfigErr("shm.allowed_paths must not be empty")
	}
	return nil
}

func (c *Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.Lease.KeepaliveIntervalMs) * time.Millisecond
}

func (c *Config) LeaseCooldown() time.Duration {
	return time.Duration(c.Lease.CooldownMs) * time.Millisecond
}

func (c *Config) AnnouncePeriod() time.Duration {
	return time.Duration(c.Announce.PeriodMs) * time.Millisecond
}

func (c *Config) AttachTimeout() time.Duration {
	return time.Duration(c.Timeouts.AttachMs) * time.Millisecond
}

func (c *Config) ReadFrameTimeout() time.Duration {
	return time.Duration(c.Timeouts.ReadFrameMs) * time.Millisecond
}

// StaleConsumer is 5x the announce period per spec §5 default.
func (c *Config) StaleConsumer() time.Duration {
	return 5 * c.AnnouncePeriod()
}

// DirectoryFreshness is 3x the announce period per spec §3/§4.7.
func (c *Config) DirectoryFreshness() time.Duration {
	return 3 * c.AnnouncePeriod()
}
