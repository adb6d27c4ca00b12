package main

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/tensorpool/tpool/driver"
	"github.com/tensorpool/tpool/wire"
)

// poolConfig is one payload pool entry under a [[streams]] table.
type poolConfig struct {
	PoolID      uint16 `toml:"pool_id"`
	StrideBytes uint32 `toml:"stride_bytes"`
	URI         string `toml:"uri"`
}

type streamConfig struct {
	StreamID        uint32       `toml:"stream_id"`
	LayoutVersion   uint32       `toml:"layout_version"`
	HeaderNSlots    uint32       `toml:"header_nslots"`
	HeaderSlotBytes uint32       `toml:"header_slot_bytes"`
	HeaderRegionURI string       `toml:"header_region_uri"`
	HugepagesBacked bool         `toml:"hugepages_backed"`
	Pools           []poolConfig `toml:"pools"`
}

// fileConfig is tp-driverd's config.toml shape (spec §3.12, §6 driver
// daemon).
type fileConfig struct {
	Listen                    string         `toml:"listen"`
	MetricsListen             string         `toml:"metrics_listen"`
	KeepaliveIntervalMs       int64          `toml:"keepalive_interval_ms"`
	LeaseExpiryGraceIntervals int            `toml:"lease_expiry_grace_intervals"`
	CooldownMs                int64          `toml:"cooldown_ms"`
	Streams                   []streamConfig `toml:"streams"`
}

func loadConfig(path string) (*fileConfig, error) {
	var cfg fileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Wrapf(err, "tp-driverd: decode %s", path)
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:9090"
	}
	return &cfg, nil
}

func (fc *fileConfig) serverConfig() driver.ServerConfig {
	return driver.ServerConfig{
		KeepaliveIntervalNs:   fc.KeepaliveIntervalMs * 1e6,
		LeaseExpiryGraceIntvs: fc.LeaseExpiryGraceIntervals,
		CooldownNs:            fc.CooldownMs * 1e6,
	}
}

func (sc *streamConfig) toDriverConfig() driver.StreamConfig {
	pools := make([]wire.PoolDescriptor, 0, len(sc.Pools))
	for _, p := range sc.Pools {
		pools = append(pools, wire.PoolDescriptor{PoolID: p.PoolID, StrideBytes: p.StrideBytes, URI: p.URI})
	}
	return driver.StreamConfig{
		StreamID:        sc.StreamID,
		LayoutVersion:   sc.LayoutVersion,
		HeaderNSlots:    sc.HeaderNSlots,
		HeaderSlotBytes: sc.HeaderSlotBytes,
		HeaderRegionURI: sc.HeaderRegionURI,
		HugepagesBacked: sc.HugepagesBacked,
		Pools:           pools,
	}
}
