package config

import (
	"log/slog"

	"github.com/LittleNewton/zfs/inject"
	"github.com/LittleNewton/zfs/spa"
)

// EngineOptions builds injection engine options from the configuration.
func (c *Config) EngineOptions(broker inject.PoolBroker, logger *slog.Logger) inject.Options {
	return inject.Options{
		Broker:   broker,
		Logger:   logger,
		Seed:     c.Injection.Seed,
		MaxLanes: c.Injection.MaxLanes,
	}
}

// PoolConfig builds a pool configuration around the given device tree,
// applying the configured cache settings.
func (c *Config) PoolConfig(devices []spa.DeviceConfig) spa.PoolConfig {
	comp, err := c.CompressionType()
	if err != nil {
		// Validate catches this at load time; fall back to the
		// default codec if a hand-built Config skipped validation.
		comp, _ = DefaultConfig().CompressionType()
	}
	return spa.PoolConfig{
		Devices:       devices,
		CacheCapacity: c.Cache.Capacity,
		CacheShards:   c.Cache.Shards,
		Compression:   comp,
	}
}
