// Package config loads the sdhcpd runtime configuration from the
// environment and the subnet declarations from a YAML file.
package config

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"sdhcpd/internal/sdhcp"
)

// Load returns a Config populated from environment variables. A server
// identity is generated when none is configured.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.LeaseTime <= 0 {
		return fmt.Errorf("SDHCP_LEASE_TIME must be positive, got %s", c.LeaseTime)
	}
	if c.MaxLeaseTime < c.LeaseTime {
		return fmt.Errorf("SDHCP_MAX_LEASE_TIME %s is below SDHCP_LEASE_TIME %s", c.MaxLeaseTime, c.LeaseTime)
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("SDHCP_RESERVATION_TTL must be positive, got %s", c.ReservationTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SDHCP_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if !sdhcp.ValidPrefixLength(c.DefaultPrefixLength) {
		return fmt.Errorf("SDHCP_DEFAULT_PREFIX_LENGTH %d out of range 0-%d", c.DefaultPrefixLength, sdhcp.MaxPrefixLength)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("SDHCP_PORT %d outside the valid range 1-65535", c.Port)
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("SDHCP_SUBJECT_PREFIX must not be empty")
	}
	return nil
}

// LoadSubnets reads and validates the subnet declaration file,
// returning the subnets in declaration order and the index of the
// default subnet (the one flagged `default: true`, else the first).
func LoadSubnets(path string) ([]sdhcp.Subnet, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read subnets file: %w", err)
	}
	return ParseSubnets(data)
}

// ParseSubnets parses the YAML subnet declarations.
func ParseSubnets(data []byte) ([]sdhcp.Subnet, int, error) {
	var file SubnetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, 0, fmt.Errorf("parse subnets file: %w", err)
	}
	if len(file.Subnets) == 0 {
		return nil, 0, fmt.Errorf("subnets file declares no subnets")
	}

	subnets := make([]sdhcp.Subnet, 0, len(file.Subnets))
	defaultIdx := -1
	for i, decl := range file.Subnets {
		base, err := sdhcp.ParseAddress(decl.Base)
		if err != nil {
			return nil, 0, fmt.Errorf("subnet %d: %w", i, err)
		}
		sub := sdhcp.Subnet{
			Base:         base,
			PrefixLength: decl.PrefixLength,
			PoolStart:    decl.PoolStart,
		}
		if decl.PoolEnd != nil {
			sub.PoolEnd = *decl.PoolEnd
		} else {
			sub.PoolEnd = sub.HostMax()
		}
		if err := sub.Validate(); err != nil {
			return nil, 0, fmt.Errorf("subnet %d: %w", i, err)
		}
		if decl.Default {
			if defaultIdx >= 0 {
				return nil, 0, fmt.Errorf("subnet %d: more than one subnet flagged default", i)
			}
			defaultIdx = i
		}
		subnets = append(subnets, sub)
	}
	if defaultIdx < 0 {
		defaultIdx = 0
	}
	return subnets, defaultIdx, nil
}
