package config

import "time"

// Config holds runtime configuration for the sdhcpd service.
type Config struct {
	NATSURL             string        `env:"SDHCP_NATS_URL,default=nats://127.0.0.1:4222"`
	SubjectPrefix       string        `env:"SDHCP_SUBJECT_PREFIX,default=sdhcp"`
	ServerID            string        `env:"SDHCP_SERVER_ID"`
	SubnetsFile         string        `env:"SDHCP_SUBNETS_FILE,default=subnets.yaml"`
	LeaseTime           time.Duration `env:"SDHCP_LEASE_TIME,default=1h"`
	MaxLeaseTime        time.Duration `env:"SDHCP_MAX_LEASE_TIME,default=24h"`
	ReservationTTL      time.Duration `env:"SDHCP_RESERVATION_TTL,default=30s"`
	SweepInterval       time.Duration `env:"SDHCP_SWEEP_INTERVAL,default=5s"`
	DefaultPrefixLength int           `env:"SDHCP_DEFAULT_PREFIX_LENGTH,default=48"`
	Port                int           `env:"SDHCP_PORT,default=67"`
	OpsAddr             string        `env:"SDHCP_OPS_ADDR,default=:8067"`
	DBDSN               string        `env:"SDHCP_DB_DSN"`
	OTLPEndpoint        string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// SubnetsFile is the YAML shape of the subnet declaration file.
type SubnetsFile struct {
	Subnets []SubnetDecl `yaml:"subnets"`
}

// SubnetDecl declares one subnet. PoolEnd defaults to the largest host
// value the prefix length allows.
type SubnetDecl struct {
	Base         string  `yaml:"base"`
	PrefixLength int     `yaml:"prefixLength"`
	PoolStart    uint64  `yaml:"poolStart"`
	PoolEnd      *uint64 `yaml:"poolEnd"`
	Default      bool    `yaml:"default"`
}
