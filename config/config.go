// Package config loads the frame-node configuration and genesis files.
// Both are YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/frame/example/staking"
	"github.com/blockberries/frame/example/testchain"
	"github.com/blockberries/frame/types"
)

// Defaults.
const (
	DefaultListen    = "127.0.0.1:26658"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Config is the node configuration.
type Config struct {
	// gRPC listen address of the runtime service.
	Listen string `yaml:"listen"`
	// Directory of the LevelDB state backend. Empty = in-memory.
	DataDir string `yaml:"data_dir"`
	// Address of the Prometheus endpoint. Empty = disabled.
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	// "text" or "json".
	LogFormat string `yaml:"log_format"`
	// Path of the genesis file, used on a fresh chain.
	Genesis string `yaml:"genesis"`

	Limits        types.BlockLimits  `yaml:"limits"`
	Fees          *types.FeeSchedule `yaml:"fees"`
	SessionLength uint64             `yaml:"session_length"`
	Staking       staking.Config     `yaml:"staking"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:    DefaultListen,
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Limits:    types.DefaultBlockLimits(),
	}
}

// Load reads the file at path over the defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the node cannot start
// with.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errs = append(errs, fmt.Errorf("metrics_addr: %w", err))
		}
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: unknown format %q", c.LogFormat))
	}
	if c.Limits.MaxBlockWeight == 0 {
		errs = append(errs, errors.New("limits: max_block_weight is required"))
	}
	if c.Limits.MaxExtrinsicWeight > c.Limits.MaxBlockWeight {
		errs = append(errs, errors.New("limits: max_extrinsic_weight exceeds max_block_weight"))
	}
	if c.Staking.SlashPercent > 100 {
		errs = append(errs, fmt.Errorf("staking: slash_percent %d above 100", c.Staking.SlashPercent))
	}
	return errors.Join(errs...)
}

// Logger builds the logger described by the configuration.
func (c Config) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(level)
	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l, nil
}

// RuntimeOptions returns the testchain options the configuration
// selects. The caller supplies the backend, logger and observer.
func (c Config) RuntimeOptions() testchain.Options {
	return testchain.Options{
		Limits:        c.Limits,
		Fees:          c.Fees,
		SessionLength: c.SessionLength,
		Staking:       c.Staking,
	}
}

// LoadGenesis reads a testchain genesis file.
func LoadGenesis(path string) (testchain.Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testchain.Genesis{}, fmt.Errorf("failed to read genesis: %w", err)
	}
	var g testchain.Genesis
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return testchain.Genesis{}, fmt.Errorf("failed to parse genesis: %w", err)
	}
	if g.ChainID == "" {
		return testchain.Genesis{}, errors.New("genesis: chain_id is required")
	}
	return g, nil
}

// WriteGenesis writes g to path as YAML.
func WriteGenesis(path string, g testchain.Genesis) error {
	data, err := yaml.Marshal(g)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
