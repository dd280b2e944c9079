package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"chainflow/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// Recognized connector selectors. "all" runs every configured source,
// "both" runs the two streaming sources.
var validConnectors = map[string]bool{
	"binance": true, "polygon": true, "accuweather": true,
	"bloomberg": true, "all": true, "both": true,
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config instance from a YAML file, then overlays
// credentials and the connector selector from the environment.
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 3. Environment overrides
	config.applyEnv()

	// 4. Defaults for omitted fields
	config.applyDefaults()

	// 5. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// applyEnv overlays environment variables onto the YAML config. Credentials
// always come from the environment when present.
func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.Connector, "CHAINFLOW_CONNECTOR")
	setString(&c.Dispatch.URL, "CAUSAL_API_URL")
	setString(&c.Dispatch.UnivariateURL, "CAUSAL_API_UNIVARIATE_URL")
	setString(&c.Dispatch.APIKey, "CAUSAL_API_KEY")
	setString(&c.Sources.Polygon.APIKey, "POLYGON_API_KEY")
	setString(&c.Sources.AccuWeather.APIKey, "ACCUWEATHER_API_KEY")
	setString(&c.Sources.AccuWeather.LocationKey, "ACCUWEATHER_LOCATION_KEY")
	setString(&c.Sources.Bloomberg.Host, "BLOOMBERG_HOST")
	setString(&c.Storage.DBConnectionString, "CHAINFLOW_DB_DSN")

	if v := os.Getenv("BLOOMBERG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Sources.Bloomberg.Port = port
		}
	}
	if v := os.Getenv("BINANCE_SYMBOLS"); v != "" {
		c.Sources.Binance.Symbols = splitList(v)
	}
	if v := os.Getenv("POLYGON_SYMBOLS"); v != "" {
		c.Sources.Polygon.Symbols = splitList(v)
	}
	if v := os.Getenv("ACCUWEATHER_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Sources.AccuWeather.IntervalSeconds = secs
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// applyDefaults fills cadence and sizing fields left at zero.
func (c *Config) applyDefaults() {
	if c.Network.RequestTimeout <= 0 {
		c.Network.RequestTimeout = 30
	}
	if c.Network.MaxRetries <= 0 {
		c.Network.MaxRetries = 3
	}
	if c.Dispatch.IntervalSeconds <= 0 {
		c.Dispatch.IntervalSeconds = 60
	}
	if c.Dispatch.RowCount <= 0 {
		c.Dispatch.RowCount = 5001
	}

	b := &c.Sources.Binance
	if b.PingInterval <= 0 {
		b.PingInterval = 30
	}
	if b.MaxReconnects <= 0 {
		b.MaxReconnects = 10
	}
	if b.BackoffBaseMs <= 0 {
		b.BackoffBaseMs = 1000
	}
	if len(b.Streams) == 0 {
		b.Streams = []string{"trade"}
	}

	p := &c.Sources.Polygon
	if p.PingInterval <= 0 {
		p.PingInterval = 30
	}
	if p.MaxReconnects <= 0 {
		p.MaxReconnects = 10
	}
	if p.BackoffBaseMs <= 0 {
		p.BackoffBaseMs = 1000
	}
	if p.BackfillThreshold <= 0 {
		p.BackfillThreshold = 60
	}

	w := &c.Sources.AccuWeather
	if w.IntervalSeconds <= 0 {
		w.IntervalSeconds = 300
	}
	if w.MaxRetries <= 0 {
		w.MaxRetries = 3
	}
	if w.RetryDelaySec <= 0 {
		w.RetryDelaySec = 5
	}

	bb := &c.Sources.Bloomberg
	if bb.MockCadence <= 0 {
		bb.MockCadence = 5
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if !validConnectors[c.Connector] {
		return fmt.Errorf("unknown connector selector %q", c.Connector)
	}

	// Validate Server configuration
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "", "none":
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unknown storage db_type %q", c.Storage.DBType)
	}

	// Dispatch is mandatory infrastructure: a selected pipeline without a
	// causal endpoint cannot do its job.
	if c.Dispatch.URL == "" {
		return fmt.Errorf("dispatch url cannot be empty (set CAUSAL_API_URL)")
	}
	if c.Dispatch.RowCount < 2 {
		return fmt.Errorf("dispatch row_count must be at least 2")
	}

	// Validate timeframe networks
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one timeframe network must be configured")
	}
	names := make(map[string]bool, len(c.Networks))
	for _, n := range c.Networks {
		if n.Name == "" {
			return fmt.Errorf("timeframe network must have a name")
		}
		if names[n.Name] {
			return fmt.Errorf("duplicate timeframe network %q", n.Name)
		}
		names[n.Name] = true
		if len(n.Timeframes) == 0 {
			return fmt.Errorf("timeframe network %q must have at least one timeframe", n.Name)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// NetworkByName resolves a named timeframe network.
func (c *Config) NetworkByName(name string) (models.MNetworkOfTimes, bool) {
	for _, n := range c.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return models.MNetworkOfTimes{}, false
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
