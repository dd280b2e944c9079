package models

// MConfig is the root YAML configuration. Credentials and the connector
// selector may be overridden from the environment after loading.
type MConfig struct {
	Name      string            `yaml:"name"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	LogLevel  string            `yaml:"log_level"`
	Connector string            `yaml:"connector"` // binance|polygon|accuweather|bloomberg|all|both
	Storage   MStorageConfig    `yaml:"storage"`
	Network   MNetworkConfig    `yaml:"network"`
	Dispatch  MDispatchConfig   `yaml:"dispatch"`
	Sources   MSourcesConfig    `yaml:"sources"`
	Networks  []MNetworkOfTimes `yaml:"timeframe_networks"`
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"` // sqlite | postgres | none
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MNetworkConfig struct {
	RequestTimeout int `yaml:"timeout"` // seconds
	MaxRetries     int `yaml:"retries"`
}

// MDispatchConfig configures the causal-API dispatcher.
type MDispatchConfig struct {
	URL             string `yaml:"url"`
	UnivariateURL   string `yaml:"univariate_url"`
	APIKey          string `yaml:"api_key"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	RowCount        int    `yaml:"row_count"` // data rows incl. placeholder, default 5001
}

// -----------------------------------------------------------------------------
// Timeframe networks
// -----------------------------------------------------------------------------

// MTimeframeConfig declares one timeframe of a network.
type MTimeframeConfig struct {
	Seconds  int64  `yaml:"seconds"`
	Label    string `yaml:"label"`
	Capacity int    `yaml:"capacity"`
}

// MNetworkOfTimes is a named, ordered set of timeframes.
type MNetworkOfTimes struct {
	Name       string             `yaml:"name"`
	Timeframes []MTimeframeConfig `yaml:"timeframes"`
}

// -----------------------------------------------------------------------------
// Upstream sources
// -----------------------------------------------------------------------------

type MSourcesConfig struct {
	Binance     MBinanceConfig     `yaml:"binance"`
	Polygon     MPolygonConfig     `yaml:"polygon"`
	AccuWeather MAccuWeatherConfig `yaml:"accuweather"`
	Bloomberg   MBloombergConfig   `yaml:"bloomberg"`
}

type MBinanceConfig struct {
	WSBase         string   `yaml:"ws_base"`
	RESTBase       string   `yaml:"rest_base"`
	Symbols        []string `yaml:"symbols"`
	Streams        []string `yaml:"streams"` // trade, aggTrade
	Network        string   `yaml:"timeframe_network"`
	PreloadHistory bool     `yaml:"preload_history"`
	PingInterval   int      `yaml:"ping_interval_seconds"`
	MaxReconnects  int      `yaml:"max_reconnects"`
	BackoffBaseMs  int      `yaml:"backoff_base_ms"`
}

type MPolygonConfig struct {
	WSBase            string   `yaml:"ws_base"`
	RESTBase          string   `yaml:"rest_base"`
	APIKey            string   `yaml:"api_key"`
	Symbols           []string `yaml:"symbols"`
	Network           string   `yaml:"timeframe_network"`
	BackfillEnabled   bool     `yaml:"backfill_enabled"`
	BackfillThreshold int      `yaml:"backfill_threshold_seconds"`
	PingInterval      int      `yaml:"ping_interval_seconds"`
	MaxReconnects     int      `yaml:"max_reconnects"`
	BackoffBaseMs     int      `yaml:"backoff_base_ms"`
}

type MAccuWeatherConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	LocationKey     string `yaml:"location_key"`
	Symbol          string `yaml:"symbol"` // logical series name, e.g. "TEMP-NYC"
	Network         string `yaml:"timeframe_network"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	MaxRetries      int    `yaml:"max_retries"`
	RetryDelaySec   int    `yaml:"retry_delay_seconds"`
}

type MBloombergConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Securities  []string `yaml:"securities"`
	Network     string   `yaml:"timeframe_network"`
	MockCadence int      `yaml:"mock_cadence_seconds"`
	ForceMock   bool     `yaml:"force_mock"`
}
