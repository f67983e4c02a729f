// Package config loads the proxy's settings from rfproxy.cfg.json and
// RFPROXY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rflink/bridge/pkg/bridge"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "rfproxy.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. RFPROXY_PROXY_BIND.
const EnvPrefix = "RFPROXY"

// Simulator holds the simulator connection settings.
type Simulator struct {
	Address          string        `json:"address" mapstructure:"address"`
	ConnectTimeout   time.Duration `json:"connectTimeout" mapstructure:"connectTimeout"`
	ResponseTimeout  time.Duration `json:"responseTimeout" mapstructure:"responseTimeout"`
	PoolSize         int           `json:"poolSize" mapstructure:"poolSize"`
	AcquireTimeout   time.Duration `json:"acquireTimeout" mapstructure:"acquireTimeout"`
	Prefetch         bool          `json:"prefetch" mapstructure:"prefetch"`
	ReuseConnections bool          `json:"reuseConnections" mapstructure:"reuseConnections"`
}

// Bridge converts the section into a bridge configuration.
func (s Simulator) Bridge() bridge.Configuration {
	return bridge.Configuration{
		SimulatorAddress: s.Address,
		ConnectTimeout:   s.ConnectTimeout,
		ResponseTimeout:  s.ResponseTimeout,
		PoolSize:         s.PoolSize,
		AcquireTimeout:   s.AcquireTimeout,
		Prefetch:         s.Prefetch,
		ReuseConnections: s.ReuseConnections,
	}
}

// Proxy holds the proxy server settings.
type Proxy struct {
	Bind            string        `json:"bind" mapstructure:"bind"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout" mapstructure:"shutdownTimeout"`
	IdleTimeout     time.Duration `json:"idleTimeout" mapstructure:"idleTimeout"`
	MaxClients      int           `json:"maxClients" mapstructure:"maxClients"`
	// Stubbed answers every request without a simulator.
	Stubbed bool `json:"stubbed" mapstructure:"stubbed"`
	// StatusInterval is how often status.json in logsDir is rewritten.
	// Zero disables the status file.
	StatusInterval time.Duration `json:"statusInterval" mapstructure:"statusInterval"`
}

// MemoryConfig holds in-memory/JSON storage backend settings.
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds settings for the in-memory SQLite backend.
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// WebsocketConfig holds live streaming settings.
type WebsocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// UploadConfig names the flight-log server exported recordings are sent
// to. An empty URL disables uploads.
type UploadConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	APIKey string `json:"apiKey" mapstructure:"apiKey"`
}

// Database holds Postgres connection settings.
type Database struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// DSN returns the Postgres connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.Username, d.Password, d.Database)
}

// Influx holds InfluxDB settings.
type Influx struct {
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// URL returns the server URL.
func (i Influx) URL() string {
	return fmt.Sprintf("%s://%s:%s", i.Protocol, i.Host, i.Port)
}

// Origin anchors the simulator's local frame on the globe.
type Origin struct {
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Altitude  float64 `json:"altitude" mapstructure:"altitude"`
}

// Recording holds flight recording settings.
type Recording struct {
	// Backend is one of none, memory, sqlite, postgres, influx, websocket.
	Backend       string          `json:"backend" mapstructure:"backend"`
	SessionName   string          `json:"sessionName" mapstructure:"sessionName"`
	QueueSize     int             `json:"queueSize" mapstructure:"queueSize"`
	BatchSize     int             `json:"batchSize" mapstructure:"batchSize"`
	FlushInterval time.Duration   `json:"flushInterval" mapstructure:"flushInterval"`
	Memory        MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite        SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	Websocket     WebsocketConfig `json:"websocket" mapstructure:"websocket"`
	DB            Database        `json:"db" mapstructure:"db"`
	Influx        Influx          `json:"influx" mapstructure:"influx"`
	Origin        Origin          `json:"origin" mapstructure:"origin"`
	Upload        UploadConfig    `json:"upload" mapstructure:"upload"`
}

// Enabled reports whether a backend is configured.
func (r Recording) Enabled() bool {
	return r.Backend != "" && r.Backend != "none"
}

// Graylog holds GELF log shipping settings.
type Graylog struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// OTel holds OpenTelemetry log export settings.
type OTel struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// setDefaults registers every default value.
func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./rflogs")

	viper.SetDefault("simulator.address", bridge.DefaultSimulatorAddress)
	viper.SetDefault("simulator.connectTimeout", "50ms")
	viper.SetDefault("simulator.responseTimeout", "1s")
	viper.SetDefault("simulator.poolSize", bridge.DefaultPoolSize)
	viper.SetDefault("simulator.acquireTimeout", "1s")
	viper.SetDefault("simulator.prefetch", true)
	viper.SetDefault("simulator.reuseConnections", false)

	viper.SetDefault("proxy.bind", "0.0.0.0:8080")
	viper.SetDefault("proxy.shutdownTimeout", "5s")
	viper.SetDefault("proxy.idleTimeout", "0s")
	viper.SetDefault("proxy.maxClients", 0)
	viper.SetDefault("proxy.stubbed", false)
	viper.SetDefault("proxy.statusInterval", "10s")

	viper.SetDefault("recording.backend", "none")
	viper.SetDefault("recording.sessionName", "flight")
	viper.SetDefault("recording.queueSize", 4096)
	viper.SetDefault("recording.batchSize", 500)
	viper.SetDefault("recording.flushInterval", "1s")
	viper.SetDefault("recording.memory.outputDir", "./recordings")
	viper.SetDefault("recording.memory.compressOutput", true)
	viper.SetDefault("recording.sqlite.dumpInterval", "1m")
	viper.SetDefault("recording.sqlite.dumpPath", "./recordings/flights.db")
	viper.SetDefault("recording.websocket.url", "ws://localhost:5000/api/telemetry")
	viper.SetDefault("recording.websocket.secret", "")
	viper.SetDefault("recording.db.host", "localhost")
	viper.SetDefault("recording.db.port", "5432")
	viper.SetDefault("recording.db.username", "postgres")
	viper.SetDefault("recording.db.password", "postgres")
	viper.SetDefault("recording.db.database", "rflink")
	viper.SetDefault("recording.influx.protocol", "http")
	viper.SetDefault("recording.influx.host", "localhost")
	viper.SetDefault("recording.influx.port", "8086")
	viper.SetDefault("recording.influx.token", "")
	viper.SetDefault("recording.influx.org", "rflink")
	viper.SetDefault("recording.influx.bucket", "flights")
	viper.SetDefault("recording.influx.backupPath", "./recordings/influx_backup.lp.gz")
	viper.SetDefault("recording.origin.longitude", 0.0)
	viper.SetDefault("recording.origin.latitude", 0.0)
	viper.SetDefault("recording.origin.altitude", 0.0)
	viper.SetDefault("recording.upload.url", "")
	viper.SetDefault("recording.upload.apiKey", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "rfproxy")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)
}

// Load reads configuration from the JSON file in configDir and sets default
// values. A missing file is not an error; defaults and environment
// variables still apply.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// settings mirrors the whole file. Sections are decoded through it rather
// than with UnmarshalKey so that environment overrides of nested keys apply.
type settings struct {
	Simulator Simulator `mapstructure:"simulator"`
	Proxy     Proxy     `mapstructure:"proxy"`
	Recording Recording `mapstructure:"recording"`
	Graylog   Graylog   `mapstructure:"graylog"`
	OTel      OTel      `mapstructure:"otel"`
}

func load() (settings, error) {
	var s settings
	if err := viper.Unmarshal(&s); err != nil {
		return settings{}, fmt.Errorf("decoding config: %w", err)
	}
	return s, nil
}

// GetSimulator returns the validated simulator section.
func GetSimulator() (Simulator, error) {
	all, err := load()
	if err != nil {
		return Simulator{}, err
	}
	s := all.Simulator
	if err := s.Bridge().Validate(); err != nil {
		return Simulator{}, fmt.Errorf("simulator: %w", err)
	}
	return s, nil
}

// GetProxy returns the validated proxy section.
func GetProxy() (Proxy, error) {
	all, err := load()
	if err != nil {
		return Proxy{}, err
	}
	p := all.Proxy
	switch {
	case p.Bind == "":
		return Proxy{}, errors.New("proxy: bind address is required")
	case p.ShutdownTimeout <= 0:
		return Proxy{}, fmt.Errorf("proxy: shutdown timeout must be positive, got %s", p.ShutdownTimeout)
	case p.MaxClients < 0:
		return Proxy{}, fmt.Errorf("proxy: max clients must not be negative, got %d", p.MaxClients)
	}
	return p, nil
}

// GetRecording returns the validated recording section.
func GetRecording() (Recording, error) {
	all, err := load()
	if err != nil {
		return Recording{}, err
	}
	r := all.Recording
	switch r.Backend {
	case "none", "", "memory", "sqlite", "postgres", "influx", "websocket":
	default:
		return Recording{}, fmt.Errorf("recording: unknown backend %q", r.Backend)
	}
	if r.Enabled() && r.QueueSize < 1 {
		return Recording{}, fmt.Errorf("recording: queue size must be at least 1, got %d", r.QueueSize)
	}
	return r, nil
}

// GetGraylog returns the graylog section.
func GetGraylog() (Graylog, error) {
	all, err := load()
	return all.Graylog, err
}

// GetOTel returns the otel section.
func GetOTel() (OTel, error) {
	all, err := load()
	return all.OTel, err
}

// BindFlag lets f override key when it is set on the command line.
func BindFlag(key string, f *pflag.Flag) error {
	if f == nil {
		return fmt.Errorf("no flag for %s", key)
	}
	return viper.BindPFlag(key, f)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
