package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FCBUS_BUS_WIDTH.
const EnvPrefix = "FCBUS"

type Config struct {
	Bus     BusConfig     `mapstructure:"bus"`
	Source  SourceConfig  `mapstructure:"source"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type BusConfig struct {
	Width      int     `mapstructure:"width"`       // bytes per beat: 1, 2, 4, 8, 16, 32 or 64
	Frames     uint64  `mapstructure:"frames"`      // frames to check; 0 runs until stopped
	ReqDelay   int     `mapstructure:"req_delay"`   // 0 (direct) to 3 edges
	ClockHz    float64 `mapstructure:"clock_hz"`    // nominal clock
	Paced      bool    `mapstructure:"paced"`       // limit stepping to clock_hz
	Gate       string  `mapstructure:"gate"`        // repeating 0/1 data-available pattern
	LengthRamp int     `mapstructure:"length_ramp"` // expected first frame length, 0 disables
	MaxCycles  uint64  `mapstructure:"max_cycles"`  // 0 is unlimited
}

type SourceConfig struct {
	Type    string              `mapstructure:"type"` // local, process, redis, rtp or srt
	Handler string              `mapstructure:"handler"`
	Request string              `mapstructure:"request"`
	Process ProcessSourceConfig `mapstructure:"process"`
	Redis   RedisSourceConfig   `mapstructure:"redis"`
	RTP     RTPSourceConfig     `mapstructure:"rtp"`
	SRT     SRTSourceConfig     `mapstructure:"srt"`
}

type ProcessSourceConfig struct {
	Path        string        `mapstructure:"path"`
	Args        []string      `mapstructure:"args"`
	Env         []string      `mapstructure:"env"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

type RedisSourceConfig struct {
	KeyPrefix  string        `mapstructure:"key_prefix"`
	PopTimeout time.Duration `mapstructure:"pop_timeout"` // 0 fails at once on an empty queue
}

type RTPSourceConfig struct {
	ListenAddr  string  `mapstructure:"listen_addr"`
	RTCPAddr    string  `mapstructure:"rtcp_addr"` // empty disables RTCP
	PayloadType uint8   `mapstructure:"payload_type"`
	QueueSize   int     `mapstructure:"queue_size"` // frames held in memory
	SpillDir    string  `mapstructure:"spill_dir"`  // overflow directory, empty disables
	MaxRate     float64 `mapstructure:"max_rate"`   // frames per second, 0 is unlimited
}

type SRTSourceConfig struct {
	Addr       string `mapstructure:"addr"`
	StreamID   string `mapstructure:"stream_id"`
	Passphrase string `mapstructure:"passphrase"`
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// HTTP/3, enabled when http3_port is set
	HTTP3Port   int    `mapstructure:"http3_port"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	// QUIC specific
	MaxIncomingStreams    int64         `mapstructure:"max_incoming_streams"`
	MaxIncomingUniStreams int64         `mapstructure:"max_incoming_uni_streams"`
	MaxIdleTimeout        time.Duration `mapstructure:"max_idle_timeout"`
}

// HTTP3Enabled reports whether the QUIC listener should be started.
func (s *ServerConfig) HTTP3Enabled() bool {
	return s.HTTP3Port != 0
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// Load reads configPath, applies FCBUS_ environment overrides and defaults, and
// validates the result. An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Bus defaults
	v.SetDefault("bus.width", 64)
	v.SetDefault("bus.frames", 3)
	v.SetDefault("bus.req_delay", 0)
	v.SetDefault("bus.clock_hz", 156.25e6)
	v.SetDefault("bus.paced", false)
	v.SetDefault("bus.gate", "")
	v.SetDefault("bus.length_ramp", 0)
	v.SetDefault("bus.max_cycles", 0)

	// Source defaults
	v.SetDefault("source.type", "local")
	v.SetDefault("source.handler", "dot3_incr_len")
	v.SetDefault("source.request", "{}")
	v.SetDefault("source.process.stop_timeout", "5s")
	v.SetDefault("source.redis.key_prefix", "fcbus:frames:")
	v.SetDefault("source.redis.pop_timeout", "0s")
	v.SetDefault("source.rtp.listen_addr", "0.0.0.0:5004")
	v.SetDefault("source.rtp.rtcp_addr", "0.0.0.0:5005")
	v.SetDefault("source.rtp.payload_type", 96)
	v.SetDefault("source.rtp.queue_size", 256)
	v.SetDefault("source.rtp.spill_dir", "")
	v.SetDefault("source.rtp.max_rate", 0)
	v.SetDefault("source.srt.addr", "localhost:6000")

	// Redis defaults
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)

	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.http3_port", 0)
	v.SetDefault("server.max_incoming_streams", 1000)
	v.SetDefault("server.max_incoming_uni_streams", 100)
	v.SetDefault("server.max_idle_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)
}
