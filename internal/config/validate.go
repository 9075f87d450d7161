package config

import (
	"fmt"
	"os"
)

// Source types.
const (
	SourceLocal   = "local"
	SourceProcess = "process"
	SourceRedis   = "redis"
	SourceRTP     = "rtp"
	SourceSRT     = "srt"
)

func (c *Config) Validate() error {
	if err := c.Bus.Validate(); err != nil {
		return fmt.Errorf("bus config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	// Redis is only dialled for the redis source
	if c.Source.Type == SourceRedis {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis config: %w", err)
		}
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

func (b *BusConfig) Validate() error {
	switch b.Width {
	case 1, 2, 4, 8, 16, 32, 64:
	default:
		return fmt.Errorf("unsupported bus width: %d bytes (want 1, 2, 4, 8, 16, 32 or 64)", b.Width)
	}

	if b.ReqDelay < 0 || b.ReqDelay > 3 {
		return fmt.Errorf("req_delay must be between 0 and 3, got %d", b.ReqDelay)
	}

	if b.ClockHz <= 0 {
		return fmt.Errorf("clock_hz must be positive")
	}

	for i, c := range b.Gate {
		if c != '0' && c != '1' {
			return fmt.Errorf("gate pattern may only contain 0 and 1, got %q at %d", c, i)
		}
	}

	if b.LengthRamp < 0 {
		return fmt.Errorf("length_ramp cannot be negative")
	}

	return nil
}

func (s *SourceConfig) Validate() error {
	switch s.Type {
	case SourceLocal, SourceRedis:
		if s.Handler == "" {
			return fmt.Errorf("handler is required for the %s source", s.Type)
		}
	case SourceProcess:
		if s.Handler == "" {
			return fmt.Errorf("handler is required for the %s source", s.Type)
		}
		if s.Process.Path == "" {
			return fmt.Errorf("process.path is required for the process source")
		}
	case SourceRTP:
		if s.RTP.ListenAddr == "" {
			return fmt.Errorf("rtp.listen_addr is required for the rtp source")
		}
		if s.RTP.PayloadType > 127 {
			return fmt.Errorf("rtp.payload_type must be 0-127, got %d", s.RTP.PayloadType)
		}
		if s.RTP.QueueSize <= 0 {
			return fmt.Errorf("rtp.queue_size must be positive")
		}
		if s.RTP.MaxRate < 0 {
			return fmt.Errorf("rtp.max_rate cannot be negative")
		}
	case SourceSRT:
		if s.SRT.Addr == "" {
			return fmt.Errorf("srt.addr is required for the srt source")
		}
		if s.SRT.Passphrase != "" && (len(s.SRT.Passphrase) < 10 || len(s.SRT.Passphrase) > 79) {
			return fmt.Errorf("srt.passphrase must be 10-79 characters")
		}
	default:
		return fmt.Errorf("unknown source type %q (want local, process, redis, rtp or srt)", s.Type)
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if !s.HTTP3Enabled() {
		return nil
	}

	if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
		return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
	}

	if s.TLSCertFile == "" {
		return fmt.Errorf("TLS certificate file is required for HTTP/3")
	}

	if s.TLSKeyFile == "" {
		return fmt.Errorf("TLS key file is required for HTTP/3")
	}

	// Check if certificate files exist
	if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
	}

	if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
	}

	if s.MaxIncomingStreams <= 0 {
		return fmt.Errorf("max_incoming_streams must be positive")
	}

	if s.MaxIncomingUniStreams <= 0 {
		return fmt.Errorf("max_incoming_uni_streams must be positive")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		// File output is rotated
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}
