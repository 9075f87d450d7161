package source

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/zsiec/fcbus/internal/config"
	"github.com/zsiec/fcbus/internal/frame"
	"github.com/zsiec/fcbus/internal/logger"
	"github.com/zsiec/fcbus/internal/queue"
)

// Opened is a frame source built from configuration together with whatever has to be
// released when the run ends.
type Opened struct {
	Source frame.Source
	// RTP is set for rtp sources so its queue can be health checked.
	RTP *RTPSource
	// Redis is set for redis sources.
	Redis   *redis.Client
	closers []func() error
}

// Close releases the source's process, connections and sockets.
func (o *Opened) Close() error {
	var first error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	o.closers = nil
	return first
}

// Open builds the frame source described by cfg.Source. Redis sources connect using
// cfg.Redis.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger) (*Opened, error) {
	if log == nil {
		log = logger.NewNullLogger()
	}
	sc := cfg.Source
	o := &Opened{}

	switch sc.Type {
	case config.SourceLocal:
		o.Source = NewDriverSource(NewDefaultLocalClient(), sc.Handler, sc.Request)

	case config.SourceProcess:
		p, err := StartProcess(ctx, ProcessConfig{
			Path:        sc.Process.Path,
			Args:        sc.Process.Args,
			Env:         sc.Process.Env,
			StopTimeout: sc.Process.StopTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, p.Close)
		o.Source = NewDriverSource(p, sc.Handler, sc.Request)

	case config.SourceRedis:
		client, err := DialRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, client.Close)
		o.Redis = client
		o.Source = NewDriverSource(NewRedisClient(client, sc.Redis.KeyPrefix, sc.Redis.PopTimeout), sc.Handler, sc.Request)

	case config.SourceRTP:
		src, err := ListenRTP(sc.RTP.ListenAddr, sc.RTP.RTCPAddr, RTPConfig{
			PayloadType: sc.RTP.PayloadType,
			Queue:       QueueConfig(sc.RTP),
		}, log)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, src.Close)
		o.Source = src
		o.RTP = src

	case config.SourceSRT:
		src, err := DialSRT(sc.SRT.Addr, SRTOptions{StreamID: sc.SRT.StreamID, Passphrase: sc.SRT.Passphrase})
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, src.Close)
		o.Source = src

	default:
		return nil, fmt.Errorf("unknown source type %q", sc.Type)
	}

	log.WithFields(map[string]interface{}{
		"type":    sc.Type,
		"handler": sc.Handler,
	}).Info("Frame source opened")
	return o, nil
}

// QueueConfig maps the rtp source settings onto the receive queue.
func QueueConfig(rc config.RTPSourceConfig) queue.Config {
	qc := queue.Config{
		MemSize:  rc.QueueSize,
		SpillDir: rc.SpillDir,
	}
	if rc.MaxRate > 0 {
		qc.Rate = rate.Limit(rc.MaxRate)
		qc.Burst = rc.QueueSize
	}
	return qc
}

// DialRedis connects to the first configured address and checks it answers.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("no redis address configured")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addresses[0], err)
	}
	return client, nil
}
