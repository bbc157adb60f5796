package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port           string
		LogLevel       string
		AllowedOrigins []string // cross-origin host patterns for WS upgrades
	}
	Session struct {
		IdleTimeoutSecs   int
		SweepIntervalSecs int
		SendQueueSize     int
		WriteTimeoutSecs  int
	}
	Lock struct {
		TTLSecs int // 0 disables lease expiry
	}
	Redis struct {
		Addr          string // empty disables the relay
		ChannelPrefix string
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("session.idle_timeout_seconds", 300)
	v.SetDefault("session.sweep_interval_seconds", 10)
	v.SetDefault("session.send_queue_size", 64)
	v.SetDefault("session.write_timeout_seconds", 5)

	v.SetDefault("lock.ttl_seconds", 0)

	v.SetDefault("redis.channel_prefix", "collab:room:")

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")

	v.BindEnv("session.idle_timeout_seconds", "IDLE_TIMEOUT_SECONDS")
	v.BindEnv("session.sweep_interval_seconds", "SWEEP_INTERVAL_SECONDS")
	v.BindEnv("session.send_queue_size", "SEND_QUEUE_SIZE")
	v.BindEnv("session.write_timeout_seconds", "WRITE_TIMEOUT_SECONDS")

	v.BindEnv("lock.ttl_seconds", "LOCK_TTL_SECONDS")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.channel_prefix", "REDIS_CHANNEL_PREFIX")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	if raw := v.GetString("server.allowed_origins"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}

	c.Session.IdleTimeoutSecs = v.GetInt("session.idle_timeout_seconds")
	c.Session.SweepIntervalSecs = v.GetInt("session.sweep_interval_seconds")
	c.Session.SendQueueSize = v.GetInt("session.send_queue_size")
	c.Session.WriteTimeoutSecs = v.GetInt("session.write_timeout_seconds")

	c.Lock.TTLSecs = v.GetInt("lock.ttl_seconds")

	c.Redis.Addr = v.GetString("redis.addr")
	c.Redis.ChannelPrefix = v.GetString("redis.channel_prefix")

	log.Printf("config loaded: port=%s idle_timeout=%ds lock_ttl=%ds relay=%v",
		c.Server.Port, c.Session.IdleTimeoutSecs, c.Lock.TTLSecs, c.Redis.Addr != "")
	return c
}

func toString(v any) string { return fmt.Sprint(v) }
