// Package config loads the engine configuration from flags, environment and
// an optional file through viper.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/eth-engine-go/pkg/subscription"
)

// Backend names accepted for the registry and the sink.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	// BackendEmail is valid for the sink only
	BackendEmail = "email"
)

// EnvPrefix is prepended to every key's environment name, except for the
// legacy names bound explicitly in Bind.
const EnvPrefix = "ETH_ENGINE"

// Keys used with viper. Flags bound with BindPFlag must use the same keys.
const (
	KeyWebsocketURL     = "websocket_url"
	KeyRedisHost        = "redis.host"
	KeyRedisPort        = "redis.port"
	KeyRedisPassword    = "redis.password"
	KeyRedisDB          = "redis.db"
	KeySubscribeChannel = "channels.subscribe"
	KeyUnsubChannel     = "channels.unsubscribe"
	KeyResponsePrefix   = "channels.response_prefix"
	KeyRegistryBackend  = "registry.backend"
	KeyRegistryPrefix   = "registry.prefix"
	KeySinkBackend      = "sink.backend"
	KeySinkStream       = "sink.stream"
	KeySinkMaxLen       = "sink.max_len"
	KeySMTPHost         = "sink.email.host"
	KeySMTPPort         = "sink.email.port"
	KeySMTPUsername     = "sink.email.username"
	KeySMTPPassword     = "sink.email.password"
	KeySMTPRequireTLS   = "sink.email.require_tls"
	KeyEmailFrom        = "sink.email.from"
	KeyEmailTo          = "sink.email.to"
	KeyHTTPAddr         = "http.addr"
	KeyJWTSecret        = "http.jwt_secret"
	KeyGRPCAddr         = "grpc.addr"
	KeyLogLevel         = "log.level"
	KeyLogDevelopment   = "log.development"
	KeyCommandTimeout   = "timeouts.command"
	KeyCallbackTimeout  = "timeouts.callback"
)

var (
	// ErrMissingWebsocketURL is returned when no node endpoint is configured
	ErrMissingWebsocketURL = errors.New("websocket url cannot be empty")
	// ErrMissingRedisHost is returned when no Redis host is configured
	ErrMissingRedisHost = errors.New("redis host cannot be empty")
	// ErrInvalidRedisPort is returned for a port outside 1..65535
	ErrInvalidRedisPort = errors.New("redis port must be between 1 and 65535")
	// ErrUnknownBackend is returned for an unsupported registry or sink backend
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrSameChannel is returned when subscribe and unsubscribe share a channel
	ErrSameChannel = errors.New("subscribe and unsubscribe channels must differ")
	// ErrInvalidTimeout is returned for a non-positive timeout
	ErrInvalidTimeout = errors.New("timeouts must be positive")
	// ErrIncompleteEmail is returned when the email sink lacks a host, sender or recipient
	ErrIncompleteEmail = errors.New("email sink needs a host, a sender and at least one recipient")
)

// Config is the full engine configuration.
type Config struct {
	WebsocketURL string

	Redis RedisConfig

	SubscribeChannel   string
	UnsubscribeChannel string
	ResponsePrefix     string

	RegistryBackend string
	RegistryPrefix  string

	SinkBackend string
	SinkStream  string
	SinkMaxLen  int64
	Email       EmailConfig

	// HTTPAddr is the admin API listen address; empty disables it
	HTTPAddr  string
	JWTSecret string

	// GRPCAddr is the gRPC health listen address; empty disables it
	GRPCAddr string

	LogLevel       string
	LogDevelopment bool

	CommandTimeout  time.Duration
	CallbackTimeout time.Duration
}

// EmailConfig configures the email sink.
type EmailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	RequireTLS bool
	From       string
	To         []string
}

// RedisConfig locates the Redis server shared by the gateway, registry and sink.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRedisHost, "localhost")
	v.SetDefault(KeyRedisPort, 6379)
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeySubscribeChannel, subscription.DefaultSubscribeChannel)
	v.SetDefault(KeyUnsubChannel, subscription.DefaultUnsubscribeChannel)
	v.SetDefault(KeyResponsePrefix, "")
	v.SetDefault(KeyRegistryBackend, BackendRedis)
	v.SetDefault(KeyRegistryPrefix, "eth-engine:registry")
	v.SetDefault(KeySinkBackend, BackendRedis)
	v.SetDefault(KeySinkStream, "eth-engine:notifications")
	v.SetDefault(KeySinkMaxLen, 100000)
	v.SetDefault(KeySMTPPort, 587)
	v.SetDefault(KeySMTPRequireTLS, true)
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyGRPCAddr, ":9090")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogDevelopment, false)
	v.SetDefault(KeyCommandTimeout, 30*time.Second)
	v.SetDefault(KeyCallbackTimeout, 30*time.Second)
}

// Bind wires environment variables into v. The node and Redis locations keep
// their unprefixed names (WEBSOCKET_URL, REDIS_HOST, ...) with the prefixed
// form as a fallback; every other key reads ETH_ENGINE_<KEY>.
func Bind(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	legacy := map[string]string{
		KeyWebsocketURL:  "WEBSOCKET_URL",
		KeyRedisHost:     "REDIS_HOST",
		KeyRedisPort:     "REDIS_PORT",
		KeyRedisPassword: "REDIS_PASSWORD",
		KeyRedisDB:       "REDIS_DB",
	}
	for key, env := range legacy {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, env, prefixed); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	return nil
}

// Load reads the configuration from v, after reading configFile when set.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		WebsocketURL: v.GetString(KeyWebsocketURL),
		Redis: RedisConfig{
			Host:     v.GetString(KeyRedisHost),
			Port:     v.GetInt(KeyRedisPort),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
		},
		SubscribeChannel:   v.GetString(KeySubscribeChannel),
		UnsubscribeChannel: v.GetString(KeyUnsubChannel),
		ResponsePrefix:     v.GetString(KeyResponsePrefix),
		RegistryBackend:    strings.ToLower(v.GetString(KeyRegistryBackend)),
		RegistryPrefix:     v.GetString(KeyRegistryPrefix),
		SinkBackend:        strings.ToLower(v.GetString(KeySinkBackend)),
		SinkStream:         v.GetString(KeySinkStream),
		SinkMaxLen:         v.GetInt64(KeySinkMaxLen),
		Email: EmailConfig{
			Host:       v.GetString(KeySMTPHost),
			Port:       v.GetInt(KeySMTPPort),
			Username:   v.GetString(KeySMTPUsername),
			Password:   v.GetString(KeySMTPPassword),
			RequireTLS: v.GetBool(KeySMTPRequireTLS),
			From:       v.GetString(KeyEmailFrom),
			To:         v.GetStringSlice(KeyEmailTo),
		},
		HTTPAddr:        v.GetString(KeyHTTPAddr),
		JWTSecret:       v.GetString(KeyJWTSecret),
		GRPCAddr:        v.GetString(KeyGRPCAddr),
		LogLevel:        v.GetString(KeyLogLevel),
		LogDevelopment:  v.GetBool(KeyLogDevelopment),
		CommandTimeout:  v.GetDuration(KeyCommandTimeout),
		CallbackTimeout: v.GetDuration(KeyCallbackTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// New returns a viper instance with defaults and environment bindings.
func New() (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	if err := Bind(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.WebsocketURL == "" {
		return ErrMissingWebsocketURL
	}
	if c.Redis.Host == "" {
		return ErrMissingRedisHost
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return ErrInvalidRedisPort
	}
	if c.RegistryBackend != BackendMemory && c.RegistryBackend != BackendRedis {
		return fmt.Errorf("%w: registry %q", ErrUnknownBackend, c.RegistryBackend)
	}
	switch c.SinkBackend {
	case BackendMemory, BackendRedis:
	case BackendEmail:
		if c.Email.Host == "" || c.Email.From == "" || len(c.Email.To) == 0 {
			return ErrIncompleteEmail
		}
	default:
		return fmt.Errorf("%w: sink %q", ErrUnknownBackend, c.SinkBackend)
	}
	if c.SubscribeChannel == "" || c.UnsubscribeChannel == "" {
		return errors.New("command channels cannot be empty")
	}
	if c.SubscribeChannel == c.UnsubscribeChannel {
		return ErrSameChannel
	}
	if c.CommandTimeout <= 0 || c.CallbackTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}
