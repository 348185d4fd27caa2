package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`

	Relay RelayConfig `mapstructure:"relay"`
	Agent AgentConfig `mapstructure:"agent"`
	Call  CallConfig  `mapstructure:"call"`
	ICE   ICEConfig   `mapstructure:"ice"`
}

type RelayConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	// DisconnectSlow drops the connection of a party whose buffer is full
	// instead of dropping the message.
	DisconnectSlow bool `mapstructure:"disconnect_slow"`
}

type AgentConfig struct {
	PartyID        string        `mapstructure:"party_id"`
	Name           string        `mapstructure:"name"`
	Token          string        `mapstructure:"token"`
	RelayURL       string        `mapstructure:"relay_url"`
	ConsolePort    int           `mapstructure:"console_port"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
}

type CallConfig struct {
	NegotiationTimeout  time.Duration `mapstructure:"negotiation_timeout"`
	SendRetries         int           `mapstructure:"send_retries"`
	SendTimeout         time.Duration `mapstructure:"send_timeout"`
	EarlyCandidateLimit int           `mapstructure:"early_candidate_limit"`
}

type ICEConfig struct {
	Servers             []string      `mapstructure:"servers"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
	KeepAliveInterval   time.Duration `mapstructure:"keepalive_interval"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (or CONFIG_FILE) and applies
// VOICEDESK_* environment overrides, e.g. VOICEDESK_AGENT_TOKEN.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := os.Getenv("CONFIG_FILE")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("VOICEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("issuer", "voicedesk")
	v.SetDefault("token_ttl", "12h")

	v.SetDefault("relay.rate_limit", 200)
	v.SetDefault("relay.rate_interval", "10s")
	v.SetDefault("relay.send_buffer", 32)
	v.SetDefault("relay.disconnect_slow", true)

	v.SetDefault("agent.party_id", "")
	v.SetDefault("agent.name", "")
	v.SetDefault("agent.token", "")
	v.SetDefault("agent.relay_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("agent.console_port", 8081)
	v.SetDefault("agent.reconnect_delay", "2s")

	v.SetDefault("call.negotiation_timeout", "30s")
	v.SetDefault("call.send_retries", 1)
	v.SetDefault("call.send_timeout", "5s")
	v.SetDefault("call.early_candidate_limit", 32)

	v.SetDefault("ice.servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.disconnected_timeout", "30s")
	v.SetDefault("ice.failed_timeout", "60s")
	v.SetDefault("ice.keepalive_interval", "2s")
}

// Validate rejects values that would make the relay or the agent unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.Relay.RateLimit <= 0 {
		errs = append(errs, errors.New("relay.rate_limit must be positive"))
	}
	if c.Relay.RateInterval <= 0 {
		errs = append(errs, errors.New("relay.rate_interval must be positive"))
	}
	if c.Call.NegotiationTimeout <= 0 {
		errs = append(errs, errors.New("call.negotiation_timeout must be positive"))
	}
	return errors.Join(errs...)
}
