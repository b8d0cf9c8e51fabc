package config

import (
	"fmt"
	"net"
	"net/url"
	"time"
)

const (
	// DefaultAgentAddress is the well-known address of the local agent as seen
	// by the delegation client.
	DefaultAgentAddress = "http://rowpane-agent.local:7070"
	// DefaultAgentListen is where the agent binds.
	DefaultAgentListen = "0.0.0.0:7070"
)

// AgentConfig holds configuration shared by the delegation client and the
// rowpane-agent daemon.
type AgentConfig struct {
	// Address is the agent base URL used by the delegation client.
	Address string `mapstructure:"address"`

	// Listen is the host:port the agent HTTP server binds to.
	Listen string `mapstructure:"listen"`

	// JWTSecret signs and verifies command tokens (HS256).
	JWTSecret string `mapstructure:"jwt_secret"`

	// TokenTTL is the validity window of a signed command token. It is also
	// the cancellation horizon of delegated work.
	TokenTTL time.Duration `mapstructure:"token_ttl"`

	// ConnectionToken is the stored token the client embeds in command tokens.
	ConnectionToken string `mapstructure:"connection_token"`

	// Email identifies the caller in delegated commands.
	Email string `mapstructure:"email"`

	// DataDir holds the agent status database and PID file.
	DataDir string `mapstructure:"data_dir"`

	// RequestTimeout bounds one delegated HTTP round trip.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ValidateAgentConfig validates the agent configuration.
func ValidateAgentConfig(cfg *AgentConfig) error {
	u, err := url.Parse(cfg.Address)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("agent.address must be an http(s) URL, got %q", cfg.Address)
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("agent.listen must be host:port, got %q", cfg.Listen)
	}
	if err := validateInterval("agent.token_ttl", cfg.TokenTTL, time.Minute, 24*time.Hour); err != nil {
		return err
	}
	if err := validateInterval("agent.request_timeout", cfg.RequestTimeout, time.Second, 30*time.Minute); err != nil {
		return err
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 16 {
		return fmt.Errorf("agent.jwt_secret must be at least 16 characters")
	}
	return nil
}

// validateInterval validates a duration setting.
func validateInterval(field string, value, min, max time.Duration) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %v and %v, got %v", field, min, max, value)
	}
	return nil
}
