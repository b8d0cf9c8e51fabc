package config

import (
	"fmt"
	"reflect"
	"regexp"

	"github.com/rowpane/rowpane/internal/dao"
)

// ConnectionConfig is one named database target plus its table settings.
type ConnectionConfig struct {
	dao.ConnectionParams `mapstructure:",squash"`

	// Tables maps table names to their display settings.
	Tables map[string]dao.TableSettings `mapstructure:"tables"`
}

// connectionNameRegex validates connection names (alphanumeric, hyphens, underscores).
var connectionNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateConnections validates the configured connection list.
func ValidateConnections(conns []ConnectionConfig) error {
	names := make(map[string]bool)
	tokens := make(map[string]string)
	for i, c := range conns {
		if c.Name == "" {
			return fmt.Errorf("connections[%d]: name is required", i)
		}
		if !connectionNameRegex.MatchString(c.Name) {
			return fmt.Errorf("connections[%d]: name %q must be alphanumeric with hyphens/underscores only", i, c.Name)
		}
		if names[c.Name] {
			return fmt.Errorf("connections[%d]: duplicate connection name %q", i, c.Name)
		}
		names[c.Name] = true

		if !c.Type.Valid() {
			return fmt.Errorf("connections[%d] %q: unknown type %q", i, c.Name, c.Type)
		}
		if c.Type.IsAgent() {
			if c.AgentToken == "" {
				return fmt.Errorf("connections[%d] %q: agent_token is required for %s", i, c.Name, c.Type)
			}
			continue
		}
		if c.Host == "" && c.Type.Base() != dao.DynamoDB {
			return fmt.Errorf("connections[%d] %q: host is required", i, c.Name)
		}
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("connections[%d] %q: port must be between 0 and 65535, got %d", i, c.Name, c.Port)
		}
		if c.SSH.Enabled {
			if c.SSH.Host == "" || c.SSH.Username == "" {
				return fmt.Errorf("connections[%d] %q: ssh.host and ssh.username are required when ssh is enabled", i, c.Name)
			}
			if c.SSH.PrivateKey == "" && c.SSH.Password == "" {
				return fmt.Errorf("connections[%d] %q: ssh.private_key or ssh.password is required", i, c.Name)
			}
		}
		if c.AgentToken != "" {
			if other, dup := tokens[c.AgentToken]; dup {
				return fmt.Errorf("connections[%d] %q: agent_token already used by %q", i, c.Name, other)
			}
			tokens[c.AgentToken] = c.Name
		}
	}
	return nil
}

// Connection returns the connection named name.
func (c *Config) Connection(name string) (ConnectionConfig, error) {
	for _, conn := range c.Connections {
		if conn.Name == name {
			return conn, nil
		}
	}
	return ConnectionConfig{}, fmt.Errorf("connection %q is not configured", name)
}

// ConnectionByToken returns the connection an agent serves for a connection token.
func (c *Config) ConnectionByToken(token string) (ConnectionConfig, bool) {
	if token == "" {
		return ConnectionConfig{}, false
	}
	for _, conn := range c.Connections {
		if conn.AgentToken == token && !conn.Type.IsAgent() {
			return conn, true
		}
	}
	return ConnectionConfig{}, false
}

// TableSettings returns the settings for table, or nil when none are configured.
func (c ConnectionConfig) TableSettings(table string) *dao.TableSettings {
	s, ok := c.Tables[table]
	if !ok {
		return nil
	}
	return &s
}

// ChangedConnections returns the previous params of every connection that was
// removed or edited between old and new. Their cache entries must be dropped.
func ChangedConnections(old, new []ConnectionConfig) []dao.ConnectionParams {
	current := make(map[string]ConnectionConfig, len(new))
	for _, c := range new {
		current[c.Name] = c
	}
	var changed []dao.ConnectionParams
	for _, prev := range old {
		next, ok := current[prev.Name]
		if !ok || !reflect.DeepEqual(prev, next) {
			changed = append(changed, prev.ConnectionParams)
		}
	}
	return changed
}
