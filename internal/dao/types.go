// Package dao defines the uniform data access contract implemented by every
// database engine adapter and by the agent delegation client.
//
// Callers obtain a DataAccessObject from the factory package and never talk to
// an engine driver directly. All result shapes (rows, column descriptions,
// key descriptions, pagination metadata) are engine independent.
package dao

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// EngineType identifies a database engine or an agent-delegated engine.
type EngineType string

const (
	Postgres  EngineType = "postgres"
	MySQL     EngineType = "mysql"
	MSSQL     EngineType = "mssql"
	Oracle    EngineType = "oracledb"
	MongoDB   EngineType = "mongodb"
	DynamoDB  EngineType = "dynamodb"
	IBMDB2    EngineType = "ibmdb2"
	Cassandra EngineType = "cassandra"
	Redis     EngineType = "redis"
)

// agentPrefix marks connection types whose operations run on a local agent.
const agentPrefix = "agent_"

// Engines lists every directly supported engine.
var Engines = []EngineType{Postgres, MySQL, MSSQL, Oracle, MongoDB, DynamoDB, IBMDB2, Cassandra, Redis}

// IsAgent reports whether the type is an agent variant such as agent_postgres.
func (t EngineType) IsAgent() bool {
	return strings.HasPrefix(string(t), agentPrefix)
}

// Base returns the engine without the agent prefix.
func (t EngineType) Base() EngineType {
	return EngineType(strings.TrimPrefix(string(t), agentPrefix))
}

// Agent returns the agent variant of the engine.
func (t EngineType) Agent() EngineType {
	if t.IsAgent() {
		return t
	}
	return EngineType(agentPrefix + string(t))
}

// Valid reports whether t (or its base engine) is a known engine.
func (t EngineType) Valid() bool {
	base := t.Base()
	for _, e := range Engines {
		if e == base {
			return true
		}
	}
	return false
}

// SSHConfig describes an SSH jump host used to reach the database.
type SSHConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Host       string `json:"host" mapstructure:"host" yaml:"host"`
	Port       int    `json:"port" mapstructure:"port" yaml:"port"`
	Username   string `json:"username" mapstructure:"username" yaml:"username"`
	Password   string `json:"password,omitempty" mapstructure:"password" yaml:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty" mapstructure:"private_key" yaml:"private_key,omitempty"`
	Passphrase string `json:"passphrase,omitempty" mapstructure:"passphrase" yaml:"passphrase,omitempty"`
	// HostKey is an authorized_keys formatted public key. Empty disables host key checking.
	HostKey string `json:"host_key,omitempty" mapstructure:"host_key" yaml:"host_key,omitempty"`
}

// ConnectionParams is an immutable description of a physical database target.
// Values are passed by value; the resource cache keys on Fingerprint, not on
// pointer identity.
type ConnectionParams struct {
	Name     string     `json:"name" mapstructure:"name" yaml:"name"`
	Type     EngineType `json:"type" mapstructure:"type" yaml:"type"`
	Host     string     `json:"host" mapstructure:"host" yaml:"host"`
	Port     int        `json:"port" mapstructure:"port" yaml:"port"`
	Username string     `json:"username" mapstructure:"username" yaml:"username"`
	Password string     `json:"password,omitempty" mapstructure:"password" yaml:"password,omitempty"`
	Database string     `json:"database" mapstructure:"database" yaml:"database"`
	Schema   string     `json:"schema,omitempty" mapstructure:"schema" yaml:"schema,omitempty"`
	// SID is the Oracle service name.
	SID string `json:"sid,omitempty" mapstructure:"sid" yaml:"sid,omitempty"`
	SSL bool   `json:"ssl" mapstructure:"ssl" yaml:"ssl"`
	// Cert is a PEM encoded CA certificate used when SSL is enabled.
	Cert string    `json:"cert,omitempty" mapstructure:"cert" yaml:"cert,omitempty"`
	SSH  SSHConfig `json:"ssh" mapstructure:"ssh" yaml:"ssh"`
	// Options carries engine specific settings (region, authSource, encrypt...).
	Options map[string]string `json:"options,omitempty" mapstructure:"options" yaml:"options,omitempty"`

	// AgentToken is the stored connection token for agent connections.
	AgentToken string `json:"agent_token,omitempty" mapstructure:"agent_token" yaml:"agent_token,omitempty"`
}

// Option returns an engine option or def when unset.
func (p ConnectionParams) Option(key, def string) string {
	if v, ok := p.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// WithEndpoint returns a copy of p pointing at host:port. Options are copied
// so the original value stays untouched.
func (p ConnectionParams) WithEndpoint(host string, port int) ConnectionParams {
	c := p
	c.Host = host
	c.Port = port
	if p.Options != nil {
		c.Options = make(map[string]string, len(p.Options))
		for k, v := range p.Options {
			c.Options[k] = v
		}
	}
	return c
}

// Fingerprint returns a stable identity for the connection. Two params with the
// same logical content produce the same fingerprint.
func (p ConnectionParams) Fingerprint() string {
	// encoding/json sorts map keys, so the encoding is canonical.
	b, err := json.Marshal(p)
	if err != nil {
		// ConnectionParams only holds plain values; Marshal cannot fail.
		panic(fmt.Sprintf("dao: fingerprint: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// String describes the connection without secrets.
func (p ConnectionParams) String() string {
	s := fmt.Sprintf("%s://%s@%s:%d/%s", p.Type, p.Username, p.Host, p.Port, p.Database)
	if p.SSH.Enabled {
		s += fmt.Sprintf(" via ssh %s@%s:%d", p.SSH.Username, p.SSH.Host, p.SSH.Port)
	}
	return s
}

// Row is one record keyed by column name.
type Row map[string]any

// ColumnInfo is the normalized description of one column.
type ColumnInfo struct {
	ColumnName             string       `json:"column_name"`
	DataType               string       `json:"data_type"`
	AllowNull              bool         `json:"allow_null"`
	ColumnDefault          *string      `json:"column_default"`
	CharacterMaximumLength *int64       `json:"character_maximum_length"`
	DataTypeParams         []string     `json:"data_type_params,omitempty"`
	UDTName                string       `json:"udt_name,omitempty"`
	CompositeFields        []ColumnInfo `json:"composite_fields,omitempty"`
}

// AutoIncrement is the column_default marker for engine generated columns.
const AutoIncrement = "autoincrement"

// IsAutoIncrement reports whether the engine generates the column value.
func (c ColumnInfo) IsAutoIncrement() bool {
	return c.ColumnDefault != nil && *c.ColumnDefault == AutoIncrement
}

// PrimaryKeyInfo describes one primary key column.
type PrimaryKeyInfo struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
}

// ForeignKeyInfo describes one outgoing reference.
type ForeignKeyInfo struct {
	ColumnName           string `json:"column_name"`
	ReferencedTableName  string `json:"referenced_table_name"`
	ReferencedColumnName string `json:"referenced_column_name"`
	ConstraintName       string `json:"constraint_name"`
}

// ReferencedBy is one table column pointing at a primary key column.
type ReferencedBy struct {
	TableName  string `json:"table_name"`
	ColumnName string `json:"column_name"`
}

// ReferencedTableNamesAndColumns lists the tables referencing one primary key column.
type ReferencedTableNamesAndColumns struct {
	ReferencedOnColumnName string         `json:"referenced_on_column_name"`
	ReferencedBy           []ReferencedBy `json:"referenced_by"`
}

// TableInfo is one entry of ListTables.
type TableInfo struct {
	TableName string `json:"tableName"`
	IsView    bool   `json:"isView"`
}

// TestConnectResult is the outcome of TestConnect.
type TestConnectResult struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []ColumnInfo) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.ColumnName
	}
	return names
}

// KeyNames returns the names of the primary key columns in order.
func KeyNames(pks []PrimaryKeyInfo) []string {
	names := make([]string, len(pks))
	for i, k := range pks {
		names[i] = k.ColumnName
	}
	return names
}

// FindColumn returns the column named name.
func FindColumn(cols []ColumnInfo, name string) (ColumnInfo, bool) {
	for _, c := range cols {
		if c.ColumnName == name {
			return c, true
		}
	}
	return ColumnInfo{}, false
}
