// Package factory is the single entry point for obtaining a DataAccessObject.
// The engine dispatch table is built once in New; agent variants of every
// engine resolve to the delegation client.
package factory

import (
	"log/slog"

	"github.com/rowpane/rowpane/internal/agentclient"
	"github.com/rowpane/rowpane/internal/config"
	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/cassandra"
	"github.com/rowpane/rowpane/internal/dialects/db2"
	"github.com/rowpane/rowpane/internal/dialects/dynamodb"
	"github.com/rowpane/rowpane/internal/dialects/mongodb"
	"github.com/rowpane/rowpane/internal/dialects/mssql"
	"github.com/rowpane/rowpane/internal/dialects/mysql"
	"github.com/rowpane/rowpane/internal/dialects/oracle"
	"github.com/rowpane/rowpane/internal/dialects/postgres"
	"github.com/rowpane/rowpane/internal/dialects/redis"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/rescache"
)

// Config carries the dependencies shared by every DAO the factory builds.
type Config struct {
	Cache   *rescache.Cache
	Options dao.Options
	Logger  *slog.Logger
	Agent   agentclient.Config
}

// Builder constructs a DAO for one connection.
type Builder func(params dao.ConnectionParams, cfg Config) dao.DataAccessObject

// Factory resolves connection params to a DAO.
type Factory struct {
	cfg      Config
	builders map[dao.EngineType]Builder
}

// New builds the dispatch table. A nil cache gets a default one shared by
// every DAO of this factory.
func New(cfg Config) *Factory {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.Cache == nil {
		cfg.Cache = rescache.New(rescache.Options{Logger: cfg.Logger})
	}
	if cfg.Agent.Logger == nil {
		cfg.Agent.Logger = cfg.Logger
	}
	cfg.Options = cfg.Options.WithDefaults()

	f := &Factory{cfg: cfg, builders: make(map[dao.EngineType]Builder, 2*len(dao.Engines))}
	for engine, b := range engineBuilders {
		f.builders[engine] = b
		f.builders[engine.Agent()] = agentBuilder
	}
	return f
}

// FromConfig builds a factory from the loaded configuration. onDisconnect
// is forwarded to the resource cache and may be nil.
func FromConfig(cfg *config.Config, log *slog.Logger, onDisconnect func(name string, err error)) *Factory {
	cache := rescache.New(rescache.Options{
		MaxConnections:  cfg.Cache.MaxConnections,
		MetadataEntries: cfg.Cache.MetadataEntries,
		MetadataTTL:     cfg.Cache.MetadataTTL,
		Logger:          log,
		OnDisconnect:    onDisconnect,
	})
	return New(Config{
		Cache:   cache,
		Options: cfg.Options(),
		Logger:  log,
		Agent:   AgentClientConfig(cfg.Agent, log),
	})
}

// AgentClientConfig maps the agent section onto delegation client settings.
func AgentClientConfig(a config.AgentConfig, log *slog.Logger) agentclient.Config {
	return agentclient.Config{
		Address:         a.Address,
		Secret:          []byte(a.JWTSecret),
		ConnectionToken: a.ConnectionToken,
		TokenTTL:        a.TokenTTL,
		Timeout:         a.RequestTimeout,
		Email:           a.Email,
		Logger:          log,
	}
}

var engineBuilders = map[dao.EngineType]Builder{
	dao.Postgres: func(p dao.ConnectionParams, c Config) dao.DataAccessObject { return postgres.New(p, c.sql()) },
	dao.MySQL:    func(p dao.ConnectionParams, c Config) dao.DataAccessObject { return mysql.New(p, c.sql()) },
	dao.MSSQL:    func(p dao.ConnectionParams, c Config) dao.DataAccessObject { return mssql.New(p, c.sql()) },
	dao.Oracle:   func(p dao.ConnectionParams, c Config) dao.DataAccessObject { return oracle.New(p, c.sql()) },
	dao.IBMDB2:   func(p dao.ConnectionParams, c Config) dao.DataAccessObject { return db2.New(p, c.sql()) },
	dao.MongoDB: func(p dao.ConnectionParams, c Config) dao.DataAccessObject {
		return mongodb.New(p, mongodb.Config{Cache: c.Cache, Options: c.Options, Logger: c.Logger})
	},
	dao.DynamoDB: func(p dao.ConnectionParams, c Config) dao.DataAccessObject {
		return dynamodb.New(p, dynamodb.Config{Cache: c.Cache, Options: c.Options, Logger: c.Logger})
	},
	dao.Cassandra: func(p dao.ConnectionParams, c Config) dao.DataAccessObject {
		return cassandra.New(p, cassandra.Config{Cache: c.Cache, Options: c.Options, Logger: c.Logger})
	},
	dao.Redis: func(p dao.ConnectionParams, c Config) dao.DataAccessObject {
		return redis.New(p, redis.Config{Cache: c.Cache, Options: c.Options, Logger: c.Logger})
	},
}

func agentBuilder(p dao.ConnectionParams, c Config) dao.DataAccessObject {
	return agentclient.New(p, c.Agent)
}

func (c Config) sql() sqldao.Config {
	return sqldao.Config{Cache: c.Cache, Options: c.Options, Logger: c.Logger}
}

// Register overrides the builder for engine. Tests use it to inject fakes.
func (f *Factory) Register(engine dao.EngineType, b Builder) {
	f.builders[engine] = b
}

// DAO returns the data access object for params.
func (f *Factory) DAO(params dao.ConnectionParams) (dao.DataAccessObject, error) {
	b, ok := f.builders[params.Type]
	if !ok {
		return nil, dao.Validationf("unsupported connection type %q", params.Type)
	}
	return b(params, f.cfg), nil
}

// Cache returns the resource cache shared by this factory's DAOs.
func (f *Factory) Cache() *rescache.Cache {
	return f.cfg.Cache
}

// Close releases every cached client and tunnel.
func (f *Factory) Close() {
	f.cfg.Cache.Close()
}

// Invalidate drops the cached resources of changed connections.
func (f *Factory) Invalidate(changed ...dao.ConnectionParams) {
	for _, p := range changed {
		f.cfg.Cache.Invalidate(p)
	}
}
