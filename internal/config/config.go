package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"nodestore/internal/codec"
	"nodestore/internal/index"
	"nodestore/internal/legacy"
	"nodestore/internal/sqldb"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to environment overrides, e.g.
// NODESTORE_OBJECT_STORE_BUCKET.
const EnvPrefix = "NODESTORE"

// Object store drivers.
const (
	DriverMinio = "minio"
	DriverS3    = "s3"
	DriverFile  = "file"
)

const redacted = "****"

// DefaultIndexPath is the SQLite database used when no index DSN is given.
const DefaultIndexPath = "./data/index.sqlite"

// Config is the complete runtime configuration of a nodestore process.
type Config struct {
	ReadThrough       bool   `mapstructure:"read_through" yaml:"read_through"`
	WriteThrough      bool   `mapstructure:"write_through" yaml:"write_through"`
	DeleteThrough     bool   `mapstructure:"delete_through" yaml:"delete_through"`
	Compression       bool   `mapstructure:"compression" yaml:"compression"`
	CompressionScheme string `mapstructure:"compression_scheme" yaml:"compression_scheme"`

	ObjectStore ObjectStoreConfig `mapstructure:"object_store" yaml:"object_store"`
	Index       IndexConfig       `mapstructure:"index" yaml:"index"`
	Legacy      LegacyConfig      `mapstructure:"legacy" yaml:"legacy"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// Trace is empty (disabled), "stdout", or an OTLP/HTTP endpoint URL.
	Trace string `mapstructure:"trace" yaml:"trace"`
}

// ObjectStoreConfig locates the bucket holding node payloads.
type ObjectStoreConfig struct {
	Driver          string `mapstructure:"driver" yaml:"driver"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Path            string `mapstructure:"path" yaml:"path"`
	Region          string `mapstructure:"region" yaml:"region"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	RetryAttempts   int    `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	CreateBucket    bool   `mapstructure:"create_bucket" yaml:"create_bucket"`
	DataDir         string `mapstructure:"data_dir" yaml:"data_dir"`
}

// IndexConfig locates the relational metadata index.
type IndexConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Name     string `mapstructure:"name" yaml:"name"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Table    string `mapstructure:"table" yaml:"table"`
}

// LegacyConfig locates the SQL node store used for passthrough.
type LegacyConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Driver  string `mapstructure:"driver" yaml:"driver"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
	Table   string `mapstructure:"table" yaml:"table"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Listen   string `mapstructure:"listen" yaml:"listen"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Compression:       true,
		CompressionScheme: codec.ZstdName,
		ObjectStore: ObjectStoreConfig{
			Driver:        DriverMinio,
			Bucket:        "nodestore",
			Region:        "us-east-1",
			Endpoint:      "http://localhost:9000",
			RetryAttempts: 3,
			DataDir:       "./data",
		},
		Index: IndexConfig{
			Driver: sqldb.DriverSQLite,
			Host:   "localhost",
			Port:   5432,
			Name:   "postgres",
			User:   "postgres",
			Table:  index.DefaultTable,
		},
		Legacy: LegacyConfig{
			Driver: sqldb.DriverSQLite,
			DSN:    "./data/legacy.sqlite",
			Table:  legacy.DefaultTable,
		},
		Server: ServerConfig{
			Listen: ":9090",
		},
		LogLevel: "info",
	}
}

// Load builds a Config from the defaults, the YAML file at path (optional)
// and NODESTORE_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	v, err := newViper(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func newViper(path string) (*viper.Viper, error) {
	defaults, err := yaml.Marshal(Defaults())
	if err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("read default config: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// Validate reports every problem found in cfg.
func (c Config) Validate() error {
	var errs []error

	switch c.ObjectStore.Driver {
	case DriverMinio, DriverS3:
		if c.ObjectStore.Bucket == "" {
			errs = append(errs, errors.New("object_store.bucket must not be empty"))
		}
		if c.ObjectStore.Driver == DriverMinio && c.ObjectStore.Endpoint == "" {
			errs = append(errs, errors.New("object_store.endpoint must be set for the minio driver"))
		}
	case DriverFile:
		if c.ObjectStore.DataDir == "" {
			errs = append(errs, errors.New("object_store.data_dir must be set for the file driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("object_store.driver %q is not one of minio, s3, file", c.ObjectStore.Driver))
	}

	if c.ObjectStore.RetryAttempts < 0 {
		errs = append(errs, errors.New("object_store.retry_attempts must not be negative"))
	}
	if strings.HasPrefix(c.ObjectStore.Path, "/") || strings.HasSuffix(c.ObjectStore.Path, "/") {
		errs = append(errs, fmt.Errorf("object_store.path %q must not start or end with /", c.ObjectStore.Path))
	}

	if err := validateSQL("index", c.Index.Driver, c.Index.Table); err != nil {
		errs = append(errs, err)
	}

	if c.Compression {
		if _, ok := codec.Default().Lookup(c.CompressionScheme); !ok {
			errs = append(errs, fmt.Errorf("compression_scheme %q is not one of %v", c.CompressionScheme, codec.Default().Names()))
		}
	}

	if (c.ReadThrough || c.WriteThrough || c.DeleteThrough) && !c.Legacy.Enabled {
		errs = append(errs, errors.New("passthrough flags require legacy.enabled"))
	}
	if c.Legacy.Enabled {
		if err := validateSQL("legacy", c.Legacy.Driver, c.Legacy.Table); err != nil {
			errs = append(errs, err)
		}
		if c.Legacy.DSN == "" {
			errs = append(errs, errors.New("legacy.dsn must not be empty"))
		}
	}

	if (c.Server.Username == "") != (c.Server.Password == "") {
		errs = append(errs, errors.New("server.username and server.password must be set together"))
	}

	return errors.Join(errs...)
}

func validateSQL(section, driver, table string) error {
	switch driver {
	case sqldb.DriverSQLite, sqldb.DriverPostgres:
	default:
		return fmt.Errorf("%s.driver %q is not one of %s, %s", section, driver, sqldb.DriverSQLite, sqldb.DriverPostgres)
	}
	if err := sqldb.ValidateTableName(table); err != nil {
		return fmt.Errorf("%s.table: %w", section, err)
	}
	return nil
}

// DataSource returns the DSN for the index database, assembling one from the
// discrete connection parameters for PostgreSQL when none is given.
func (c IndexConfig) DataSource() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Driver == sqldb.DriverPostgres {
		return sqldb.PostgresDSN(c.Host, c.Port, c.Name, c.User, c.Password)
	}
	return DefaultIndexPath
}

// CompressionName is the scheme for new writes, or "" when disabled.
func (c Config) CompressionName() string {
	if !c.Compression {
		return ""
	}
	return c.CompressionScheme
}

// Redacted returns a copy of c with credentials masked.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.ObjectStore.AccessKeyID)
	mask(&c.ObjectStore.SecretAccessKey)
	mask(&c.Index.Password)
	mask(&c.Server.Password)
	if c.Index.DSN != "" && c.Index.Driver == sqldb.DriverPostgres {
		c.Index.DSN = redacted
	}
	if c.Legacy.DSN != "" && c.Legacy.Driver == sqldb.DriverPostgres {
		c.Legacy.DSN = redacted
	}
	return c
}

// YAML renders c as a YAML document.
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
