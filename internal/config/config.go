package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// Environment variables read by ApplyEnv.
const (
	EnvServerURL = "ROOMTODO_SERVER_URL"
	EnvToken     = "ROOMTODO_TOKEN"
	EnvJWTSecret = "ROOMTODO_JWT_SECRET"
	EnvDB        = "ROOMTODO_DB"
)

// Config is the complete configuration.
type Config struct {
	Server Server `json:"server"`
	Client Client `json:"client"`
	Log    Log    `json:"log"`
}

// Server configures `roomtodo serve` and token issuing.
type Server struct {
	Addr       string `json:"addr"`
	DB         string `json:"db"`
	JWTSecret  string `json:"jwt_secret"`
	TokenTTL   string `json:"token_ttl"`
	NATSURL    string `json:"nats_url"`
	NATSPrefix string `json:"nats_prefix"`
	Metrics    bool   `json:"metrics"`
}

// TTL parses TokenTTL.
func (s Server) TTL() (time.Duration, error) {
	d, err := time.ParseDuration(s.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("server.token_ttl: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("server.token_ttl: must be positive, got %s", s.TokenTTL)
	}
	return d, nil
}

// Client configures the client commands.
type Client struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Log configures logging.
type Log struct {
	Level string `json:"level"`
}

// SlogLevel returns Level as a slog.Level.
func (l Log) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Default returns the schema defaults.
func Default() *Config {
	cfg, err := Parse(nil, "")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema: %v", err))
	}
	return cfg
}

// Load reads the file at path, applies environment overrides and returns
// the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// Parse unifies data with the schema and decodes it. The format follows
// the filename extension: .yaml and .yml are YAML, anything else is CUE
// (which includes JSON).
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(data) > 0 {
		file, err := compileFile(ctx, data, filename)
		if err != nil {
			return nil, err
		}
		v = v.Unify(file)
	}

	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", displayName(filename), err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func compileFile(ctx *cue.Context, data []byte, filename string) (cue.Value, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		f, err := yaml.Extract(filename, data)
		if err != nil {
			return cue.Value{}, fmt.Errorf("parse config %s: %w", displayName(filename), err)
		}
		v := ctx.BuildFile(f)
		if err := v.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("build config %s: %w", displayName(filename), err)
		}
		return v, nil
	default:
		v := ctx.CompileBytes(data, cue.Filename(filename))
		if err := v.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("parse config %s: %w", displayName(filename), err)
		}
		return v, nil
	}
}

// ApplyEnv overrides cfg with the ROOMTODO_* variables that lookup finds.
// Set-but-empty variables clear the value.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvServerURL); ok {
		cfg.Client.URL = v
	}
	if v, ok := lookup(EnvToken); ok {
		cfg.Client.Token = v
	}
	if v, ok := lookup(EnvJWTSecret); ok {
		cfg.Server.JWTSecret = v
	}
	if v, ok := lookup(EnvDB); ok {
		cfg.Server.DB = v
	}
}

// ErrNoSecret is returned by RequireSecret when server.jwt_secret is unset.
var ErrNoSecret = errors.New("server.jwt_secret is not set (config file or " + EnvJWTSecret + ")")

// RequireSecret returns the JWT secret or ErrNoSecret.
func (c *Config) RequireSecret() (string, error) {
	if c.Server.JWTSecret == "" {
		return "", ErrNoSecret
	}
	return c.Server.JWTSecret, nil
}

func displayName(filename string) string {
	if filename == "" {
		return "<defaults>"
	}
	return filename
}
