// Package config loads blobarena settings: struct defaults, then an optional
// YAML file, then .env and BLOBARENA_* environment overrides.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "BLOBARENA_"

var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	World  World  `yaml:"world"`
	Server Server `yaml:"server"`
	Client Client `yaml:"client"`
	Log    Log    `yaml:"log"`
}

type World struct {
	Size            float64       `yaml:"size"`
	TargetFood      int           `yaml:"target_food"`
	PeerTargetFood  int           `yaml:"peer_target_food"`
	SpawnBatch      int           `yaml:"spawn_batch"`
	TombstoneWindow time.Duration `yaml:"tombstone_window"`
}

type Server struct {
	HTTPAddr        string        `yaml:"http_addr"`
	QUICAddr        string        `yaml:"quic_addr"`
	WorldRate       float64       `yaml:"world_rate"`
	UpkeepInterval  time.Duration `yaml:"upkeep_interval"`
	PlayerTimeout   time.Duration `yaml:"player_timeout"`
	SendQueue       int           `yaml:"send_queue"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxFrameSize    int           `yaml:"max_frame_size"`
	CompressAbove   int           `yaml:"compress_above"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Client struct {
	URL          string        `yaml:"url"`
	Transport    string        `yaml:"transport"`
	Codec        string        `yaml:"codec"`
	Name         string        `yaml:"name"`
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
	InsecureTLS  bool          `yaml:"insecure_tls"`
	Headless     bool          `yaml:"headless"`
}

type Log struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		World: World{
			Size:            3000,
			TargetFood:      200,
			PeerTargetFood:  150,
			SpawnBatch:      5,
			TombstoneWindow: time.Second,
		},
		Server: Server{
			HTTPAddr:        ":3000",
			WorldRate:       30,
			UpkeepInterval:  100 * time.Millisecond,
			PlayerTimeout:   30 * time.Second,
			SendQueue:       256,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxFrameSize:    1 << 20,
			CompressAbove:   1024,
			RateLimit:       60,
			RateBurst:       120,
			ShutdownTimeout: 5 * time.Second,
		},
		Client: Client{
			URL:          "ws://localhost:3000/ws",
			Transport:    "websocket",
			Codec:        "msgpack",
			Name:         "blob",
			ReconnectMin: 250 * time.Millisecond,
			ReconnectMax: 5 * time.Second,
			InsecureTLS:  true,
		},
		Log: Log{Level: "info"},
	}
}

// Load builds a Config. path may be empty. Missing env files are skipped.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "open config")
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, pkgerrors.Wrapf(err, "decode %s", path)
		}
	}

	for _, name := range envFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return nil, pkgerrors.Wrapf(err, "load %s", name)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from BLOBARENA_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}
	e.str("HTTP_ADDR", &c.Server.HTTPAddr)
	e.str("QUIC_ADDR", &c.Server.QUICAddr)
	e.float("WORLD_RATE", &c.Server.WorldRate)
	e.int("SEND_QUEUE", &c.Server.SendQueue)
	e.float("RATE_LIMIT", &c.Server.RateLimit)
	e.int("RATE_BURST", &c.Server.RateBurst)
	e.duration("PLAYER_TIMEOUT", &c.Server.PlayerTimeout)

	e.float("WORLD_SIZE", &c.World.Size)
	e.int("TARGET_FOOD", &c.World.TargetFood)

	e.str("SERVER_URL", &c.Client.URL)
	e.str("TRANSPORT", &c.Client.Transport)
	e.str("CODEC", &c.Client.Codec)
	e.str("PLAYER_NAME", &c.Client.Name)
	e.bool("HEADLESS", &c.Client.Headless)

	e.str("LOG_LEVEL", &c.Log.Level)
	return e.err
}

func (c *Config) Validate() error {
	switch {
	case c.World.Size <= 0:
		return pkgerrors.Wrap(ErrInvalid, "world.size must be positive")
	case c.World.SpawnBatch <= 0:
		return pkgerrors.Wrap(ErrInvalid, "world.spawn_batch must be positive")
	case c.World.TargetFood < 0 || c.World.PeerTargetFood < 0:
		return pkgerrors.Wrap(ErrInvalid, "target food must not be negative")
	case c.Server.WorldRate <= 0:
		return pkgerrors.Wrap(ErrInvalid, "server.world_rate must be positive")
	case c.Server.SendQueue <= 0:
		return pkgerrors.Wrap(ErrInvalid, "server.send_queue must be positive")
	case c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0:
		return pkgerrors.Wrap(ErrInvalid, "server rate limit must be positive")
	case c.Client.ReconnectMin <= 0 || c.Client.ReconnectMax < c.Client.ReconnectMin:
		return pkgerrors.Wrap(ErrInvalid, "client reconnect backoff")
	case c.Client.Transport != "websocket" && c.Client.Transport != "quic":
		return pkgerrors.Wrapf(ErrInvalid, "client.transport %q", c.Client.Transport)
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key string, err error) {
	e.err = pkgerrors.Wrapf(ErrInvalid, "%s%s: %v", EnvPrefix, key, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}
