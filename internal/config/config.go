// Package config loads the settings of the mcapkit command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arloliu/mcapkit/compress"
	"github.com/arloliu/mcapkit/format"
	"github.com/arloliu/mcapkit/internal/logging"
	"github.com/arloliu/mcapkit/repack"
	"github.com/arloliu/mcapkit/writer"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MCAPKIT"

// Config aggregates the command configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Reader ReaderConfig `mapstructure:"reader"`
	Writer WriterConfig `mapstructure:"writer"`
	Repack RepackConfig `mapstructure:"repack"`
	S3     S3Config     `mapstructure:"s3"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ReaderConfig struct {
	// WindowSize is the read-ahead window of file and S3 sources, in bytes.
	WindowSize int  `mapstructure:"window_size"`
	Strict     bool `mapstructure:"strict"`
}

type WriterConfig struct {
	Compression string `mapstructure:"compression"`
	ChunkSize   int    `mapstructure:"chunk_size"`
}

type RepackConfig struct {
	ChunkMin    time.Duration `mapstructure:"chunk_min"`
	ChunkMax    time.Duration `mapstructure:"chunk_max"`
	Concurrency int           `mapstructure:"concurrency"`
}

type S3Config struct {
	Region string `mapstructure:"region"`
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string `mapstructure:"endpoint"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Log:    LogConfig{Level: "info"},
		Reader: ReaderConfig{WindowSize: 1 << 20},
		Writer: WriterConfig{Compression: "zstd", ChunkSize: writer.DefaultChunkSize},
		Repack: RepackConfig{
			ChunkMin:    repack.DefaultChunkMin,
			ChunkMax:    repack.DefaultChunkMax,
			Concurrency: runtime.GOMAXPROCS(0),
		},
	}
}

// Load reads configuration from an optional mcapkit.yaml in the working
// directory, or from path when it is not empty, and from environment
// variables. Environment variables use the prefix "MCAPKIT" and the dot in
// keys is replaced by an underscore: "repack.chunk_max" becomes
// "MCAPKIT_REPACK_CHUNK_MAX".
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mcapkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// bindEnvs registers every key of cfg so that viper looks up the matching
// environment variable when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := range typ.NumField() {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts[:len(parts):len(parts)], tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}

	return level, nil
}

// Compression parses Writer.Compression: "zstd", "lz4", or "none" or the
// empty string for uncompressed chunks.
func (c *Config) Compression() (format.CompressionType, error) {
	return ParseCompression(c.Writer.Compression)
}

// ParseCompression maps a user-facing codec name to its type.
func ParseCompression(name string) (format.CompressionType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "none" {
		return format.CompressionNone, nil
	}
	_, ct, err := compress.GetCodecByName(name)
	if err != nil {
		return 0, fmt.Errorf("compression: %w", err)
	}

	return ct, nil
}
