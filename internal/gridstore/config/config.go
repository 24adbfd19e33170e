package config

import (
	"log"
	"os"
	"path/filepath"

	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

// Backend kinds.
const (
	BackendMemory = "memory"
	BackendLSM    = "lsm"
	BackendRedis  = "redis"
)

// ID types.
const (
	IDSnowflake = "snowflake"
	IDUUID      = "uuid"
)

// Config holds gridstore configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	App      AppConfig      `json:"app" yaml:"app"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Backend  BackendConfig  `json:"backend" yaml:"backend"`
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch"`
	Logger   logger.Config  `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	BodyLimitMB int    `json:"body_limit_mb" yaml:"body_limit_mb"`
}

type AppConfig struct {
	NodeID int64  `json:"node_id" yaml:"node_id"`
	IDType string `json:"id_type" yaml:"id_type"` // "snowflake", "uuid"
}

type StoreConfig struct {
	Prefix         string             `json:"prefix" yaml:"prefix"`
	ChunkSize      int32              `json:"chunk_size" yaml:"chunk_size"`
	ReadBufferSize int                `json:"read_buffer_size" yaml:"read_buffer_size"`
	ParallelChunks int                `json:"parallel_chunks" yaml:"parallel_chunks"`
	Digest         string             `json:"digest" yaml:"digest"` // "md5", "sha256", "blake3", "none"
	VerifyDigest   bool               `json:"verify_digest" yaml:"verify_digest"`
	WriteConcern   WriteConcernConfig `json:"write_concern" yaml:"write_concern"`
	ReadPreference string             `json:"read_preference" yaml:"read_preference"`
}

type WriteConcernConfig struct {
	W         int    `json:"w" yaml:"w"`
	Tag       string `json:"tag" yaml:"tag"`
	Journal   bool   `json:"journal" yaml:"journal"`
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type BackendConfig struct {
	Kind  string      `json:"kind" yaml:"kind"` // "memory", "lsm", "redis"
	LSM   LSMConfig   `json:"lsm" yaml:"lsm"`
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

type LSMConfig struct {
	DataDir             string `json:"data_dir" yaml:"data_dir"`
	FSync               bool   `json:"fsync" yaml:"fsync"`
	CompactionThreshold int    `json:"compaction_threshold" yaml:"compaction_threshold"`
	MaxSegmentSize      int64  `json:"max_segment_size" yaml:"max_segment_size"`
}

type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

type DispatchConfig struct {
	MaxRetries       int `json:"max_retries" yaml:"max_retries"`
	AttemptTimeoutMS int `json:"attempt_timeout_ms" yaml:"attempt_timeout_ms"`
	RetryBackoffMS   int `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeoutMS    int `json:"open_timeout_ms" yaml:"open_timeout_ms"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8090",
			BodyLimitMB: 512,
		},
		App: AppConfig{
			NodeID: 1,
			IDType: IDSnowflake,
		},
		Store: StoreConfig{
			Prefix:         "fs",
			ChunkSize:      255 * 1024,
			ReadBufferSize: 255 * 1024,
			ParallelChunks: 4,
			Digest:         "md5",
			WriteConcern:   WriteConcernConfig{W: 1},
			ReadPreference: "primary",
		},
		Backend: BackendConfig{
			Kind: BackendMemory,
			LSM: LSMConfig{
				DataDir:             "./data",
				CompactionThreshold: 8,
			},
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "gridstore",
			},
		},
		Dispatch: DispatchConfig{
			MaxRetries:       3,
			AttemptTimeoutMS: 5000,
			RetryBackoffMS:   100,
			FailureThreshold: 5,
			OpenTimeoutMS:    10000,
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "gridstore", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		// The logger is configured from this file, so it is not ready yet.
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		return cfg, nil
	}

	return parsedCfg, nil
}

// MustLoad loads configuration or exits on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
