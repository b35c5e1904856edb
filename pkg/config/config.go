package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure for ctecached.
type Config struct {
	Node        NodeConfig        `yaml:"node"`
	Materialize MaterializeConfig `yaml:"materialize"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// NodeConfig contains node-specific configuration.
type NodeConfig struct {
	ID string `yaml:"id"`
}

// MaterializeConfig configures the materialization cache manager.
type MaterializeConfig struct {
	Enabled        bool          `yaml:"enabled"` // master on/off; false degrades every operation to a no-op
	MaxSizeBytes   int64         `yaml:"max_size_bytes"`
	ShardCount     int           `yaml:"shard_count"`
	ValidationPoll time.Duration `yaml:"validation_poll_interval"`
	// CachingUser is the identity background catalog work (InvalidateAll's
	// drops) runs under, attached to the operation's context via session.WithID.
	CachingUser string `yaml:"caching_user"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level         string `yaml:"level"`          // debug, info, warn, error, fatal
	EnableConsole bool   `yaml:"enable_console"` // Enable console output
	EnableFile    bool   `yaml:"enable_file"`    // Enable file output
	LogFile       string `yaml:"log_file"`       // Log file path
	BufferSize    int    `yaml:"buffer_size"`    // Async log buffer size
	LogDir        string `yaml:"log_dir"`        // Log directory
	MaxFileSize   string `yaml:"max_file_size"`  // Maximum log file size before rotation
	MaxFiles      int    `yaml:"max_files"`      // Maximum number of log files to keep
}

// MetricsConfig configures the armon/go-metrics sink.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ServiceName    string        `yaml:"service_name"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// Load reads and parses the configuration file, falling back to
// defaults for anything the file omits (and entirely if the file does
// not exist).
func Load(path string) (*Config, error) {
	config := &Config{
		Node: NodeConfig{
			ID: "ctecached-node-1",
		},
		Materialize: MaterializeConfig{
			Enabled:        true,
			MaxSizeBytes:   8 << 30, // 8GB
			ShardCount:     16,
			ValidationPoll: 5 * time.Second,
			CachingUser:    "cte-cache-svc",
		},
		Logging: LoggingConfig{
			Level:         "info",
			EnableConsole: true,
			EnableFile:    false,
			LogFile:       "",
			BufferSize:    1000,
			LogDir:        "logs",
			MaxFileSize:   "100MB",
			MaxFiles:      10,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ServiceName:    "ctecache",
			ReportInterval: 10 * time.Second,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("configuration file %s not found, using defaults\n", path)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks whether the configuration is usable.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("node.id cannot be empty")
	}
	if c.Materialize.MaxSizeBytes <= 0 {
		return fmt.Errorf("materialize.max_size_bytes must be > 0")
	}
	if c.Materialize.ShardCount <= 0 {
		return fmt.Errorf("materialize.shard_count must be > 0")
	}
	if !isValidLogLevel(c.Logging.Level) {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error", "fatal":
		return true
	default:
		return false
	}
}
