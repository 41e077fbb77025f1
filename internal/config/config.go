package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	UploadsDirectory string           `mapstructure:"uploads_directory" validate:"required"`
	Conversion       ConversionConfig `mapstructure:"conversion"`
	Rewrite          RewriteConfig    `mapstructure:"rewrite"`
	Performance      PerfConfig       `mapstructure:"performance"`
	Logging          LoggingConfig    `mapstructure:"logging"`
}

// ConversionConfig contains eligibility thresholds and conversion settings
type ConversionConfig struct {
	Quality           int    `mapstructure:"quality"`            // 0..100
	MinWidth          int    `mapstructure:"min_width"`          // px
	MinHeight         int    `mapstructure:"min_height"`         // px
	MinSizeKB         int    `mapstructure:"min_size_kb"`        // KB
	ForceAll          bool   `mapstructure:"force_all"`          // bypass thresholds
	ConvertOriginals  bool   `mapstructure:"convert_originals"`  // convert full-size files
	ConvertThumbnails bool   `mapstructure:"convert_thumbnails"` // convert renditions
	OutputFormat      string `mapstructure:"output_format"`      // webp, avif, or both
	PreserveMetadata  bool   `mapstructure:"preserve_metadata"`  // copy EXIF into derived files
}

// RewriteConfig controls URL substitution for browsers that accept next-gen formats
type RewriteConfig struct {
	EnableFallbackReplacement bool `mapstructure:"enable_fallback_replacement"`
}

// PerfConfig contains batching and caching settings
type PerfConfig struct {
	BatchSize    int `mapstructure:"batch_size"`     // records per convert-batch call
	ScanCacheTTL int `mapstructure:"scan_cache_ttl"` // seconds a scan result stays fresh
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// ValidOutputFormats lists the accepted values for conversion.output_format.
func ValidOutputFormats() []string {
	return []string{"webp", "avif", "both"}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		UploadsDirectory: ".",
		Conversion: ConversionConfig{
			Quality:           80,
			MinWidth:          150,
			MinHeight:         150,
			MinSizeKB:         10,
			ForceAll:          false,
			ConvertOriginals:  true,
			ConvertThumbnails: true,
			OutputFormat:      "webp",
			PreserveMetadata:  false,
		},
		Rewrite: RewriteConfig{
			EnableFallbackReplacement: false,
		},
		Performance: PerfConfig{
			BatchSize:    10,
			ScanCacheTTL: 3600,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "nextgen-optimizer.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.nextgen-optimizer")
		viper.AddConfigPath("/etc/nextgen-optimizer")
	}

	// Enable environment variable support
	viper.SetEnvPrefix("NEXTGEN_OPTIMIZER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Unmarshal config
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate and normalize config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	if c.UploadsDirectory == "" {
		return fmt.Errorf("uploads_directory is required")
	}

	if !isValidPath(c.UploadsDirectory) {
		return fmt.Errorf("uploads_directory does not exist or is not accessible: %s", c.UploadsDirectory)
	}

	// Clamp quality into 0..100
	if c.Conversion.Quality < 0 {
		c.Conversion.Quality = 0
	}
	if c.Conversion.Quality > 100 {
		c.Conversion.Quality = 100
	}

	// Negative thresholds are treated as zero (threshold disabled)
	if c.Conversion.MinWidth < 0 {
		c.Conversion.MinWidth = 0
	}
	if c.Conversion.MinHeight < 0 {
		c.Conversion.MinHeight = 0
	}
	if c.Conversion.MinSizeKB < 0 {
		c.Conversion.MinSizeKB = 0
	}

	c.Conversion.OutputFormat = strings.ToLower(c.Conversion.OutputFormat)
	valid := false
	for _, f := range ValidOutputFormats() {
		if c.Conversion.OutputFormat == f {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid output_format: %s (valid: webp, avif, both)", c.Conversion.OutputFormat)
	}

	if c.Performance.BatchSize <= 0 {
		c.Performance.BatchSize = 10
	}
	if c.Performance.ScanCacheTTL <= 0 {
		c.Performance.ScanCacheTTL = 3600
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

func isValidPath(path string) bool {
	if path == "" {
		return false
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}

	stat, err := os.Stat(expandedPath)
	return err == nil && stat.IsDir()
}
