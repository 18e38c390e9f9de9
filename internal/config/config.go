package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Supported archive entry compression methods
const (
	CompressionDeflate = "deflate"
	CompressionZstd    = "zstd"
)

// Config is the top-level configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Paths  PathsConfig  `yaml:"paths"`
	Backup BackupConfig `yaml:"backup"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
	DBPath  string `yaml:"db_path"`
}

// PathsConfig locates the files that live next to the database. Relative
// paths resolve under the data directory.
type PathsConfig struct {
	UploadsDir   string `yaml:"uploads_dir"`
	SettingsFile string `yaml:"settings_file"`
}

// BackupConfig holds backup defaults
type BackupConfig struct {
	OutputDir   string `yaml:"output_dir"`
	Actor       string `yaml:"actor"`
	Compression string `yaml:"compression"`
	Note        string `yaml:"note"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:  "127.0.0.1:8484",
			DataDir: "/var/lib/clinicvault",
			DBPath:  "",
		},
		Paths: PathsConfig{
			UploadsDir:   "uploads",
			SettingsFile: "settings.json",
		},
		Backup: BackupConfig{
			OutputDir:   "backups",
			Actor:       "system",
			Compression: CompressionDeflate,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"clinicvault.yaml",
		"/etc/clinicvault/clinicvault.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "clinicvault", "clinicvault.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks values that would otherwise fail late, mid-operation.
func (c *Config) Validate() error {
	if c.Server.DataDir == "" {
		return fmt.Errorf("server.data_dir is required")
	}
	switch c.Backup.Compression {
	case "", CompressionDeflate, CompressionZstd:
	default:
		return fmt.Errorf("unsupported backup.compression %q (want %s or %s)",
			c.Backup.Compression, CompressionDeflate, CompressionZstd)
	}
	return nil
}

// DatabasePath returns the SQLite path, defaulting to clinicvault.db in the
// data directory.
func (c *Config) DatabasePath() string {
	if c.Server.DBPath != "" {
		return c.Server.DBPath
	}
	return filepath.Join(c.Server.DataDir, "clinicvault.db")
}

// UploadsPath returns the absolute asset directory
func (c *Config) UploadsPath() string {
	return c.resolve(c.Paths.UploadsDir)
}

// SettingsPath returns the absolute settings file path
func (c *Config) SettingsPath() string {
	return c.resolve(c.Paths.SettingsFile)
}

// BackupOutputDir returns the directory backups land in when no destination
// is given
func (c *Config) BackupOutputDir() string {
	return c.resolve(c.Backup.OutputDir)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Server.DataDir, p)
}
