package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for drive.
type Config struct {
	BaseDir    string           `toml:"base_dir" validate:"required"`
	LogDir     string           `toml:"log_dir" validate:"required"`
	LogLevel   string           `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Storage    StorageConfig    `toml:"storage"`
	Database   DatabaseConfig   `toml:"database"`
	Cache      CacheConfig      `toml:"cache"`
	Staging    StagingConfig    `toml:"staging"`
	Server     ServerConfig     `toml:"server"`
	Vaults     []VaultConfig    `toml:"vaults" validate:"dive"`
	Encryption EncryptionConfig `toml:"encryption"`
	Snapshot   SnapshotConfig   `toml:"snapshot"`
}

// StorageConfig holds settings of the file volume and its housekeeping.
type StorageConfig struct {
	Root               string `toml:"root" validate:"required"`
	DefaultQuotaBytes  int64  `toml:"default_quota_bytes" validate:"min=0"` // 0 = unlimited
	TrashRetentionDays int    `toml:"trash_retention_days" validate:"min=0"`
	SweepWorkers       int    `toml:"sweep_workers" validate:"min=0"`
	SweepSchedule      string `toml:"sweep_schedule"` // cron spec or descriptor, e.g. "@daily"
	ListingTTLSeconds  int    `toml:"listing_ttl_seconds" validate:"min=0"`

	// BlockedPatterns are glob patterns of file names refused on upload
	// and rename, on top of the built-in dangerous extensions. Patterns
	// containing '/' match the path inside a folder upload; the others
	// match the file name. Case is ignored.
	BlockedPatterns []string `toml:"blocked_patterns"`
}

// DefaultBlockedPatterns lists operating system metadata files.
var DefaultBlockedPatterns = []string{
	"thumbs.db", "desktop.ini", ".ds_store", "._*", "~$*",
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"required,oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CacheConfig selects the directory listing cache backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CacheConfig struct {
	Type       string `toml:"type" validate:"required,oneof=memory redis"`
	MaxEntries int    `toml:"max_entries,omitempty" validate:"min=0"` // only used for type=memory

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr      string `toml:"redis_addr,omitempty"`
	RedisPassword  string `toml:"redis_password,omitempty"`
	RedisDB        int    `toml:"redis_db,omitempty" validate:"min=0"`
	RedisKeyPrefix string `toml:"redis_key_prefix,omitempty"`
}

// StagingConfig represents configuration for the chunked upload staging area.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type" validate:"required,oneof=memory filesystem"`
	StagingDir string `toml:"staging_dir,omitempty"`    // only used for type=filesystem
	MaxSize    int64  `toml:"max_size" validate:"gt=0"` // max bytes staged at once across all uploads
}

// ServerConfig holds settings of the HTTP server.
type ServerConfig struct {
	Addr           string   `toml:"addr" validate:"required"`
	IdentityHeader string   `toml:"identity_header" validate:"required"`
	AdminUsers     []string `toml:"admin_users"`
	Metrics        bool     `toml:"metrics"`
}

// VaultConfig represents configuration for a snapshot vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type" validate:"required,oneof=memory s3 filesystem"`
	Name string `toml:"name" validate:"required"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // for MinIO and other S3-compatible stores

	// Static credentials; the default AWS credential chain is used when empty.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type" validate:"omitempty,oneof=age none test"` // "age" (default), "none" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SnapshotConfig schedules database snapshots to the configured vaults.
type SnapshotConfig struct {
	Schedule string `toml:"schedule"`              // cron spec; empty disables scheduled snapshots
	Keep     int    `toml:"keep" validate:"min=0"` // snapshots kept per vault; 0 keeps all
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Storage: StorageConfig{
			Root:               filepath.Join(baseDir, "storage"),
			DefaultQuotaBytes:  10 << 30,
			TrashRetentionDays: 30,
			SweepWorkers:       4,
			SweepSchedule:      "@daily",
			ListingTTLSeconds:  60,
			BlockedPatterns:    append([]string(nil), DefaultBlockedPatterns...),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Cache:    CacheConfig{Type: "memory", MaxEntries: 10000},
		Staging: StagingConfig{
			Type:       "filesystem",
			StagingDir: filepath.Join(baseDir, "staging"),
			MaxSize:    2 << 30,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			IdentityHeader: "X-Remote-User",
			Metrics:        true,
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "drive.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "drive.key"),
		},
		Snapshot: SnapshotConfig{Keep: 7},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
