package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AccountConfig describes a mailbox account seeded from the config file.
type AccountConfig struct {
	Name               string `mapstructure:"name" yaml:"name"`
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	Encryption         string `mapstructure:"encryption" yaml:"encryption"`
	ValidateCert       bool   `mapstructure:"validate_cert" yaml:"validate_cert"`
	Username           string `mapstructure:"username" yaml:"username"`
	Password           string `mapstructure:"password" yaml:"password"`
	Folder             string `mapstructure:"folder" yaml:"folder"`
	Active             bool   `mapstructure:"active" yaml:"active"`
	DeleteAfterArchive bool   `mapstructure:"delete_after_archive" yaml:"delete_after_archive"`
	SyncInterval       string `mapstructure:"sync_interval" yaml:"sync_interval"`
}

// Account converts the config entry into a MailboxAccount.
func (c AccountConfig) Account() MailboxAccount {
	return MailboxAccount{
		Name:               c.Name,
		Host:               c.Host,
		Port:               c.Port,
		Encryption:         Encryption(c.Encryption),
		ValidateCert:       c.ValidateCert,
		Username:           c.Username,
		Password:           c.Password,
		Folder:             c.Folder,
		IsActive:           c.Active,
		DeleteAfterArchive: c.DeleteAfterArchive,
		SyncInterval:       SyncInterval(c.SyncInterval),
	}
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// S3Config holds settings for the s3 blob disk.
type S3Config struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// StorageConfig selects where attachment blobs are written.
type StorageConfig struct {
	// Disk is the logical disk new blobs go to: local, bolt or s3.
	Disk     string   `mapstructure:"disk" yaml:"disk"`
	Root     string   `mapstructure:"root" yaml:"root"`
	BoltPath string   `mapstructure:"bolt_path" yaml:"bolt_path"`
	S3       S3Config `mapstructure:"s3" yaml:"s3"`
}

// ArchiveConfig holds parsing and ingestion knobs.
type ArchiveConfig struct {
	// Domain is used when synthesizing missing Message-IDs.
	Domain               string `mapstructure:"domain" yaml:"domain"`
	CompressionThreshold int    `mapstructure:"compression_threshold" yaml:"compression_threshold"`
	ChunkSize            int    `mapstructure:"chunk_size" yaml:"chunk_size"`
}

// WebhookConfig holds the inbound HTTP listener settings.
type WebhookConfig struct {
	Addr          string `mapstructure:"addr" yaml:"addr"`
	RatePerMinute int    `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
}

// ExportConfig holds compliance export settings.
type ExportConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SyncConfig controls the scheduled sync loop.
type SyncConfig struct {
	TickSec int `mapstructure:"tick_sec" yaml:"tick_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Storage  StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Archive  ArchiveConfig   `mapstructure:"archive" yaml:"archive"`
	Webhook  WebhookConfig   `mapstructure:"webhook" yaml:"webhook"`
	Export   ExportConfig    `mapstructure:"export" yaml:"export"`
	Log      LogConfig       `mapstructure:"log" yaml:"log"`
	Sync     SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailarchive/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailarchive", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Database: DatabaseConfig{Path: "data/mailarchive.db"},
		Storage: StorageConfig{
			Disk:     "local",
			Root:     "data/storage",
			BoltPath: "data/blobs.db",
		},
		Archive: ArchiveConfig{
			Domain:               "mailarchive.local",
			CompressionThreshold: 1024,
			ChunkSize:            25,
		},
		Webhook: WebhookConfig{Addr: ":8080", RatePerMinute: 120},
		Export:  ExportConfig{Dir: "data/exports"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Sync:    SyncConfig{TickSec: 60},
	}
}

func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("storage.disk", d.Storage.Disk)
	v.SetDefault("storage.root", d.Storage.Root)
	v.SetDefault("storage.bolt_path", d.Storage.BoltPath)
	v.SetDefault("archive.domain", d.Archive.Domain)
	v.SetDefault("archive.compression_threshold", d.Archive.CompressionThreshold)
	v.SetDefault("archive.chunk_size", d.Archive.ChunkSize)
	v.SetDefault("webhook.addr", d.Webhook.Addr)
	v.SetDefault("webhook.rate_per_minute", d.Webhook.RatePerMinute)
	v.SetDefault("export.dir", d.Export.Dir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("sync.tick_sec", d.Sync.TickSec)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with MAILARCHIVE_ override file values
// (MAILARCHIVE_DATABASE_PATH, MAILARCHIVE_WEBHOOK_ADDR, ...). If the file
// does not exist, defaults plus environment are used.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("mailarchive")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each account entry.
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		if a.Port == 0 {
			a.Port = 993
		}
		if a.Encryption == "" {
			a.Encryption = string(EncryptionSSL)
		}
		if a.Folder == "" {
			a.Folder = "INBOX"
		}
		if a.SyncInterval == "" {
			a.SyncInterval = string(SyncHourly)
		}
		// Viper unmarshals missing bools as false; treat unset as true.
		if key := fmt.Sprintf("accounts.%d.active", i); !a.Active && !v.IsSet(key) {
			a.Active = true
		}
		if key := fmt.Sprintf("accounts.%d.validate_cert", i); !a.ValidateCert && !v.IsSet(key) {
			a.ValidateCert = true
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("storage", cfg.Storage)
	v.Set("archive", cfg.Archive)
	v.Set("webhook", cfg.Webhook)
	v.Set("export", cfg.Export)
	v.Set("log", cfg.Log)
	v.Set("sync", cfg.Sync)
	v.Set("accounts", cfg.Accounts)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
