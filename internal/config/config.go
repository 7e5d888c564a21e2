// Package config loads easysftp command settings from defaults, an optional
// YAML file, .env files, EASYSFTP_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	easysftp "github.com/VikingPathak/Easy-SFTP"
	"github.com/VikingPathak/Easy-SFTP/internal/logging"
)

// EnvPrefix is prepended to every environment variable, e.g. EASYSFTP_HOST.
const EnvPrefix = "EASYSFTP"

// Config is the resolved command configuration. Connection settings sit at
// the top level of the file and environment; logging lives under "log".
type Config struct {
	SFTP easysftp.Config `mapstructure:",squash"`
	Log  logging.Config  `mapstructure:"log"`
}

// Options controls where Load looks for settings.
type Options struct {
	// File is a YAML config file. Empty means $EASYSFTP_CONFIG, then none.
	File string
	// EnvDir holds .env and .env.local. Empty means the working directory.
	EnvDir string
	// Flags, if set, override every other source for flags the user changed.
	Flags *pflag.FlagSet
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"host":         "host",
	"port":         "port",
	"user":         "user",
	"password":     "password",
	"key":          "key_path",
	"passphrase":   "key_passphrase",
	"cert":         "certificate_path",
	"agent":        "use_agent",
	"known-hosts":  "known_hosts",
	"insecure":     "insecure_ignore_host_key",
	"timeout":      "timeout",
	"bastion":      "bastion_host",
	"bastion-port": "bastion_port",
	"bastion-user": "bastion_user",
	"bastion-key":  "bastion_key_path",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file",
}

// Load merges all sources. Later sources win: defaults, config file, .env
// files, environment, flags.
func Load(opts Options) (*Config, error) {
	loadDotEnv(opts.EnvDir)

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	path := opts.File
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(easysftp.ExpandPath(path))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Unmarshal goes through AllSettings, which resolves every nested key
	// against flags and environment as well as the file.
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Log.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads .env.local before .env. Neither overrides variables that
// are already set.
func loadDotEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env.local"))
	_ = godotenv.Load(filepath.Join(dir, ".env"))
}

// setDefaults registers every key, which AutomaticEnv needs to see it
// during Unmarshal.
func setDefaults(v *viper.Viper) {
	sftpDefaults := easysftp.Config{}.WithDefaults()
	logDefaults := logging.Default()

	v.SetDefault("host", "")
	v.SetDefault("port", sftpDefaults.Port)
	v.SetDefault("user", "")
	v.SetDefault("auth_method", "")
	v.SetDefault("password", "")
	v.SetDefault("private_key", "")
	v.SetDefault("key_path", "")
	v.SetDefault("key_passphrase", "")
	v.SetDefault("certificate", "")
	v.SetDefault("certificate_path", "")
	v.SetDefault("use_agent", false)
	v.SetDefault("timeout", sftpDefaults.Timeout)
	v.SetDefault("known_hosts", "")
	v.SetDefault("insecure_ignore_host_key", false)
	v.SetDefault("bastion_host", "")
	v.SetDefault("bastion_port", 22)
	v.SetDefault("bastion_user", "")
	v.SetDefault("bastion_key", "")
	v.SetDefault("bastion_key_path", "")
	v.SetDefault("bastion_password", "")

	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.format", logDefaults.Format)
	v.SetDefault("log.file", logDefaults.File)
	v.SetDefault("log.max_size_mb", logDefaults.MaxSizeMB)
	v.SetDefault("log.max_backups", logDefaults.MaxBackups)
	v.SetDefault("log.max_age_days", logDefaults.MaxAgeDays)
	v.SetDefault("log.compress", logDefaults.Compress)
}

// RegisterFlags adds the connection and logging flags Load understands.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("host", "H", "", "SFTP server host (or set EASYSFTP_HOST)")
	fs.IntP("port", "P", 22, "SFTP server port")
	fs.StringP("user", "u", "", "SFTP username (or set EASYSFTP_USER)")
	fs.String("password", "", "SFTP password (or set EASYSFTP_PASSWORD)")
	fs.StringP("key", "i", "", "Path to SSH private key")
	fs.String("passphrase", "", "Private key passphrase (or set EASYSFTP_KEY_PASSPHRASE)")
	fs.String("cert", "", "Path to SSH certificate, used with --key")
	fs.Bool("agent", false, "Also authenticate with keys from ssh-agent")
	fs.String("known-hosts", "", "Path to known_hosts file (default ~/.ssh/known_hosts)")
	fs.Bool("insecure", false, "Skip host key verification")
	fs.Duration("timeout", 30*time.Second, "Connection timeout")
	fs.String("bastion", "", "Jump host to connect through")
	fs.Int("bastion-port", 22, "Jump host SSH port")
	fs.String("bastion-user", "", "Jump host username (defaults to --user)")
	fs.String("bastion-key", "", "Path to jump host private key (defaults to --key)")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "console", "Log format: console or json")
	fs.String("log-file", "", "Write logs to this file instead of stderr")
}
