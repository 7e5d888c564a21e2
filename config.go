package easysftp

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// AuthMethod represents the SSH authentication method to use.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication.
	AuthMethodPassword AuthMethod = "password"
	// AuthMethodPrivateKey uses SSH private key authentication.
	AuthMethodPrivateKey AuthMethod = "private_key"
	// AuthMethodCertificate uses SSH certificate authentication.
	AuthMethodCertificate AuthMethod = "certificate"
	// AuthMethodAgent uses keys held by a running ssh-agent.
	AuthMethodAgent AuthMethod = "agent"
)

// Config holds the fully resolved connection settings for a Session.
// Nothing in this package prompts for missing values; see internal/prompt.
type Config struct {
	// Host is the SFTP server hostname or IP address.
	Host string `mapstructure:"host"`

	// Port is the SSH port (default 22).
	Port int `mapstructure:"port"`

	// User is the login name on the server.
	User string `mapstructure:"user"`

	// AuthMethod selects the authentication method.
	// If not set, it is inferred from the provided credentials.
	AuthMethod AuthMethod `mapstructure:"auth_method"`

	// Password is used for password authentication.
	Password string `mapstructure:"password"`

	// PrivateKey is the SSH private key content (PEM encoded).
	// Takes precedence over KeyPath.
	PrivateKey string `mapstructure:"private_key"`

	// KeyPath is the path to the SSH private key file.
	KeyPath string `mapstructure:"key_path"`

	// KeyPassphrase decrypts an encrypted private key.
	KeyPassphrase string `mapstructure:"key_passphrase"`

	// Certificate is the SSH certificate content.
	// Used with PrivateKey or KeyPath for certificate authentication.
	Certificate string `mapstructure:"certificate"`

	// CertificatePath is the path to the SSH certificate file.
	CertificatePath string `mapstructure:"certificate_path"`

	// UseAgent authenticates with the keys of the agent at $SSH_AUTH_SOCK.
	UseAgent bool `mapstructure:"use_agent"`

	// Timeout bounds TCP connect and SSH handshake (default 30s).
	Timeout time.Duration `mapstructure:"timeout"`

	// KnownHostsFile is the path to a known_hosts file for host key verification.
	// If not set, ~/.ssh/known_hosts is used when it exists.
	KnownHostsFile string `mapstructure:"known_hosts"`

	// InsecureIgnoreHostKey skips host key verification.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool `mapstructure:"insecure_ignore_host_key"`

	// BastionHost is the hostname or IP of a jump host.
	BastionHost string `mapstructure:"bastion_host"`

	// BastionPort is the SSH port of the bastion host (default 22).
	BastionPort int `mapstructure:"bastion_port"`

	// BastionUser falls back to User if not set.
	BastionUser string `mapstructure:"bastion_user"`

	// BastionKey falls back to PrivateKey if not set.
	BastionKey string `mapstructure:"bastion_key"`

	// BastionKeyPath falls back to KeyPath if not set.
	BastionKeyPath string `mapstructure:"bastion_key_path"`

	// BastionPassword is the password for the bastion host.
	BastionPassword string `mapstructure:"bastion_password"`
}

// WithDefaults returns a copy of the config with default values applied.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BastionPort == 0 && c.BastionHost != "" {
		c.BastionPort = 22
	}
	return c
}

// Validate reports whether the config names a server and a user.
// Credentials are checked later, when auth methods are built.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.BastionPort < 0 || c.BastionPort > 65535 {
		return fmt.Errorf("invalid bastion port %d", c.BastionPort)
	}
	return nil
}

// Address returns the host:port of the target server.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) bastionAddress() string {
	return net.JoinHostPort(c.BastionHost, strconv.Itoa(c.BastionPort))
}

// NeedsPassword reports whether password authentication would be chosen
// for this config and no password is set yet.
func (c Config) NeedsPassword() bool {
	if c.Password != "" {
		return false
	}
	switch c.AuthMethod {
	case AuthMethodPassword:
		return true
	case "":
		return c.PrivateKey == "" && c.KeyPath == "" &&
			c.Certificate == "" && c.CertificatePath == "" && !c.UseAgent
	}
	return false
}
