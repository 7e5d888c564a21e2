package easysftp

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// buildAuthMethods returns the SSH auth methods for config. The returned
// closer, if non-nil, holds an ssh-agent connection that must stay open
// until the handshake completes.
func buildAuthMethods(config Config) ([]ssh.AuthMethod, io.Closer, error) {
	var authMethods []ssh.AuthMethod

	authMethod := config.AuthMethod
	if authMethod == "" {
		authMethod = inferAuthMethod(config)
	}

	switch authMethod {
	case AuthMethodPassword:
		if config.Password == "" {
			return nil, nil, fmt.Errorf("password authentication requires password to be set")
		}
		authMethods = append(authMethods,
			ssh.Password(config.Password),
			ssh.KeyboardInteractive(passwordChallenge(config.Password)),
		)

	case AuthMethodCertificate:
		certAuth, err := buildCertificateAuth(config)
		if err != nil {
			return nil, nil, fmt.Errorf("certificate authentication failed: %w", err)
		}
		authMethods = append(authMethods, certAuth)

	case AuthMethodPrivateKey:
		keyAuth, err := buildPrivateKeyAuth(config)
		if err != nil {
			return nil, nil, err
		}
		authMethods = append(authMethods, keyAuth)

	case AuthMethodAgent:
		// handled below

	default:
		return nil, nil, fmt.Errorf("unsupported auth method %q", authMethod)
	}

	if authMethod == AuthMethodAgent || config.UseAgent {
		agentAuth, conn, err := buildAgentAuth()
		if err != nil {
			if authMethod == AuthMethodAgent {
				return nil, nil, err
			}
			// The agent is a fallback here; the primary method still works.
			return authMethods, nil, nil
		}
		return append(authMethods, agentAuth), conn, nil
	}

	return authMethods, nil, nil
}

func inferAuthMethod(config Config) AuthMethod {
	switch {
	case config.Password != "":
		return AuthMethodPassword
	case config.Certificate != "" || config.CertificatePath != "":
		return AuthMethodCertificate
	case config.PrivateKey != "" || config.KeyPath != "":
		return AuthMethodPrivateKey
	case config.UseAgent:
		return AuthMethodAgent
	}
	return AuthMethodPassword
}

// passwordChallenge answers keyboard-interactive prompts with the password,
// which servers configured with PasswordAuthentication=no still accept.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}
		return answers, nil
	}
}

func readKey(inline, path, what string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s file: %w", what, err)
		}
		return data, nil
	}
	return nil, nil
}

func parseSigner(keyData []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(keyData)
}

func buildPrivateKeyAuth(config Config) (ssh.AuthMethod, error) {
	keyData, err := readKey(config.PrivateKey, config.KeyPath, "SSH key")
	if err != nil {
		return nil, err
	}
	if keyData == nil {
		return nil, fmt.Errorf("no SSH private key provided (set private_key or key_path)")
	}

	signer, err := parseSigner(keyData, config.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

func buildCertificateAuth(config Config) (ssh.AuthMethod, error) {
	keyData, err := readKey(config.PrivateKey, config.KeyPath, "private key")
	if err != nil {
		return nil, err
	}
	if keyData == nil {
		return nil, fmt.Errorf("certificate auth requires private key")
	}

	signer, err := parseSigner(keyData, config.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	certData, err := readKey(config.Certificate, config.CertificatePath, "certificate")
	if err != nil {
		return nil, err
	}
	if certData == nil {
		return nil, fmt.Errorf("certificate auth requires certificate")
	}

	pubKey, _, _, _, err := ssh.ParseAuthorizedKey(certData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	cert, ok := pubKey.(*ssh.Certificate)
	if !ok {
		return nil, fmt.Errorf("provided file is not an SSH certificate")
	}

	certSigner, err := ssh.NewCertSigner(cert, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate signer: %w", err)
	}

	return ssh.PublicKeys(certSigner), nil
}

func buildAgentAuth() (ssh.AuthMethod, io.Closer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, fmt.Errorf("ssh-agent requested but SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to ssh-agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), conn, nil
}

// buildBastionAuth picks bastion credentials, falling back to the target's key.
func buildBastionAuth(config Config) ([]ssh.AuthMethod, error) {
	if config.BastionPassword != "" {
		return []ssh.AuthMethod{ssh.Password(config.BastionPassword)}, nil
	}

	var keyData []byte
	var err error
	switch {
	case config.BastionKey != "" || config.BastionKeyPath != "":
		keyData, err = readKey(config.BastionKey, config.BastionKeyPath, "bastion key")
	case config.PrivateKey != "" || config.KeyPath != "":
		keyData, err = readKey(config.PrivateKey, config.KeyPath, "key file for bastion")
	default:
		return nil, fmt.Errorf("no SSH key configured for bastion host")
	}
	if err != nil {
		return nil, err
	}

	signer, err := parseSigner(keyData, config.KeyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bastion SSH key: %w", err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func buildHostKeyCallback(config Config, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	if config.InsecureIgnoreHostKey {
		logger.Warn("SSH host key verification disabled, this is insecure",
			zap.String("host", config.Host), zap.Int("port", config.Port))
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if config.KnownHostsFile != "" {
		expandedPath := ExpandPath(config.KnownHostsFile)
		callback, err := knownhosts.New(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", expandedPath, err)
		}
		return callback, nil
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		defaultKnownHosts := filepath.Join(homeDir, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			callback, err := knownhosts.New(defaultKnownHosts)
			if err == nil {
				return callback, nil
			}
			logger.Warn("could not parse known_hosts file",
				zap.String("path", defaultKnownHosts), zap.Error(err))
		}
	}

	logger.Warn("no known_hosts file found, host key verification disabled",
		zap.String("host", config.Host), zap.Int("port", config.Port))
	return func(string, net.Addr, ssh.PublicKey) error { return nil }, nil
}

// ExpandPath expands a leading ~/ to the home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
