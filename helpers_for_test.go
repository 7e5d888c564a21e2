package easysftp

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gossh "golang.org/x/crypto/ssh"
)

// generateTestRSAKey creates a test RSA private key and returns both PEM-encoded
// key content and a path to a temp file containing the key.
func generateTestRSAKey(t *testing.T) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "generate RSA key")

	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}))

	keyPath := filepath.Join(t.TempDir(), "test_key")
	require.NoError(t, os.WriteFile(keyPath, []byte(privateKeyPEM), 0600), "write key file")

	return privateKeyPEM, keyPath
}

// createLocalFile writes content to name inside a fresh temp dir.
func createLocalFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, content, 0644), "create temp file")
	return p
}

// assertFileContents verifies that a local file has the expected content.
func assertFileContents(t *testing.T, p string, expected []byte) {
	t.Helper()

	content, err := os.ReadFile(p)
	if assert.NoError(t, err, "read file %s", p) {
		assert.Equal(t, string(expected), string(content), "content of %s", p)
	}
}

// assertFileNotExists verifies that a local file does not exist.
func assertFileNotExists(t *testing.T, p string) {
	t.Helper()

	assert.NoFileExists(t, p)
}

// newObservedLogger returns a logger whose records can be inspected.
func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// newInMemoryRemote starts an in-process SFTP server backed by memory and
// returns a real sftp client connected to it.
func newInMemoryRemote(t *testing.T) *sftp.Client {
	t.Helper()

	clientConn, serverConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err, "start sftp client")

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client
}

// newInMemorySession returns a session over a fresh in-memory server, plus
// the raw client for seeding and inspecting the remote side.
func newInMemorySession(t *testing.T, opts ...Option) (*Session, *sftp.Client) {
	t.Helper()

	client := newInMemoryRemote(t)
	return NewSession(NewSFTPRemote(client), "memory", "tester", opts...), client
}

// seedRemote creates files (and their parent directories) on the server.
// Keys ending in "/" create empty directories.
func seedRemote(t *testing.T, client *sftp.Client, files map[string]string) {
	t.Helper()

	for p, content := range files {
		if strings.HasSuffix(p, "/") {
			require.NoError(t, client.MkdirAll(strings.TrimSuffix(p, "/")), "create remote dir %s", p)
			continue
		}
		if dir := path.Dir(p); dir != "/" && dir != "." {
			require.NoError(t, client.MkdirAll(dir), "create remote dir %s", dir)
		}
		f, err := client.Create(p)
		require.NoError(t, err, "create remote file %s", p)
		_, err = f.Write([]byte(content))
		require.NoError(t, err, "write remote file %s", p)
		require.NoError(t, f.Close(), "close remote file %s", p)
	}
}

// readRemote returns the content of a remote file.
func readRemote(t *testing.T, client *sftp.Client, p string) string {
	t.Helper()

	f, err := client.Open(p)
	require.NoError(t, err, "open remote file %s", p)
	defer f.Close()

	var b strings.Builder
	_, err = f.WriteTo(&b)
	require.NoError(t, err, "read remote file %s", p)
	return b.String()
}

// remoteExists reports whether p exists on the server.
func remoteExists(t *testing.T, client *sftp.Client, p string) bool {
	t.Helper()

	_, err := client.Stat(p)
	if err == nil {
		return true
	}
	require.True(t, os.IsNotExist(err), "stat %s: %v", p, err)
	return false
}

// testSSHServer is an in-process SSH server that accepts one user/password
// pair and serves the sftp subsystem from memory.
type testSSHServer struct {
	host     string
	port     int
	user     string
	password string
}

func (s *testSSHServer) config() Config {
	return Config{
		Host:                  s.host,
		Port:                  s.port,
		User:                  s.user,
		Password:              s.password,
		InsecureIgnoreHostKey: true,
	}
}

func startTestSSHServer(t *testing.T, user, password string) *testSSHServer {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err, "generate host key")
	signer, err := gossh.NewSignerFromKey(hostKey)
	require.NoError(t, err, "create host key signer")

	serverConfig := &gossh.ServerConfig{
		PasswordCallback: func(c gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	serverConfig.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveTestSSHConn(conn, serverConfig)
		}
	}()

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return &testSSHServer{host: host, port: port, user: user, password: password}
}

func serveTestSSHConn(netConn net.Conn, config *gossh.ServerConfig) {
	defer netConn.Close()

	_, chans, reqs, err := gossh.NewServerConn(netConn, config)
	if err != nil {
		return
	}
	go gossh.DiscardRequests(reqs)

	// One filesystem per connection.
	handlers := sftp.InMemHandler()

	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "direct-tcpip":
			go forwardTestChannel(newChannel)
			continue
		case "session":
		default:
			_ = newChannel.Reject(gossh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
				if ok {
					go func() {
						server := sftp.NewRequestServer(channel, handlers)
						_ = server.Serve()
						server.Close()
					}()
				}
			}
		}()
	}
}

// forwardTestChannel serves a direct-tcpip request, letting the test server
// act as a bastion.
func forwardTestChannel(newChannel gossh.NewChannel) {
	var req struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if err := gossh.Unmarshal(newChannel.ExtraData(), &req); err != nil {
		_ = newChannel.Reject(gossh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}

	target, err := net.Dial("tcp", net.JoinHostPort(req.Host, strconv.Itoa(int(req.Port))))
	if err != nil {
		_ = newChannel.Reject(gossh.ConnectionFailed, err.Error())
		return
	}

	channel, requests, err := newChannel.Accept()
	if err != nil {
		target.Close()
		return
	}
	go gossh.DiscardRequests(requests)

	go func() {
		_, _ = io.Copy(target, channel)
		target.Close()
	}()
	_, _ = io.Copy(channel, target)
	channel.Close()
}

// unusedAddress returns a local port nothing listens on.
func unusedAddress(t *testing.T) (string, int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	listener.Close()
	port, _ := strconv.Atoi(portStr)
	return host, port
}
