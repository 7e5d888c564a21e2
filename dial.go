package easysftp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Dial connects and authenticates to the server described by config and
// returns a ready Session. On failure it returns a nil Session and an
// *Error whose Kind tells authentication, timeout and network problems apart.
func Dial(ctx context.Context, config Config, opts ...Option) (*Session, error) {
	config = config.WithDefaults()

	s := &Session{host: config.Host, user: config.User}
	s.apply(opts)

	conn, err := connect(ctx, config, s.logger)
	if err != nil {
		e := newError("connect", config.Address(), err)
		s.logger.Error("connection to host encountered an error", zap.Error(e))
		return nil, e
	}

	s.sshClient = conn.ssh
	s.bastionClient = conn.bastion
	s.attach(NewSFTPRemote(conn.sftp))

	s.logger.Info("connection to host established", zap.String("cwd", s.cwd))
	return s, nil
}

type connection struct {
	ssh     *ssh.Client
	bastion *ssh.Client
	sftp    *sftp.Client
}

func (c *connection) close() {
	if c.sftp != nil {
		c.sftp.Close()
	}
	if c.ssh != nil {
		c.ssh.Close()
	}
	if c.bastion != nil {
		c.bastion.Close()
	}
}

func connect(ctx context.Context, config Config, logger *zap.Logger) (*connection, error) {
	if err := config.Validate(); err != nil {
		return nil, &Error{Kind: KindInvalidConfig, Err: err}
	}

	authMethods, agentConn, err := buildAuthMethods(config)
	if err != nil {
		return nil, &Error{Kind: KindInvalidConfig, Err: err}
	}
	if agentConn != nil {
		defer agentConn.Close()
	}

	hostKeyCallback, err := buildHostKeyCallback(config, logger)
	if err != nil {
		return nil, &Error{Kind: KindInvalidConfig, Err: fmt.Errorf("failed to configure host key verification: %w", err)}
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}

	conn := &connection{}
	targetAddr := config.Address()

	if config.BastionHost != "" {
		conn.bastion, err = connectToBastion(ctx, config, hostKeyCallback)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to bastion host: %w", err)
		}

		tunnel, err := conn.bastion.Dial("tcp", targetAddr)
		if err != nil {
			conn.close()
			return nil, fmt.Errorf("failed to dial target through bastion: %w", err)
		}

		conn.ssh, err = handshake(ctx, tunnel, targetAddr, sshConfig)
		if err != nil {
			conn.close()
			return nil, fmt.Errorf("failed to create SSH connection through bastion: %w", err)
		}
	} else {
		conn.ssh, err = dialSSH(ctx, targetAddr, sshConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", targetAddr, err)
		}
	}

	conn.sftp, err = sftp.NewClient(conn.ssh)
	if err != nil {
		conn.close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return conn, nil
}

func connectToBastion(ctx context.Context, config Config, hostKeyCallback ssh.HostKeyCallback) (*ssh.Client, error) {
	authMethods, err := buildBastionAuth(config)
	if err != nil {
		return nil, &Error{Kind: KindInvalidConfig, Err: err}
	}

	bastionUser := config.BastionUser
	if bastionUser == "" {
		bastionUser = config.User
	}

	bastionConfig := &ssh.ClientConfig{
		User:            bastionUser,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}

	return dialSSH(ctx, config.bastionAddress(), bastionConfig)
}

// dialSSH is ssh.Dial with context cancellation.
func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return handshake(ctx, netConn, addr, config)
}

// handshake runs the SSH handshake over netConn, closing it if ctx is
// cancelled or config.Timeout passes first.
func handshake(ctx context.Context, netConn net.Conn, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	if config.Timeout > 0 {
		_ = netConn.SetDeadline(time.Now().Add(config.Timeout))
	}

	stop := context.AfterFunc(ctx, func() { netConn.Close() })

	c, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if !stop() {
		if err == nil {
			c.Close()
		}
		netConn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		netConn.Close()
		return nil, err
	}

	_ = netConn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}
