package easysftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Session is one authenticated SFTP connection. It keeps its own remote
// working directory, which relative remote paths resolve against.
//
// A Session is not safe for concurrent use.
type Session struct {
	host string
	user string

	remote        RemoteFS
	sshClient     *ssh.Client
	bastionClient *ssh.Client

	cwd    string
	logger *zap.Logger
}

// partialSuffix marks files that are still being transferred.
const partialSuffix = ".part"

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger the session reports to. The default discards
// everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession builds a Session over an already established transport.
// host and user only label log records and errors.
func NewSession(remote RemoteFS, host, user string, opts ...Option) *Session {
	s := &Session{host: host, user: user}
	s.apply(opts)
	s.attach(remote)
	return s
}

func (s *Session) apply(opts []Option) {
	s.logger = zap.NewNop()
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("host", s.host), zap.String("user", s.user))
}

// attach installs remote and reads the server's starting directory.
func (s *Session) attach(remote RemoteFS) {
	s.remote = remote
	if remote == nil {
		return
	}
	cwd, err := remote.Getwd()
	if err != nil {
		// Relative paths are then left for the server to resolve.
		s.logger.Warn("could not determine remote working directory", zap.Error(err))
		cwd = ""
	}
	s.cwd = cwd
}

// Host returns the server the session is connected to.
func (s *Session) Host() string { return s.host }

// User returns the login name of the session.
func (s *Session) User() string { return s.user }

// IsConnected reports whether the session holds a usable connection.
func (s *Session) IsConnected() bool {
	return s != nil && s.remote != nil
}

// Getwd returns the session's current remote working directory.
func (s *Session) Getwd() string {
	if s == nil {
		return ""
	}
	return s.cwd
}

// Close closes the connection. Closing a session that has no connection,
// including one already closed, is a no-op.
func (s *Session) Close() error {
	if s == nil || (s.remote == nil && s.sshClient == nil && s.bastionClient == nil) {
		s.log().Warn("close called on a session without a connection")
		return nil
	}

	var errs []error
	if s.remote != nil {
		if err := s.remote.Close(); err != nil {
			errs = append(errs, err)
		}
		s.remote = nil
	}
	if s.sshClient != nil {
		if err := s.sshClient.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		s.sshClient = nil
	}
	if s.bastionClient != nil {
		if err := s.bastionClient.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		s.bastionClient = nil
	}

	if err := errors.Join(errs...); err != nil {
		e := newError("close", "", err)
		s.log().Error("closing connection to host encountered an error", zap.Error(e))
		return e
	}

	s.log().Info("connection to host closed")
	return nil
}

// ListFiles returns the names of the entries in the parent directory of
// remotePath, or in the working directory when remotePath is empty.
// Names are returned in the order the server reports them.
func (s *Session) ListFiles(ctx context.Context, remotePath string) ([]string, error) {
	const op = "list"
	if err := s.ready(ctx); err != nil {
		return nil, s.fail(op, remotePath, err)
	}

	var names []string
	list := func() error {
		infos, err := s.remote.ReadDir(s.resolve("."))
		if err != nil {
			return err
		}
		names = make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Name())
		}
		return nil
	}

	var err error
	if remotePath == "" {
		err = list()
	} else {
		err = s.withDir(path.Dir(remotePath), list)
	}
	if err != nil {
		return nil, s.fail(op, remotePath, err)
	}

	s.logger.Info("listed remote directory",
		zap.String("remote_path", remotePath), zap.Int("entries", len(names)))
	return names, nil
}

// DownloadFile copies remoteFilePath into localDir under the same base name.
// An empty localDir means the process working directory.
func (s *Session) DownloadFile(ctx context.Context, remoteFilePath, localDir string) error {
	const op = "download"
	if err := s.ready(ctx); err != nil {
		return s.fail(op, remoteFilePath, err)
	}
	if remoteFilePath == "" {
		return s.fail(op, remoteFilePath, &Error{Kind: KindInvalidArgument, Err: errors.New("remote file path is empty")})
	}
	if localDir == "" {
		localDir = "."
	}

	name := path.Base(remoteFilePath)
	localPath := filepath.Join(localDir, name)

	err := s.withDir(path.Dir(remoteFilePath), func() error {
		return s.download(ctx, s.resolve(name), localPath)
	})
	if err != nil {
		return s.fail(op, remoteFilePath, err, zap.String("local_path", localPath))
	}

	s.logger.Info("downloaded file",
		zap.String("remote_path", remoteFilePath), zap.String("local_path", localPath))
	return nil
}

// download streams remotePath into a temporary file next to localPath and
// renames it into place, so a failed copy leaves any earlier localPath intact.
func (s *Session) download(ctx context.Context, remotePath, localPath string) error {
	src, err := s.remote.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer src.Close()

	mode := os.FileMode(0644)
	if info, err := os.Stat(localPath); err == nil {
		mode = info.Mode().Perm()
	}

	dst, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*"+partialSuffix)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	tmp := dst.Name()

	if _, err := io.Copy(dst, contextReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := dst.Chmod(mode); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to set local file mode: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write local file: %w", err)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace local file: %w", err)
	}
	return nil
}

// UploadFile copies localFilePath into the remote directory remotePath,
// keeping the local base name.
func (s *Session) UploadFile(ctx context.Context, localFilePath, remotePath string) error {
	const op = "upload"
	if err := s.ready(ctx); err != nil {
		return s.fail(op, localFilePath, err)
	}
	if localFilePath == "" {
		return s.fail(op, localFilePath, &Error{Kind: KindInvalidArgument, Err: errors.New("local file path is empty")})
	}

	src, err := os.Open(localFilePath)
	if err != nil {
		return s.fail(op, localFilePath, fmt.Errorf("failed to open local file: %w", err),
			zap.String("remote_path", remotePath))
	}
	defer src.Close()

	if info, err := src.Stat(); err == nil && info.IsDir() {
		return s.fail(op, localFilePath, &Error{Kind: KindInvalidArgument, Err: errors.New("local path is a directory")},
			zap.String("remote_path", remotePath))
	}

	name := filepath.Base(localFilePath)
	var target string
	err = s.withDir(remotePath, func() error {
		target = s.resolve(name)
		return s.upload(ctx, src, target)
	})
	if err != nil {
		return s.fail(op, localFilePath, err, zap.String("remote_path", remotePath))
	}

	s.logger.Info("uploaded file",
		zap.String("local_path", localFilePath), zap.String("remote_path", target))
	return nil
}

// upload writes src to a temporary name beside remotePath and renames it
// into place once the copy has finished.
func (s *Session) upload(ctx context.Context, src io.Reader, remotePath string) error {
	tmp := path.Join(path.Dir(remotePath), "."+path.Base(remotePath)+partialSuffix)
	dst, err := s.remote.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	if _, err := io.Copy(dst, contextReader{ctx: ctx, r: src}); err != nil {
		dst.Close()
		s.removePartial(tmp)
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := dst.Close(); err != nil {
		s.removePartial(tmp)
		return fmt.Errorf("failed to close remote file: %w", err)
	}
	if err := s.remote.PosixRename(tmp, remotePath); err != nil {
		s.removePartial(tmp)
		return fmt.Errorf("failed to replace remote file: %w", err)
	}
	return nil
}

func (s *Session) removePartial(remotePath string) {
	if err := s.remote.Remove(remotePath); err != nil {
		s.logger.Warn("could not remove partial remote file",
			zap.String("remote_path", remotePath), zap.Error(err))
	}
}

// MoveFile renames currFilePath to newFilePath on the server.
func (s *Session) MoveFile(ctx context.Context, currFilePath, newFilePath string) error {
	const op = "move"
	if err := s.ready(ctx); err != nil {
		return s.fail(op, currFilePath, err)
	}
	if currFilePath == "" || newFilePath == "" {
		return s.fail(op, currFilePath, &Error{Kind: KindInvalidArgument, Err: errors.New("source and destination are required")},
			zap.String("new_path", newFilePath))
	}

	if err := s.remote.Rename(s.resolve(currFilePath), s.resolve(newFilePath)); err != nil {
		return s.fail(op, currFilePath, err, zap.String("new_path", newFilePath))
	}

	s.logger.Info("moved file",
		zap.String("remote_path", currFilePath), zap.String("new_path", newFilePath))
	return nil
}

// withDir runs fn with the working directory set to dir and restores the
// previous directory on every exit path.
func (s *Session) withDir(dir string, fn func() error) error {
	target := s.resolve(dir)

	info, err := s.remote.Stat(target)
	if err != nil {
		return fmt.Errorf("failed to change directory to %s: %w", target, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("failed to change directory to %s: %w", target, errNotDirectory)
	}

	prev := s.cwd
	s.cwd = target
	defer func() { s.cwd = prev }()

	return fn()
}

// resolve makes p absolute against the working directory.
func (s *Session) resolve(p string) string {
	if p == "" {
		p = "."
	}
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

func (s *Session) ready(ctx context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return ctx.Err()
}

func (s *Session) fail(op, p string, err error, fields ...zap.Field) error {
	e := newError(op, p, err)
	fields = append(fields, zap.String("op", op), zap.String("path", p), zap.Stringer("kind", e.Kind), zap.Error(e))
	s.log().Error(op+" encountered an error", fields...)
	return e
}

func (s *Session) log() *zap.Logger {
	if s == nil || s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
