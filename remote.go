package easysftp

import (
	"errors"
	"io"
	"os"

	"github.com/pkg/sftp"
)

// RemoteFS is the slice of an SFTP client that a Session uses.
// *sftp.Client satisfies it through sftpRemote; tests substitute their own.
type RemoteFS interface {
	Getwd() (string, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	Open(path string) (RemoteFile, error)
	Create(path string) (RemoteFile, error)
	Remove(path string) error
	Rename(oldpath, newpath string) error
	// PosixRename renames oldpath to newpath, replacing newpath if it exists.
	PosixRename(oldpath, newpath string) error
	Close() error
}

// RemoteFile abstracts an open remote file.
type RemoteFile interface {
	io.Reader
	io.Writer
	io.Closer
}

// sftpRemote adapts *sftp.Client to RemoteFS.
type sftpRemote struct {
	client *sftp.Client
}

var _ RemoteFS = (*sftpRemote)(nil)

// NewSFTPRemote wraps an established sftp client.
func NewSFTPRemote(client *sftp.Client) RemoteFS { return &sftpRemote{client: client} }

func (r *sftpRemote) Getwd() (string, error)                  { return r.client.Getwd() }
func (r *sftpRemote) ReadDir(p string) ([]os.FileInfo, error) { return r.client.ReadDir(p) }
func (r *sftpRemote) Stat(p string) (os.FileInfo, error)      { return r.client.Stat(p) }
func (r *sftpRemote) Remove(p string) error                   { return r.client.Remove(p) }
func (r *sftpRemote) Rename(oldpath, newpath string) error    { return r.client.Rename(oldpath, newpath) }
func (r *sftpRemote) Close() error                            { return r.client.Close() }

const posixRenameExtension = "posix-rename@openssh.com"

func (r *sftpRemote) PosixRename(oldpath, newpath string) error {
	if _, ok := r.client.HasExtension(posixRenameExtension); ok {
		return r.client.PosixRename(oldpath, newpath)
	}
	// Plain SFTP rename refuses to overwrite.
	if err := r.client.Remove(newpath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return r.client.Rename(oldpath, newpath)
}

func (r *sftpRemote) Open(p string) (RemoteFile, error) {
	f, err := r.client.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *sftpRemote) Create(p string) (RemoteFile, error) {
	f, err := r.client.Create(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}
