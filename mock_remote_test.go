package easysftp

import (
	"errors"
	"io"
	"os"
	"path"
	"time"
)

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name  string
	size  int64
	isDir bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) ModTime() time.Time { return time.Time{} }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }
func (m *mockFileInfo) Mode() os.FileMode {
	if m.isDir {
		return os.ModeDir | 0755
	}
	return 0644
}

// mockRemote implements RemoteFS with a flat map of paths. Entries are
// listed in insertion order, not sorted, so tests can tell whether the
// session re-sorts what the server reports.
type mockRemote struct {
	wd     string
	order  []string
	files  map[string][]byte
	dirs   map[string]bool
	errors map[string]error

	// readErr is returned by an opened file after its content is read.
	readErr error
	// writeErr is returned by a created file on the first write.
	writeErr error

	opened  []string
	created []string
	removed []string
	closed  bool
}

var _ RemoteFS = (*mockRemote)(nil)

func newMockRemote() *mockRemote {
	return &mockRemote{
		wd:     "/home/tester",
		files:  make(map[string][]byte),
		dirs:   map[string]bool{"/": true, "/home": true, "/home/tester": true},
		errors: make(map[string]error),
	}
}

func (m *mockRemote) SetFile(p string, content []byte) {
	m.mkdirAll(path.Dir(p))
	if _, ok := m.files[p]; !ok {
		m.order = append(m.order, p)
	}
	m.files[p] = content
}

func (m *mockRemote) SetDir(p string) {
	m.mkdirAll(p)
}

func (m *mockRemote) SetError(method string, err error) {
	m.errors[method] = err
}

func (m *mockRemote) mkdirAll(p string) {
	for p != "/" && p != "." && !m.dirs[p] {
		m.dirs[p] = true
		m.order = append(m.order, p)
		p = path.Dir(p)
	}
}

func (m *mockRemote) Getwd() (string, error) {
	if err := m.errors["Getwd"]; err != nil {
		return "", err
	}
	return m.wd, nil
}

func (m *mockRemote) ReadDir(p string) ([]os.FileInfo, error) {
	if err := m.errors["ReadDir"]; err != nil {
		return nil, err
	}
	if !m.dirs[p] {
		return nil, os.ErrNotExist
	}
	var infos []os.FileInfo
	for _, name := range m.order {
		if path.Dir(name) != p || name == p {
			continue
		}
		info, _ := m.Stat(name)
		infos = append(infos, info)
	}
	return infos, nil
}

func (m *mockRemote) Stat(p string) (os.FileInfo, error) {
	if err := m.errors["Stat"]; err != nil {
		return nil, err
	}
	if m.dirs[p] {
		return &mockFileInfo{name: path.Base(p), isDir: true}, nil
	}
	content, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &mockFileInfo{name: path.Base(p), size: int64(len(content))}, nil
}

func (m *mockRemote) Open(p string) (RemoteFile, error) {
	m.opened = append(m.opened, p)
	if err := m.errors["Open"]; err != nil {
		return nil, err
	}
	content, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &mockRemoteFile{content: content, readErr: m.readErr}, nil
}

func (m *mockRemote) Create(p string) (RemoteFile, error) {
	m.created = append(m.created, p)
	if err := m.errors["Create"]; err != nil {
		return nil, err
	}
	if !m.dirs[path.Dir(p)] {
		return nil, os.ErrNotExist
	}
	m.SetFile(p, nil)
	return &mockRemoteFile{remote: m, path: p, writeErr: m.writeErr}, nil
}

func (m *mockRemote) Remove(p string) error {
	m.removed = append(m.removed, p)
	if err := m.errors["Remove"]; err != nil {
		return err
	}
	if _, ok := m.files[p]; !ok {
		return os.ErrNotExist
	}
	m.deleteFile(p)
	return nil
}

func (m *mockRemote) deleteFile(p string) {
	delete(m.files, p)
	for i, name := range m.order {
		if name == p {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *mockRemote) Rename(oldpath, newpath string) error {
	if err := m.errors["Rename"]; err != nil {
		return err
	}
	if _, exists := m.files[newpath]; exists {
		return os.ErrExist
	}
	return m.move(oldpath, newpath)
}

func (m *mockRemote) PosixRename(oldpath, newpath string) error {
	if err := m.errors["PosixRename"]; err != nil {
		return err
	}
	return m.move(oldpath, newpath)
}

func (m *mockRemote) move(oldpath, newpath string) error {
	content, ok := m.files[oldpath]
	if !ok {
		return os.ErrNotExist
	}
	if !m.dirs[path.Dir(newpath)] {
		return os.ErrNotExist
	}
	m.deleteFile(oldpath)
	m.SetFile(newpath, content)
	return nil
}

func (m *mockRemote) Close() error {
	if err := m.errors["Close"]; err != nil {
		return err
	}
	m.closed = true
	return nil
}

// mockRemoteFile implements RemoteFile for testing.
type mockRemoteFile struct {
	content    []byte
	readOffset int
	readErr    error

	remote   *mockRemote
	path     string
	written  []byte
	writeErr error
}

func (f *mockRemoteFile) Read(p []byte) (int, error) {
	if f.readOffset >= len(f.content) {
		if f.readErr != nil {
			return 0, f.readErr
		}
		return 0, io.EOF
	}
	n := copy(p, f.content[f.readOffset:])
	f.readOffset += n
	return n, nil
}

func (f *mockRemoteFile) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, p...)
	if f.remote != nil {
		f.remote.files[f.path] = f.written
	}
	return len(p), nil
}

func (f *mockRemoteFile) Close() error {
	return nil
}

var errMockTransfer = errors.New("connection lost")
