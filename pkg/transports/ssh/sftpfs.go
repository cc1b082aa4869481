package ssh

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/pkg/sftp"
)

// FileSystem implements engine.FileSystem on the remote host over SFTP.
type FileSystem struct {
	client *sftp.Client
}

// NewFileSystem opens an SFTP subsystem on c.
func NewFileSystem(c *Client) (*FileSystem, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{Op: "sftp", Err: err}
	}
	return &FileSystem{client: sc}, nil
}

// Close closes the SFTP subsystem. The SSH connection stays open.
func (f *FileSystem) Close() error {
	return f.client.Close()
}

// RemoveAll removes name and any children. A missing path is not an error.
func (f *FileSystem) RemoveAll(name string) error {
	info, err := f.client.Lstat(name)
	if err != nil {
		if isNotExist(err) {
			return nil
		}
		return &fs.PathError{Op: "removeall", Path: name, Err: err}
	}
	if !info.IsDir() {
		return f.client.Remove(name)
	}

	entries, err := f.client.ReadDir(name)
	if err != nil {
		return &fs.PathError{Op: "removeall", Path: name, Err: err}
	}
	for _, e := range entries {
		if err := f.RemoveAll(path.Join(name, e.Name())); err != nil {
			return err
		}
	}
	return f.client.RemoveDirectory(name)
}

// Stat returns file info for name, following symlinks.
func (f *FileSystem) Stat(name string) (fs.FileInfo, error) {
	info, err := f.client.Stat(name)
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return info, nil
}

// ReadFile returns the contents of name.
func (f *FileSystem) ReadFile(name string) ([]byte, error) {
	file, err := f.client.Open(name)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// ReadDir lists name sorted by file name.
func (f *FileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	infos, err := f.client.ReadDir(name)
	if err != nil {
		return nil, pathError("readdir", name, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}

// sshFxNoSuchFile is the SFTP status code for a missing path.
const sshFxNoSuchFile = 2

func isNotExist(err error) bool {
	if errors.Is(err, os.ErrNotExist) {
		return true
	}
	var status *sftp.StatusError
	return errors.As(err, &status) && status.Code == sshFxNoSuchFile
}

// pathError maps SFTP "no such file" statuses onto fs.ErrNotExist.
func pathError(op, name string, err error) error {
	if isNotExist(err) {
		err = fs.ErrNotExist
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}
