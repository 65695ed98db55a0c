// Package blob stores uploaded media on the local filesystem and hands out
// retrievable URLs under the /media/ prefix.
package blob

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chitchat-labs/backend/internal/store"
)

const URLPrefix = "/media/"

var ErrNotFound = errors.New("media not found")

type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the directory served under the /media/ prefix.
func (s *FSStore) Root() string {
	return s.root
}

// Save writes the file under ownerID/resourceID/fileName and returns its
// media descriptor.
func (s *FSStore) Save(ownerID int64, resourceID, fileName string, r io.Reader) (*store.Media, error) {
	fileName = filepath.Base(fileName) // strip any client-supplied path
	rel := path.Join(strconv.FormatInt(ownerID, 10), resourceID, fileName)
	full := filepath.Join(s.root, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media subdir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return nil, fmt.Errorf("failed to create media file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		return nil, fmt.Errorf("failed to write media file: %w", err)
	}

	return &store.Media{
		URL:  URLPrefix + rel,
		Type: contentType(fileName),
		Size: size,
	}, nil
}

// Describe resolves a /media/ URL back to its descriptor, or ErrNotFound if
// no such file exists.
func (s *FSStore) Describe(uri string) (*store.Media, error) {
	rel, ok := strings.CutPrefix(uri, URLPrefix)
	if !ok || rel == "" {
		return nil, fmt.Errorf("%w: %q is not a media URL", ErrNotFound, uri)
	}

	clean := path.Clean("/" + rel)[1:] // collapse any ".." segments
	full := filepath.Join(s.root, filepath.FromSlash(clean))

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}

	return &store.Media{
		URL:  URLPrefix + clean,
		Type: contentType(clean),
		Size: info.Size(),
	}, nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
