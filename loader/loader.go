// Package loader resolves application names to executable images stored
// under a base URL on any afs-supported storage (file, mem, embed, cloud).
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
)

// Ext is the file extension of stored images.
const Ext = ".ktx"

// ErrNotFound is returned when no image is stored under the requested name.
var ErrNotFound = errors.New("loader: application not found")

// Service loads executable images by application name.
type Service struct {
	fs      afs.Service
	baseURL string
	options []storage.Option
}

// Load returns the image of the named application.
func (s *Service) Load(ctx context.Context, name string) ([]byte, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	URL := s.imageURL(name)
	exists, err := s.fs.Exists(ctx, URL, s.options...)
	if err != nil {
		return nil, fmt.Errorf("failed to check image %s: %w", URL, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := s.fs.DownloadWithURL(ctx, URL, s.options...)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", URL, err)
	}
	return data, nil
}

// Put stores image under name.
func (s *Service) Put(ctx context.Context, name string, image []byte) error {
	URL := s.imageURL(name)
	if err := s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(image), s.options...); err != nil {
		return fmt.Errorf("failed to store image %s: %w", URL, err)
	}
	return nil
}

// List returns the sorted names of all stored applications.
func (s *Service) List(ctx context.Context) ([]string, error) {
	objects, err := s.fs.List(ctx, s.baseURL, s.options...)
	if err != nil {
		return nil, fmt.Errorf("failed to list images at %s: %w", s.baseURL, err)
	}
	var names []string
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		name := path.Base(url.Path(object.URL()))
		if !strings.HasSuffix(name, Ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, Ext))
	}
	sort.Strings(names)
	return names, nil
}

// BaseURL returns the location images are resolved against.
func (s *Service) BaseURL() string { return s.baseURL }

func (s *Service) imageURL(name string) string {
	return url.Join(s.baseURL, name+Ext)
}

// New creates a loader over baseURL. options are passed to every storage
// call (for example an embed.FS for embed:// URLs).
func New(fs afs.Service, baseURL string, options ...storage.Option) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs, baseURL: strings.TrimRight(baseURL, "/"), options: options}
}

// Loader resolves application names to images.
type Loader interface {
	Load(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

var _ Loader = (*Service)(nil)
