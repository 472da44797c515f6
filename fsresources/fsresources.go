// Package fsresources exposes the files under a directory root as resources
// on a ResourcesCapability. Files are discovered by walking the root; an
// optional fsnotify watcher keeps the registrations in sync as files come
// and go. Reads are lazy, so file content is always served fresh.
package fsresources

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/dispatchrpc/mcp-dispatch-go/capability"
	"github.com/dispatchrpc/mcp-dispatch-go/mcp"
)

// Option configures a Dir.
type Option func(*Dir)

// WithBaseURI sets the URI prefix used for file resources, e.g.
// "file://workspace". Defaults to "file://".
func WithBaseURI(base string) Option {
	return func(d *Dir) { d.baseURI = strings.TrimRight(base, "/") }
}

// WithLogger sets the logger used by the watcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dir) {
		if l != nil {
			d.log = l
		}
	}
}

// Dir mirrors a directory tree into a ResourcesCapability.
type Dir struct {
	root    string // absolute, symlink-resolved
	baseURI string
	log     *slog.Logger
	rc      *capability.ResourcesCapability

	mu         sync.Mutex
	registered map[string]string // rel path -> uri
}

// New resolves root and registers its current files on rc. The returned Dir
// can additionally be watched to track later changes.
func New(root string, rc *capability.ResourcesCapability, opts ...Option) (*Dir, error) {
	if rc == nil {
		return nil, fmt.Errorf("resources capability is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root %q: %w", abs, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", abs)
	}

	d := &Dir{
		root:       abs,
		baseURI:    "file://",
		log:        slog.Default(),
		rc:         rc,
		registered: make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := d.Sync(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// Sync walks the root and reconciles the capability's registrations with the
// files currently on disk.
func (d *Dir) Sync(ctx context.Context) error {
	seen := make(map[string]struct{})
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable nodes
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return nil
		}
		seen[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for rel := range seen {
		if _, ok := d.registered[rel]; ok {
			continue
		}
		res := d.newFileResource(rel)
		if err := d.rc.Register(res); err != nil {
			d.log.WarnContext(ctx, "fsresources.register.fail",
				slog.String("path", rel), slog.String("err", err.Error()))
			continue
		}
		d.registered[rel] = res.URI()
	}
	for rel, uri := range d.registered {
		if _, ok := seen[rel]; ok {
			continue
		}
		d.rc.Unregister(uri)
		delete(d.registered, rel)
	}
	return nil
}

// Watch tracks filesystem changes under the root until ctx is canceled,
// keeping the capability's registrations current. Newly created directories
// are watched as they appear.
func (d *Dir) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	err = filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if err != nil {
		return fmt.Errorf("watch root: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := d.Sync(ctx); err != nil {
					d.log.WarnContext(ctx, "fsresources.sync.fail", slog.String("err", err.Error()))
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.log.WarnContext(ctx, "fsresources.watch.err", slog.String("err", err.Error()))
		}
	}
}

// URIs returns the currently registered resource URIs, for tests and
// introspection.
func (d *Dir) URIs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.registered))
	for _, uri := range d.registered {
		out = append(out, uri)
	}
	return out
}

func (d *Dir) newFileResource(rel string) capability.Resource {
	return &fileResource{
		path: filepath.Join(d.root, filepath.FromSlash(rel)),
		uri:  d.uriFor(rel),
		name: rel,
		mime: mimeTypeFor(rel),
	}
}

func (d *Dir) uriFor(rel string) string {
	escaped := (&url.URL{Path: "/" + rel}).EscapedPath()
	return d.baseURI + escaped
}

// wellKnownTypes covers common text extensions missing from the platform
// mime table, so resource descriptors stay stable across hosts.
var wellKnownTypes = map[string]string{
	".md":   "text/markdown",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".toml": "application/toml",
}

func mimeTypeFor(rel string) string {
	ext := strings.ToLower(filepath.Ext(rel))
	if mt, ok := wellKnownTypes[ext]; ok {
		return mt
	}
	mt := mime.TypeByExtension(ext)
	if mt == "" {
		return "application/octet-stream"
	}
	// Strip parameters like "; charset=utf-8" for a stable descriptor.
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

// fileResource reads one file lazily. Text-shaped content is served as text;
// anything else is served as a base64 blob.
type fileResource struct {
	path string
	uri  string
	name string
	mime string
}

var _ capability.Resource = (*fileResource)(nil)
var _ capability.ResourceSizer = (*fileResource)(nil)

func (r *fileResource) URI() string         { return r.uri }
func (r *fileResource) Name() string        { return r.name }
func (r *fileResource) Description() string { return "" }
func (r *fileResource) MimeType() string    { return r.mime }

func (r *fileResource) Size() int64 {
	fi, err := os.Stat(r.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (r *fileResource) Read(ctx context.Context, _ map[string]string) ([]mcp.ResourceContents, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.name, err)
	}
	if isTextMime(r.mime) && utf8.Valid(data) {
		return []mcp.ResourceContents{mcp.TextResourceContents(r.uri, r.mime, string(data))}, nil
	}
	return []mcp.ResourceContents{mcp.BlobResourceContents(r.uri, r.mime, base64.StdEncoding.EncodeToString(data))}, nil
}

func isTextMime(mt string) bool {
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	switch mt {
	case "application/json", "application/xml", "application/javascript",
		"application/yaml", "application/toml":
		return true
	}
	return strings.HasSuffix(mt, "+json") || strings.HasSuffix(mt, "+xml")
}
