// Package library owns the on-disk output of tethered capture: downloaded
// images, their filenames, and photo-roll thumbnails.
package library

import (
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// Thumbnail dimensions for the photo roll (3:2, matching the EOS sensor).
const (
	thumbWidth  = 100
	thumbHeight = 74
	thumbDir    = ".thumbs"
)

// Image describes one captured file for the photo-roll listing.
type Image struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
	Thumbnail  bool      `json:"thumbnail"`
}

// Library is the application-owned store for captured images. Save is
// called from the camera worker; everything else from API handlers, so all
// state is guarded.
type Library struct {
	dir    string
	logger *slog.Logger

	mu       sync.RWMutex
	prefix   string
	rotation int // degrees counterclockwise: 0, 90, 180, 270

	now func() time.Time
}

// New creates the library rooted at dir, creating the directory tree if
// needed. prefix is the user-configurable filename prefix.
func New(dir, prefix string, logger *slog.Logger) (*Library, error) {
	if err := os.MkdirAll(filepath.Join(dir, thumbDir), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if prefix = sanitizePrefix(prefix); prefix == "" {
		prefix = "scan"
	}
	return &Library{
		dir:    dir,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Dir returns the output directory.
func (l *Library) Dir() string { return l.dir }

// Prefix returns the current filename prefix.
func (l *Library) Prefix() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.prefix
}

// SetPrefix updates the filename prefix used for subsequent saves. Empty or
// unusable prefixes fall back to "scan".
func (l *Library) SetPrefix(prefix string) {
	prefix = sanitizePrefix(prefix)
	if prefix == "" {
		prefix = "scan"
	}
	l.mu.Lock()
	l.prefix = prefix
	l.mu.Unlock()
}

// Rotation returns the rotation applied to new captures, in degrees
// counterclockwise.
func (l *Library) Rotation() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rotation
}

// SetRotation updates the rotation applied to subsequent saves. Only
// quarter turns (0, 90, 180, 270) are accepted; anything else is ignored.
func (l *Library) SetRotation(degrees int) {
	switch degrees {
	case 0, 90, 180, 270:
		l.mu.Lock()
		l.rotation = degrees
		l.mu.Unlock()
	}
}

// sanitizePrefix strips path separators and whitespace so the prefix can
// never escape the output directory.
func sanitizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	prefix = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return -1
		}
		return r
	}, prefix)
	return strings.Trim(prefix, ".")
}

// Save materializes an on-camera file under the output directory. The name
// is <prefix>_<timestamp><ext> with a counter suffix on collision. fetch
// writes the raw bytes into a dot-prefixed temp file; rotation is applied
// there and the file only appears under its final name once complete, so
// listings never see partial downloads.
func (l *Library) Save(folder, name string, fetch func(w io.Writer) error) (string, error) {
	dest := l.nextPath(filepath.Ext(name))
	tmp := filepath.Join(l.dir, "."+filepath.Base(dest))

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", tmp, err)
	}
	if err := fetch(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}

	// Rotation is best-effort: formats imaging cannot decode (RAW) are
	// kept as downloaded.
	if rot := l.Rotation(); rot != 0 {
		if err := rotateFile(tmp, rot); err != nil {
			l.logger.Warn("Rotation failed, keeping original orientation", "path", dest, "error", err)
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("finalize %s: %w", dest, err)
	}

	l.logger.Info("Image saved", "path", dest, "camera_folder", folder, "camera_name", name)

	// Thumbnails are best-effort: the capture itself is already safe.
	if err := l.makeThumbnail(dest); err != nil {
		l.logger.Warn("Thumbnail generation failed", "path", dest, "error", err)
	}

	return dest, nil
}

// nextPath builds a collision-free destination path.
func (l *Library) nextPath(ext string) string {
	l.mu.RLock()
	prefix := l.prefix
	l.mu.RUnlock()

	ts := l.now().Format("2006-01-02_15-04-05")
	base := fmt.Sprintf("%s_%s", prefix, ts)

	dest := filepath.Join(l.dir, base+ext)
	for n := 2; ; n++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			return dest
		}
		dest = filepath.Join(l.dir, fmt.Sprintf("%s_%d%s", base, n, ext))
	}
}

// rotateFile rewrites path rotated by the given quarter turn,
// counterclockwise, swapping the canvas dimensions as needed.
func rotateFile(path string, degrees int) error {
	src, err := imaging.Open(path)
	if err != nil {
		return err
	}
	var dst image.Image
	switch degrees {
	case 90:
		dst = imaging.Rotate90(src)
	case 180:
		dst = imaging.Rotate180(src)
	case 270:
		dst = imaging.Rotate270(src)
	default:
		return nil
	}
	return imaging.Save(dst, path, imaging.JPEGQuality(95))
}

// makeThumbnail renders the photo-roll thumbnail: center-fill to 3:2 at
// 100x74, same crop the original UI used.
func (l *Library) makeThumbnail(path string) error {
	src, err := imaging.Open(path)
	if err != nil {
		return err
	}
	thumb := imaging.Fill(src, thumbWidth, thumbHeight, imaging.Center, imaging.Lanczos)
	return imaging.Save(thumb, l.thumbPath(filepath.Base(path)))
}

func (l *Library) thumbPath(name string) string {
	return filepath.Join(l.dir, thumbDir, name+".jpg")
}

// List returns all captured images, newest first.
func (l *Library) List() ([]Image, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read output directory: %w", err)
	}

	images := make([]Image, 0, len(entries))
	for _, e := range entries {
		// Dot entries are the thumbnail dir and in-flight downloads.
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		_, thumbErr := os.Stat(l.thumbPath(e.Name()))
		images = append(images, Image{
			Name:       e.Name(),
			Size:       info.Size(),
			CapturedAt: info.ModTime(),
			Thumbnail:  thumbErr == nil,
		})
	}

	sort.Slice(images, func(i, j int) bool {
		return images[i].CapturedAt.After(images[j].CapturedAt)
	})
	return images, nil
}

// resolve maps a client-supplied image name to a path inside the output
// directory, rejecting traversal attempts.
func (l *Library) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	return filepath.Join(l.dir, name), nil
}

// OpenImage opens a captured image for reading.
func (l *Library) OpenImage(name string) (*os.File, error) {
	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// OpenThumbnail opens the thumbnail for a captured image.
func (l *Library) OpenThumbnail(name string) (*os.File, error) {
	if _, err := l.resolve(name); err != nil {
		return nil, err
	}
	return os.Open(l.thumbPath(name))
}
