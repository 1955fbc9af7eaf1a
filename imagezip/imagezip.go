// Package imagezip reads the image archive produced by Gaoding's batch
// export and returns its images in page order.
//
// Entries are filtered by extension, kept byte for byte, and ordered by the
// first run of digits in their name ("image_2.png" before "image_10.png").
package imagezip

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"math"
	"path"
	"slices"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/hazyhaar/coverbridge/horosafe"
)

var (
	// ErrMalformedArchive is returned when the input is not a readable ZIP.
	ErrMalformedArchive = errors.New("imagezip: malformed archive")

	// ErrTooLarge is returned when the archive or one entry exceeds its limit.
	ErrTooLarge = errors.New("imagezip: archive too large")
)

// Extensions accepted as images, lower-case and without the dot.
var Extensions = []string{"png", "jpg", "jpeg", "gif", "webp"}

// Image is one image entry.
type Image struct {
	Name string `json:"name"`
	Data []byte `json:"-"`

	// Informational only; zero when the header could not be decoded.
	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Config bounds what a Parser accepts.
type Config struct {
	// MaxArchiveBytes caps the compressed archive. Default: 200 MiB.
	MaxArchiveBytes int64 `yaml:"max_archive_bytes"`

	// MaxEntryBytes caps one decompressed image. Default: 50 MiB.
	MaxEntryBytes int64 `yaml:"max_entry_bytes"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxArchiveBytes <= 0 {
		c.MaxArchiveBytes = 200 << 20
	}
	if c.MaxEntryBytes <= 0 {
		c.MaxEntryBytes = 50 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Parser extracts images from archives.
type Parser struct {
	cfg Config
}

// NewParser creates a Parser.
func NewParser(cfg Config) *Parser {
	cfg.defaults()
	return &Parser{cfg: cfg}
}

// Parse extracts images with the default limits.
func Parse(data []byte) ([]Image, error) {
	return NewParser(Config{}).Parse(data)
}

// Parse returns the image entries of data sorted by SortKey. Ties keep
// archive order. An archive without images yields an empty slice.
func (p *Parser) Parse(data []byte) ([]Image, error) {
	if int64(len(data)) > p.cfg.MaxArchiveBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), p.cfg.MaxArchiveBytes)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}

	images := []Image{}
	skipped := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		if !IsImageName(f.Name) {
			skipped++
			continue
		}
		if f.UncompressedSize64 > uint64(p.cfg.MaxEntryBytes) {
			return nil, fmt.Errorf("%w: entry %s is %d bytes", ErrTooLarge, f.Name, f.UncompressedSize64)
		}
		b, err := p.readEntry(f)
		if err != nil {
			return nil, err
		}
		img := Image{Name: f.Name, Data: b}
		probe(&img)
		images = append(images, img)
	}

	SortImages(images)
	p.cfg.Logger.Debug("imagezip: parsed", "entries", len(zr.File), "images", len(images), "skipped", skipped)
	return images, nil
}

func (p *Parser) readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrMalformedArchive, f.Name, err)
	}
	defer rc.Close()
	b, err := horosafe.LimitedReadAll(rc, p.cfg.MaxEntryBytes)
	if err != nil {
		if errors.Is(err, horosafe.ErrTooLarge) {
			return nil, fmt.Errorf("%w: entry %s", ErrTooLarge, f.Name)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrMalformedArchive, f.Name, err)
	}
	return b, nil
}

// probe fills the informational fields from the image header.
func probe(img *Image) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return
	}
	img.Format, img.Width, img.Height = format, cfg.Width, cfg.Height
}

// IsImageName reports whether name has one of Extensions, ignoring case.
func IsImageName(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	return slices.Contains(Extensions, ext)
}

// SortImages orders images by SortKey, keeping the relative order of ties.
func SortImages(images []Image) {
	slices.SortStableFunc(images, func(a, b Image) int {
		ka, kb := SortKey(a.Name), SortKey(b.Name)
		switch {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		}
		return 0
	})
}

// SortKey is the value of the first run of ASCII digits in name, or 0 when
// there is none. Values beyond int64 saturate at math.MaxInt64.
func SortKey(name string) int64 {
	start := strings.IndexFunc(name, isDigit)
	if start < 0 {
		return 0
	}
	var n int64
	for _, r := range name[start:] {
		if !isDigit(r) {
			break
		}
		d := int64(r - '0')
		if n > (math.MaxInt64-d)/10 {
			return math.MaxInt64
		}
		n = n*10 + d
	}
	return n
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// ReadAll is a convenience for callers holding a reader (CLI, multipart).
func ReadAll(r io.Reader, cfg Config) ([]Image, error) {
	cfg.defaults()
	data, err := horosafe.LimitedReadAll(r, cfg.MaxArchiveBytes)
	if err != nil {
		if errors.Is(err, horosafe.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrTooLarge, err)
		}
		return nil, fmt.Errorf("imagezip: read: %w", err)
	}
	return NewParser(cfg).Parse(data)
}
