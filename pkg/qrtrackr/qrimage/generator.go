// Package qrimage renders QR code PNGs to the upload directory and hands back
// their public URLs. Files are named after a hash of their inputs, so asking
// twice for the same image reuses the first file.
package qrimage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mikepea/qrtrackr/pkg/qrtrackr/cache"
	"github.com/mikepea/qrtrackr/pkg/qrtrackr/logger"
)

const (
	cacheKeyPrefix = "qr_trackr_image_"
	urlCacheTTL    = time.Hour

	MinSize   = 100
	MaxSize   = 1000
	MaxMargin = 10

	// NoMargin requests an image without a quiet zone; a zero Margin means "use the default".
	NoMargin = -1
)

// ErrEmptyContent is returned when there is nothing to encode.
var ErrEmptyContent = errors.New("qr content is empty")

// GenerateError reports which step of image generation failed.
type GenerateError struct {
	Op  string // validate, mkdir, encode, write
	Err error
}

func (e *GenerateError) Error() string {
	return "qr image " + e.Op + ": " + e.Err.Error()
}

func (e *GenerateError) Unwrap() error {
	return e.Err
}

// Options controls the rendered image. Zero values take the generator defaults.
type Options struct {
	Size   int
	Margin int
	Level  string
}

func (o Options) withDefaults(d Options) Options {
	if o.Size == 0 {
		o.Size = d.Size
	}
	if o.Margin == 0 {
		o.Margin = d.Margin
	}
	if o.Level == "" {
		o.Level = d.Level
	}

	if o.Size < MinSize {
		o.Size = MinSize
	}
	if o.Size > MaxSize {
		o.Size = MaxSize
	}
	if o.Margin < 0 {
		o.Margin = 0
	}
	if o.Margin > MaxMargin {
		o.Margin = MaxMargin
	}
	switch o.Level = strings.ToUpper(o.Level); o.Level {
	case "L", "M", "Q", "H":
	default:
		o.Level = "M"
	}
	return o
}

// Generator writes QR images into Dir and serves them from BaseURL.
type Generator struct {
	dir      string
	baseURL  string
	encoder  Encoder
	cache    cache.Cache
	logger   *logger.Logger
	defaults Options
}

// Config configures a Generator.
type Config struct {
	Dir      string
	BaseURL  string
	Encoder  Encoder
	Cache    cache.Cache
	Logger   *logger.Logger
	Defaults Options
}

func NewGenerator(cfg Config) *Generator {
	g := &Generator{
		dir:      cfg.Dir,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		encoder:  cfg.Encoder,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		defaults: cfg.Defaults.withDefaults(Options{Size: 300, Margin: 4, Level: "M"}),
	}
	if g.encoder == nil {
		g.encoder = LocalEncoder{}
	}
	if g.cache == nil {
		g.cache = cache.Nop{}
	}
	return g
}

// Filename returns the deterministic file name for content rendered with opts.
func (g *Generator) Filename(content string, opts Options) string {
	opts = opts.withDefaults(g.defaults)
	return "qr-" + g.hash(content, opts) + ".png"
}

func (g *Generator) hash(content string, opts Options) string {
	sum := sha256.Sum256([]byte(content + "|" + strconv.Itoa(opts.Size) + "|" + strconv.Itoa(opts.Margin) + "|" + opts.Level))
	return hex.EncodeToString(sum[:])[:32]
}

// Generate returns the public URL of the PNG for content, rendering it only
// when no file exists for the same inputs.
func (g *Generator) Generate(ctx context.Context, content string, opts Options) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", &GenerateError{Op: "validate", Err: ErrEmptyContent}
	}

	opts = opts.withDefaults(g.defaults)
	hash := g.hash(content, opts)
	filename := "qr-" + hash + ".png"
	path := filepath.Join(g.dir, filename)
	imageURL := g.baseURL + "/" + filename
	cacheKey := cacheKeyPrefix + hash

	var cached string
	if ok, err := cache.GetJSON(ctx, g.cache, cacheKey, &cached); err != nil {
		g.logger.Debug("QRIMAGE", fmt.Sprintf("cache read failed: %v", err))
	} else if ok && fileExists(path) {
		return cached, nil
	}

	if fileExists(path) {
		g.logger.Debug("QRIMAGE", "reusing "+filename)
		g.remember(ctx, cacheKey, imageURL)
		return imageURL, nil
	}

	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return "", &GenerateError{Op: "mkdir", Err: err}
	}

	data, err := g.encoder.Encode(ctx, content, opts)
	if err != nil {
		return "", &GenerateError{Op: "encode", Err: err}
	}

	if err := writeFileAtomic(g.dir, filename, data); err != nil {
		return "", &GenerateError{Op: "write", Err: err}
	}

	g.logger.Info("QRIMAGE", fmt.Sprintf("generated %s (%dpx, margin %d, level %s)", filename, opts.Size, opts.Margin, opts.Level))
	g.remember(ctx, cacheKey, imageURL)
	return imageURL, nil
}

func (g *Generator) remember(ctx context.Context, key, imageURL string) {
	if err := cache.SetJSON(ctx, g.cache, key, imageURL, urlCacheTTL); err != nil {
		g.logger.Debug("QRIMAGE", fmt.Sprintf("cache write failed: %v", err))
	}
}

// Remove deletes the file behind an image URL produced by this generator.
// A file that is already gone is not an error.
func (g *Generator) Remove(imageURL string) error {
	name, ok := strings.CutPrefix(imageURL, g.baseURL+"/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return fmt.Errorf("image url %q is not managed by this generator", imageURL)
	}

	err := os.Remove(filepath.Join(g.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}

// writeFileAtomic writes through a temp file so concurrent requests never
// observe a half-written image.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".qr-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}
