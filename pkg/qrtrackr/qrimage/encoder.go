package qrimage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

// maxRemoteImageBytes bounds how much of a remote response is read.
const maxRemoteImageBytes = 2 << 20

// ErrRemoteStatus is returned when the remote chart API answers with a non-200 status.
var ErrRemoteStatus = errors.New("qr service returned unexpected status")

// Encoder renders QR content to PNG bytes.
type Encoder interface {
	Encode(ctx context.Context, content string, opts Options) ([]byte, error)
}

// LocalEncoder renders in-process with go-qrcode.
type LocalEncoder struct{}

func (LocalEncoder) Encode(_ context.Context, content string, opts Options) ([]byte, error) {
	q, err := qrcode.New(content, recoveryLevel(opts.Level))
	if err != nil {
		return nil, err
	}
	// The quiet zone is drawn below so the margin can be set in pixels
	q.DisableBorder = true

	inner := q.Image(opts.Size - 2*opts.Margin)
	side := inner.Bounds().Dx() + 2*opts.Margin

	canvas := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, inner.Bounds().Add(image.Pt(opts.Margin, opts.Margin)), inner, inner.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func recoveryLevel(level string) qrcode.RecoveryLevel {
	switch level {
	case "L":
		return qrcode.Low
	case "Q":
		return qrcode.High
	case "H":
		return qrcode.Highest
	default:
		return qrcode.Medium
	}
}

// RemoteEncoder fetches images from a goqr.me-compatible chart API.
type RemoteEncoder struct {
	BaseURL string
	Client  *http.Client
}

func NewRemoteEncoder(baseURL string, timeout time.Duration) *RemoteEncoder {
	return &RemoteEncoder{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (e *RemoteEncoder) Encode(ctx context.Context, content string, opts Options) ([]byte, error) {
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid qr service url: %w", err)
	}
	size := strconv.Itoa(opts.Size)
	q := u.Query()
	q.Set("size", size+"x"+size)
	q.Set("data", content)
	q.Set("margin", strconv.Itoa(opts.Margin))
	q.Set("ecc", opts.Level)
	q.Set("format", "png")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrRemoteStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("qr service returned an empty body")
	}
	return data, nil
}
