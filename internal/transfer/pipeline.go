// Package transfer streams media from an external fetch process into blob
// storage without buffering whole files, leaving no partial objects and no
// orphaned children behind on failure.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BashkirovN/MiniStateAffairs/internal/fetch"
	"github.com/BashkirovN/MiniStateAffairs/internal/retry"
	"github.com/BashkirovN/MiniStateAffairs/internal/telemetry"
)

// BlobStore is the destination side of a transfer.
type BlobStore interface {
	Exists(ctx context.Context, key string) (bool, int64, error)
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	Locator(key string) string
}

// Pipeline bridges a fetch process into a streamed blob upload.
type Pipeline struct {
	Blob             BlobStore
	Runner           fetch.Runner
	Client           *http.Client
	Limiter          retry.Limiter
	Retry            retry.Options
	FetchOpts        fetch.Options
	FirstByteTimeout time.Duration
	MinBytes         int64
	Log              *zap.Logger
}

// Transfer moves sourceURL into destKey and returns the storage locator.
// Idempotent per destination key: an existing object short-circuits.
func (p *Pipeline) Transfer(ctx context.Context, sourceURL, destKey string) (string, error) {
	log := p.logger().With(zap.String("key", destKey))

	exists, size, err := p.Blob.Exists(ctx, destKey)
	if err != nil {
		return "", fmt.Errorf("existence check %s: %w", destKey, err)
	}
	if exists {
		log.Info("object already present, skipping download", zap.Int64("bytes", size))
		return p.Blob.Locator(destKey), nil
	}

	if err := p.preflight(ctx, sourceURL); err != nil {
		return "", fmt.Errorf("preflight %s: %w", sourceURL, err)
	}

	proc, err := p.Runner.Start(ctx, sourceURL, p.FetchOpts)
	if err != nil {
		return "", fmt.Errorf("spawn fetch process: %w", err)
	}
	guard := fetch.Watch(proc)
	defer guard.Release()

	first, err := p.awaitFirstChunk(ctx, proc)
	if err != nil {
		_ = proc.Kill()
		return "", fmt.Errorf("fetch produced no data: %w", err)
	}

	counter := &countingReader{r: io.MultiReader(bytes.NewReader(first), proc.Output())}

	type uploadResult struct {
		locator string
		err     error
	}
	uploads := make(chan uploadResult, 1)
	go func() {
		locator, err := p.Blob.Upload(ctx, destKey, counter, contentTypeForKey(destKey))
		uploads <- uploadResult{locator: locator, err: err}
	}()

	up := <-uploads
	if up.err != nil {
		_ = proc.Kill()
		p.removePartial(destKey, log)
		return "", fmt.Errorf("upload %s: %w", destKey, up.err)
	}

	// Upload completion implies the output stream reached EOF, so the exit
	// result is already settled.
	if err := proc.Wait(); err != nil {
		p.removePartial(destKey, log)
		return "", fmt.Errorf("fetch process failed: %w", err)
	}
	if counter.n < p.MinBytes {
		p.removePartial(destKey, log)
		return "", fmt.Errorf("fetched object too small: %d bytes below %d byte floor, likely an error page", counter.n, p.MinBytes)
	}

	telemetry.TransferredBytes.Add(float64(counter.n))
	log.Info("transfer complete", zap.Int64("bytes", counter.n))
	return up.locator, nil
}

// preflight probes the source with a lightweight HEAD so a dead URL fails
// before any process is spawned.
func (p *Pipeline) preflight(ctx context.Context, sourceURL string) error {
	_, err := retry.Fetch(ctx, p.Client, p.Limiter, p.Retry, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodHead, sourceURL, nil)
		if err != nil {
			return nil, err
		}
		if p.FetchOpts.Referer != "" {
			req.Header.Set("Referer", p.FetchOpts.Referer)
		}
		if p.FetchOpts.Origin != "" {
			req.Header.Set("Origin", p.FetchOpts.Origin)
		}
		return req, nil
	})
	return err
}

// awaitFirstChunk gates the upload on the first bytes of output or process
// exit, bounded by a timeout, so empty results never create an object.
func (p *Pipeline) awaitFirstChunk(ctx context.Context, proc fetch.Process) ([]byte, error) {
	timeout := p.FirstByteTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	buf := make([]byte, 64*1024)
	type readResult struct {
		n   int
		err error
	}
	reads := make(chan readResult, 1)
	go func() {
		n, err := proc.Output().Read(buf)
		reads <- readResult{n: n, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-reads:
		if r.n > 0 {
			return buf[:r.n], nil
		}
		if r.err != nil && !errors.Is(r.err, io.EOF) {
			return nil, r.err
		}
		if err := proc.Wait(); err != nil {
			return nil, err
		}
		return nil, errors.New("process exited without output")
	case <-timer.C:
		return nil, fmt.Errorf("no output within %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// removePartial best-effort deletes whatever may have been written.
func (p *Pipeline) removePartial(key string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.Blob.Delete(ctx, key); err != nil {
		log.Warn("failed to delete partial object", zap.Error(err))
	}
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Log != nil {
		return p.Log
	}
	return zap.NewNop()
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
