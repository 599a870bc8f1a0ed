// Package ingest downloads submitted screenshots under hard resource
// bounds and produces their content hash. Downloads are streamed into
// a scoped temporary file with the byte ceiling enforced during the
// transfer: a server that misreports or omits Content-Length cannot
// push past the cap.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Source is an image reference supplied by the message-ingestion
// surface. Declared fields come from the upstream message and are
// advisory only; they are validated but never trusted for limits.
type Source struct {
	URL                 string
	Filename            string
	DeclaredSize        int64
	DeclaredContentType string
}

// Image is a successfully ingested screenshot.
type Image struct {
	Bytes       []byte
	SHA256      string
	ContentType string
	Size        int64
}

// allowedExtensions are the image file extensions accepted before any
// network call is made.
var allowedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

// Ingestor performs bounded screenshot downloads.
type Ingestor struct {
	client   *http.Client
	maxBytes int64
	timeout  time.Duration
	tmpDir   string
}

// New creates an Ingestor. tmpDir holds the scoped temporary files
// used during downloads and is created if missing.
func New(maxBytes int64, timeout time.Duration, tmpDir string) (*Ingestor, error) {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download temp dir: %w", err)
	}
	return &Ingestor{
		// The wall-clock bound is enforced per request via context;
		// the client itself only pools connections.
		client:   &http.Client{},
		maxBytes: maxBytes,
		timeout:  timeout,
		tmpDir:   tmpDir,
	}, nil
}

// Fetch downloads the image behind src, enforcing the byte ceiling
// incrementally while streaming and aborting the in-flight transfer
// on timeout. On success it returns the full buffer and its SHA-256.
// Every failure is a *DownloadError with a discriminated Reason.
func (ing *Ingestor) Fetch(ctx context.Context, src Source) (*Image, error) {
	if err := ing.precheck(src); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, ing.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, &DownloadError{Reason: ReasonNetwork, Err: err}
	}

	resp, err := ing.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{
			Reason: ReasonNetwork,
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, &DownloadError{
			Reason: ReasonNonImage,
			Err:    fmt.Errorf("unexpected content type %q", contentType),
		}
	}

	return ing.stream(resp.Body, contentType)
}

// precheck rejects obviously invalid sources before touching the
// network: non-image extensions, non-image declared types, and sizes
// already declared above the cap.
func (ing *Ingestor) precheck(src Source) error {
	if src.URL == "" {
		return &DownloadError{Reason: ReasonNetwork, Err: errors.New("empty url")}
	}

	if src.Filename != "" {
		ext := strings.ToLower(filepath.Ext(src.Filename))
		if _, ok := allowedExtensions[ext]; !ok {
			return &DownloadError{
				Reason: ReasonNonImage,
				Err:    fmt.Errorf("unsupported file extension %q", ext),
			}
		}
	}

	if ct := src.DeclaredContentType; ct != "" && !strings.HasPrefix(ct, "image/") {
		return &DownloadError{
			Reason: ReasonNonImage,
			Err:    fmt.Errorf("declared content type %q is not an image", ct),
		}
	}

	if src.DeclaredSize > 0 && src.DeclaredSize > ing.maxBytes {
		return &DownloadError{
			Reason: ReasonOversize,
			Err:    fmt.Errorf("declared size %d exceeds cap %d", src.DeclaredSize, ing.maxBytes),
		}
	}

	return nil
}

// stream copies the body into a scoped temp file while hashing and
// counting. The temp file is removed on every exit path.
func (ing *Ingestor) stream(body io.Reader, contentType string) (*Image, error) {
	tmp, err := os.CreateTemp(ing.tmpDir, "dl-"+uuid.NewString()+"-*")
	if err != nil {
		return nil, &DownloadError{Reason: ReasonNetwork, Err: err}
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("file", tmpName).Msg("Failed to remove download temp file")
		}
	}()

	hasher := sha256.New()
	var written int64
	buf := make([]byte, 32*1024)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > ing.maxBytes {
				// Abort immediately; headers are not trusted and the
				// transfer may be chunked with no declared length.
				return nil, &DownloadError{
					Reason: ReasonOversize,
					Err:    fmt.Errorf("download exceeded cap of %d bytes", ing.maxBytes),
				}
			}
			if _, err := hasher.Write(buf[:n]); err != nil {
				return nil, &DownloadError{Reason: ReasonNetwork, Err: err}
			}
			if _, err := tmp.Write(buf[:n]); err != nil {
				return nil, &DownloadError{Reason: ReasonNetwork, Err: err}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, classifyTransport(readErr)
		}
	}

	if written == 0 {
		return nil, &DownloadError{Reason: ReasonNonImage, Err: errors.New("empty response body")}
	}

	if err := tmp.Sync(); err != nil {
		return nil, &DownloadError{Reason: ReasonNetwork, Err: err}
	}
	data, err := os.ReadFile(tmpName)
	if err != nil {
		return nil, &DownloadError{Reason: ReasonNetwork, Err: err}
	}

	return &Image{
		Bytes:       data,
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		ContentType: contentType,
		Size:        written,
	}, nil
}

// classifyTransport maps transport errors onto the failure taxonomy:
// context expiry is a timeout, everything else is a network error.
func classifyTransport(err error) *DownloadError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &DownloadError{Reason: ReasonTimeout, Err: err}
	}
	return &DownloadError{Reason: ReasonNetwork, Err: err}
}
