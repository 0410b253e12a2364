// Package fetch downloads remote archives into a filesystem and unpacks them.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// ErrUnsupportedScheme is returned for sources that are neither http(s) nor s3.
var ErrUnsupportedScheme = errors.New("fetch: unsupported source scheme")

// Fetcher copies remote objects onto an afero filesystem.
type Fetcher struct {
	fs     afero.Fs
	client *http.Client
	s3     S3Client
	region string
	logger zerolog.Logger
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithS3Client overrides the client used for s3:// sources.
func WithS3Client(c S3Client) Option {
	return func(f *Fetcher) {
		f.s3 = c
	}
}

func WithRegion(region string) Option {
	return func(f *Fetcher) {
		f.region = region
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

func New(fs afero.Fs, opts ...Option) *Fetcher {
	f := &Fetcher{
		fs:     fs,
		client: http.DefaultClient,
		region: "us-east-1",
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Fs() afero.Fs {
	return f.fs
}

// Fetch downloads src into dst. The object is written to a temporary file in
// the destination directory and renamed once complete, so dst either holds the
// whole object or does not exist.
func (f *Fetcher) Fetch(ctx context.Context, src, dst string) error {
	u, err := url.Parse(src)
	if err != nil {
		return fmt.Errorf("failed to parse source %q: %w", src, err)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		body, err = f.openHTTP(ctx, src)
	case "s3":
		body, err = f.openS3(ctx, u)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, src)
	}
	if err != nil {
		return err
	}
	defer body.Close()

	dir := filepath.Dir(dst)
	if err := f.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(f.fs, dir, "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	f.logger.Info().Str("source", src).Str("dest", dst).Msg("Downloading")
	n, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = f.fs.Remove(tmpName)
		if copyErr != nil {
			return fmt.Errorf("failed to download %s: %w", src, copyErr)
		}
		return fmt.Errorf("failed to write %s: %w", dst, closeErr)
	}

	if err := f.fs.Rename(tmpName, dst); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	f.logger.Debug().Str("dest", dst).Int64("bytes", n).Msg("Download complete")
	return nil
}

func (f *Fetcher) openHTTP(ctx context.Context, src string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", src, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download %s: HTTP %d", src, resp.StatusCode)
	}
	return resp.Body, nil
}

// Ensure fetches src into dst unless dst already exists.
func (f *Fetcher) Ensure(ctx context.Context, src, dst string) error {
	ok, err := afero.Exists(f.fs, dst)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dst, err)
	}
	if ok {
		return nil
	}
	return f.Fetch(ctx, src, dst)
}
