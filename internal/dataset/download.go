package dataset

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultURL is the upstream location of the binary CIFAR-10 archive.
const DefaultURL = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"

const archiveName = "cifar-10-binary.tar.gz"

// Downloader fetches and unpacks the CIFAR-10 archive into a cache directory.
type Downloader struct {
	URL             string
	Client          *http.Client
	MaxRetries      uint64
	InitialInterval time.Duration
}

func (d Downloader) withDefaults() Downloader {
	if d.URL == "" {
		d.URL = DefaultURL
	}
	if d.Client == nil {
		d.Client = http.DefaultClient
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = 5
	}
	if d.InitialInterval <= 0 {
		d.InitialInterval = 500 * time.Millisecond
	}
	return d
}

// Ensure makes sure both splits are present under root, downloading and
// extracting the archive on first use.
func (d Downloader) Ensure(ctx context.Context, root string) error {
	if Present(root) {
		return nil
	}
	d = d.withDefaults()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	archive := filepath.Join(root, archiveName)
	if _, err := os.Stat(archive); err != nil {
		log.Printf("downloading url=%s dest=%s", d.URL, archive)
		if err := d.fetch(ctx, archive); err != nil {
			return err
		}
	}
	if err := Extract(ctx, archive, root); err != nil {
		return err
	}
	if !Present(root) {
		return fmt.Errorf("%w: archive %s did not contain %s", ErrNotFound, archive, BatchDir)
	}
	return nil
}

func (d Downloader) fetch(ctx context.Context, dest string) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.InitialInterval
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, d.MaxRetries), ctx)

	op := func() error {
		return d.fetchOnce(ctx, dest)
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("download retry err=%v wait=%s", err, wait)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return fmt.Errorf("download %s: %w", d.URL, err)
	}
	return nil
}

func (d Downloader) fetchOnce(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return backoff.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), archiveName+".part-*")
	if err != nil {
		return backoff.Permanent(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// Extract unpacks a gzipped tar archive into root. Entries that would land
// outside root are rejected.
func Extract(ctx context.Context, archive, root string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	root = filepath.Clean(root)
	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target := filepath.Join(root, hdr.Name)
		if !within(root, target) {
			return fmt.Errorf("extract: entry %q escapes %s", hdr.Name, root)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		default:
			// links and devices are not part of the dataset archive
			continue
		}
	}
}

// within reports whether target names root itself or a path below it.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
