// Package blobstore implements provider.BlobUploader and
// provider.PDFDownloader. No object-storage SDK appears anywhere in the
// retrieval pack (see DESIGN.md), so the durable side of this collaborator
// is a directory on local disk addressed by key — swappable behind the
// same interface a deployer would point at S3/GCS without touching the
// executor.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ledgerline/filings-orchestrator/internal/provider"
)

// LocalStore persists blobs under a root directory, one file per key.
type LocalStore struct {
	root string
}

// NewLocalStore constructs a LocalStore rooted at dir, creating it if absent.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", dir, err)
	}
	return &LocalStore{root: dir}, nil
}

var _ provider.BlobUploader = (*LocalStore)(nil)

// Upload writes data under key and returns a file:// URL referencing it.
func (s *LocalStore) Upload(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dest := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir for %s: %w", key, err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	return "file://" + dest, nil
}

// HTTPDownloader fetches PDFs over plain HTTP(S).
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader constructs a downloader using the given client, or
// http.DefaultClient if nil.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDownloader{client: client}
}

var _ provider.PDFDownloader = (*HTTPDownloader)(nil)

// DownloadPDF fetches url's body in full. Callers are expected to bound ctx.
func (d *HTTPDownloader) DownloadPDF(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return body, nil
}
