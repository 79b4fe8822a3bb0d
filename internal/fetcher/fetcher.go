// Package fetcher downloads remote files and reads the tabular sources used
// for underwriting: broker comparable-sale sheets (CSV, XLSX, JSON, or any of
// those zipped) and CMS provider data.
package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}
