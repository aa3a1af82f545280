// download.go - Idempotente Downloads aus einem Hub-Repository
//
// Dieses Modul enthaelt:
// - Download: Laedt eine Datei, ueberspringt vorhandene Dateien
// - DownloadAll: Mehrere Dateien mit begrenzter Parallelitaet (errgroup)
// - doDownload: Fortsetzbarer Download ueber eine .download Teildatei
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// Download-Konstanten
const (
	DefaultChunkSize   = 1024 * 1024 // 1 MB
	MaxDownloadRetries = 3
	DownloadRetryDelay = 2 * time.Second
)

// File ordnet einen Pfad im Repository einer lokalen Datei zu
type File struct {
	Remote string
	Local  string
}

// DownloadedFile ist das Ergebnis eines Downloads
type DownloadedFile struct {
	File
	Size      int64
	FromCache bool
}

// Download laedt remotePath nach localPath. Existiert localPath bereits,
// passiert nichts; die Groesse wird nicht geprueft.
func (c *Client) Download(ctx context.Context, repo, remotePath, localPath string) (DownloadedFile, error) {
	result := DownloadedFile{File: File{Remote: remotePath, Local: localPath}}
	if err := validateRepoID(repo); err != nil {
		return result, err
	}
	if remotePath == "" {
		return result, fmt.Errorf("%w: dateiname darf nicht leer sein", ErrFileNotFound)
	}

	if stat, err := os.Stat(localPath); err == nil {
		result.Size = stat.Size()
		result.FromCache = true
		c.logger.Debug("file already present, skipping download", "path", localPath)
		return result, nil
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return result, fmt.Errorf("verzeichnis erstellen fehlgeschlagen: %w", err)
	}

	u := c.resolveURL(repo, remotePath)
	var lastErr error
	for attempt := 0; attempt < MaxDownloadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(DownloadRetryDelay):
			}
		}

		err := c.doDownload(ctx, u, remotePath, localPath)
		if err == nil {
			stat, err := os.Stat(localPath)
			if err != nil {
				return result, err
			}
			result.Size = stat.Size()
			c.logger.Info("downloaded", "repo", repo, "file", remotePath, "size", result.Size)
			return result, nil
		}

		// Nicht wiederholbare Fehler sofort zurueckgeben
		if errors.Is(err, ErrModelNotFound) || errors.Is(err, ErrUnauthorized) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		lastErr = err
	}
	return result, fmt.Errorf("%w: nach %d versuchen: %w", ErrDownloadFailed, MaxDownloadRetries, lastErr)
}

// DownloadAll laedt alle Dateien mit hoechstens concurrency parallelen Downloads
func (c *Client) DownloadAll(ctx context.Context, repo string, files []File) ([]DownloadedFile, error) {
	results := make([]DownloadedFile, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, f := range files {
		g.Go(func() error {
			r, err := c.Download(gctx, repo, f.Remote, f.Local)
			if err != nil {
				return fmt.Errorf("download von %s fehlgeschlagen: %w", f.Remote, err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) doDownload(ctx context.Context, url, remotePath, targetPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "*/*")

	var existingSize int64
	tmpPath := targetPath + ".download"
	if stat, err := os.Stat(tmpPath); err == nil {
		existingSize = stat.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && existingSize > 0 {
		existingSize = 0
		os.Remove(tmpPath)
	} else if err := c.handleResponseError(resp); err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE
	if existingSize > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(tmpPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	// ohne Content-Length ist die Gesamtgroesse unbekannt (0)
	var total int64
	if resp.ContentLength >= 0 {
		total = existingSize + resp.ContentLength
	}
	done := existingSize
	buf := make([]byte, DefaultChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
			done += int64(n)
			if c.progress != nil {
				c.progress(remotePath, done, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	if err := file.Sync(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, targetPath)
}
