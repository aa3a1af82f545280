// upload.go - Upload-Koordination fuer Hub-Repositories
//
// Dieses Modul enthaelt:
// - Exists: HEAD auf resolve/, liest X-Linked-Size ohne Redirects
// - ExistsAll: Parallele Existenzpruefung (errgroup + semaphore)
// - Upload: preupload -> LFS-Batch -> Commit, Symlinks werden vorher aufgeloest
// - UploadAll: Laedt nur Dateien hoch, die remote fehlen oder abweichen
package hub

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Exists prueft ob remotePath im Repository liegt. Bei size >= 0 muss
// auch die Groesse uebereinstimmen.
func (c *Client) Exists(ctx context.Context, repo, remotePath string, size int64) (bool, error) {
	if err := validateRepoID(repo); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.resolveURL(repo, remotePath), nil)
	if err != nil {
		return false, err
	}

	// LFS-Dateien leiten auf das CDN um; die Groesse steht bereits im Header
	noRedirect := *c.httpClient
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	c.setHeaders(req)
	resp, err := noRedirect.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400, resp.StatusCode == http.StatusOK:
	default:
		if err := c.handleResponseError(resp); err != nil {
			return false, err
		}
		return false, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}

	if size < 0 {
		return true, nil
	}
	remote := resp.Header.Get("X-Linked-Size")
	if remote == "" {
		remote = resp.Header.Get("Content-Length")
	}
	n, err := strconv.ParseInt(remote, 10, 64)
	if err != nil {
		return false, nil
	}
	return n == size, nil
}

// ExistsAll prueft alle Dateien parallel; das Ergebnis ist true fuer
// Dateien, die remote mit gleicher Groesse vorhanden sind
func (c *Client) ExistsAll(ctx context.Context, repo string, files []File) ([]bool, error) {
	present := make([]bool, len(files))
	sem := semaphore.NewWeighted(int64(c.concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for i, f := range files {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			size := int64(-1)
			if f.Local != "" {
				stat, err := os.Stat(f.Local)
				if err != nil {
					return err
				}
				size = stat.Size()
			}

			ok, err := c.Exists(gctx, repo, f.Remote, size)
			if err != nil {
				return err
			}
			present[i] = ok
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return present, nil
}

// Upload laedt localPath nach remotePath und committet ihn. Symlinks
// werden vorher aufgeloest, es wird immer die echte Datei uebertragen.
func (c *Client) Upload(ctx context.Context, repo, localPath, remotePath string) error {
	if err := validateRepoID(repo); err != nil {
		return err
	}

	real, err := filepath.EvalSymlinks(localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if real != localPath {
		c.logger.Debug("resolved symlink before upload", "path", localPath, "target", real)
	}

	op, err := newOperation(real, remotePath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	if err := c.preupload(ctx, repo, op); err != nil {
		return err
	}
	if op.lfs {
		if err := c.uploadLFS(ctx, repo, op); err != nil {
			return err
		}
	}
	if err := c.commit(ctx, repo, op); err != nil {
		return err
	}

	c.logger.Info("uploaded", "repo", repo, "file", remotePath, "size", op.size, "lfs", op.lfs)
	return nil
}

// UploadAll laedt alle Dateien hoch, die remote fehlen. Die Commits
// laufen nacheinander, damit sich Revisionen nicht ueberholen.
func (c *Client) UploadAll(ctx context.Context, repo string, files []File) (uploaded int, err error) {
	present, err := c.ExistsAll(ctx, repo, files)
	if err != nil {
		return 0, err
	}

	for i, f := range files {
		if present[i] {
			c.logger.Debug("file exists remotely, skipping upload", "file", f.Remote)
			continue
		}
		if err := c.Upload(ctx, repo, f.Local, f.Remote); err != nil {
			return uploaded, fmt.Errorf("%s: %w", f.Remote, err)
		}
		uploaded++
	}
	return uploaded, nil
}
