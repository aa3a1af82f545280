package reconcile

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/leks-forever/model-convert/logutil"
	"github.com/leks-forever/model-convert/metrics"
	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/payload"
)

// copier kopiert mit einem festen Puffer. Nie liegt mehr als len(buf)
// Bytes einer Payload im Speicher.
type copier struct {
	ctx      context.Context
	buf      []byte
	total    uint64
	written  uint64
	metrics  *metrics.Metrics
	progress func(written, total uint64)
}

// countingWriter zaehlt mit und versteckt ReadFrom der Zieldatei, damit der
// Puffer tatsaechlich benutzt wird
type countingWriter struct {
	w io.Writer
	c *copier
}

func (cw countingWriter) Write(p []byte) (int, error) {
	if err := cw.c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := cw.w.Write(p)
	cw.c.written += uint64(n)
	cw.c.metrics.AddCopied(int64(n))
	if cw.c.progress != nil {
		cw.c.progress(cw.c.written, cw.c.total)
	}
	return n, err
}

func (c *copier) copy(dst io.Writer, src io.Reader) (int64, error) {
	n, err := io.CopyBuffer(countingWriter{w: dst, c: c}, struct{ io.Reader }{src}, c.buf)
	if err != nil {
		if ctxErr := c.ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
		return n, ioError(err)
	}
	return n, nil
}

// copyFile haengt die komplette Datei path an dst an
func (c *copier) copyFile(dst io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return ioError(err)
	}
	defer f.Close()

	_, err = c.copy(dst, f)
	return err
}

// copyWindow haengt genau ref.Length Bytes ab ref.Offset an dst an
func (c *copier) copyWindow(dst io.Writer, dir string, ref onnx.ExternalRef) error {
	w, err := payload.OpenWindow(dir, ref)
	if err != nil {
		return ioError(err)
	}
	defer w.Close()

	logutil.Trace("appending window", "ref", ref, "at", c.written)
	n, err := c.copy(dst, w)
	if err != nil {
		return err
	}
	if uint64(n) != ref.Length {
		return ioError(io.ErrUnexpectedEOF)
	}
	return nil
}

// writeAtomic schreibt ueber eine Temp-Datei im Zielverzeichnis. Bei
// Fehlern bleibt weder die Temp-Datei noch eine halbe Zieldatei zurueck.
func writeAtomic(path string, fn func(*os.File) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return ioError(err)
	}
	tmpPath := f.Name()
	defer func() {
		if f != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := fn(f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return ioError(err)
	}
	if err := f.Close(); err != nil {
		f = nil
		os.Remove(tmpPath)
		return ioError(err)
	}
	f = nil

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return ioError(err)
	}
	// ein vorhandener Alias wird ersetzt, nicht ueber ihn hinweg geschrieben
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return ioError(err)
	}
	return nil
}
