// Package payload - Lesezugriff auf Payload-Dateien
//
// Dieses Modul enthaelt:
// - Dereferencer: Schnittstelle fuer den Inhalt eines Initializers
// - Reader: Echte Dereferenzierung (inline oder Bereich aus Payload-Datei)
// - Window/OpenWindow: Begrenzter SectionReader fuer Streaming-Kopien
package payload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/leks-forever/model-convert/logutil"
	"github.com/leks-forever/model-convert/metrics"
	"github.com/leks-forever/model-convert/onnx"
)

// ErrOutOfBounds wird zurueckgegeben wenn offset+length hinter dem Dateiende liegt
var ErrOutOfBounds = errors.New("payload: referenz ausserhalb der datei")

// Dereferencer liefert den Inhalt eines Initializers
type Dereferencer interface {
	Bytes(t *onnx.Tensor) ([]byte, error)
}

// Reader dereferenziert Tensoren fuer echt: inline aus der Strukturdatei,
// extern aus der Payload-Datei relativ zu Dir.
type Reader struct {
	Dir     string
	Metrics *metrics.Metrics

	reads atomic.Int64
}

// NewReader erstellt einen Reader fuer Payload-Dateien in dir
func NewReader(dir string) *Reader {
	return &Reader{Dir: dir}
}

// Reads gibt die Anzahl gelesener externer Bereiche zurueck
func (r *Reader) Reads() int64 {
	return r.reads.Load()
}

// Bytes liest den vollstaendigen Inhalt eines Tensors
func (r *Reader) Bytes(t *onnx.Tensor) ([]byte, error) {
	if !t.IsExternal() {
		return t.InlineContent(), nil
	}

	ref, err := t.ExternalRef()
	if err != nil {
		return nil, err
	}

	w, err := OpenWindow(r.Dir, ref)
	if err != nil {
		return nil, err
	}
	defer w.Close()

	r.reads.Add(1)
	r.Metrics.IncReads()
	logutil.Trace("reading tensor payload", "name", t.Name, "ref", ref)

	b := make([]byte, ref.Length)
	if _, err := io.ReadFull(w, b); err != nil {
		return nil, fmt.Errorf("tensor %q lesen fehlgeschlagen: %w", t.Name, err)
	}
	return b, nil
}

// Window ist ein lesbarer Bereich einer Payload-Datei
type Window struct {
	*io.SectionReader

	f *os.File
}

// Close schliesst die zugrundeliegende Datei
func (w *Window) Close() error {
	return w.f.Close()
}

// OpenWindow oeffnet den Bereich ref relativ zu dir und prueft die Grenzen
func OpenWindow(dir string, ref onnx.ExternalRef) (*Window, error) {
	f, err := os.Open(resolve(dir, ref.File))
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if ref.End() > uint64(info.Size()) {
		f.Close()
		return nil, fmt.Errorf("%w: %s, dateigroesse %d", ErrOutOfBounds, ref, info.Size())
	}

	return &Window{SectionReader: io.NewSectionReader(f, int64(ref.Offset), int64(ref.Length)), f: f}, nil
}

func resolve(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
