package reconcile

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/payload"
)

// ErrDangling kennzeichnet eine externe Referenz ohne gueltiges Ziel
var ErrDangling = errors.New("reconcile: ungueltige referenz")

// Verify prueft, dass jeder externe Initializer in payloadName liegt und
// innerhalb der Dateigrenzen bleibt. Ein leerer payloadName erlaubt jede
// Datei. Alle Verstoesse werden gesammelt zurueckgegeben.
func Verify(m *onnx.Model, dir, payloadName string) error {
	sizes := make(map[string]int64)
	var errs []error

	for t := range m.Initializers() {
		if !t.IsExternal() {
			continue
		}
		ref, err := t.ExternalRef()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if payloadName != "" && ref.File != payloadName {
			errs = append(errs, fmt.Errorf("%w: %q zeigt auf %q statt %q", ErrDangling, t.Name, ref.File, payloadName))
			continue
		}

		size, ok := sizes[ref.File]
		if !ok {
			info, err := os.Stat(resolve(dir, ref.File))
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %q: %w", ErrDangling, t.Name, err))
				continue
			}
			size = info.Size()
			sizes[ref.File] = size
		}
		if ref.End() > uint64(size) {
			errs = append(errs, fmt.Errorf("%w: %q %s hinter dateiende %d", ErrDangling, t.Name, ref, size))
		}
	}
	return errors.Join(errs...)
}

// Mismatch ist ein geteilter Tensor mit unterschiedlichen Bytes in A und B
type Mismatch struct {
	Name          string
	DigestA       string
	DigestB       string
	LengthsDiffer bool
}

// CompareShared hasht beide Fenster jedes geteilten Tensors und meldet die
// Abweichungen. Ist die Liste leer, ist die Wahl "A gewinnt" bedeutungslos.
func CompareShared(ctx context.Context, dirA string, a *payload.Index, dirB string, b *payload.Index) ([]Mismatch, error) {
	var out []Mismatch
	for _, name := range payload.Shared(a, b) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		refA, _ := a.Get(name)
		refB, _ := b.Get(name)
		if refA.Length != refB.Length {
			out = append(out, Mismatch{Name: name, LengthsDiffer: true})
			continue
		}

		da, err := digest(dirA, refA)
		if err != nil {
			return nil, fmt.Errorf("tensor %q in a: %w", name, err)
		}
		db, err := digest(dirB, refB)
		if err != nil {
			return nil, fmt.Errorf("tensor %q in b: %w", name, err)
		}
		if da != db {
			out = append(out, Mismatch{Name: name, DigestA: da, DigestB: db})
		}
	}
	return out, nil
}

func digest(dir string, ref onnx.ExternalRef) (string, error) {
	w, err := payload.OpenWindow(dir, ref)
	if err != nil {
		return "", ioError(err)
	}
	defer w.Close()

	h := sha256.New()
	if _, err := io.Copy(h, w); err != nil {
		return "", ioError(err)
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}
