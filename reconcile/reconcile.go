// Package reconcile - Wiederherstellung externer Referenzen nach dem Merge
//
// Dieses Modul enthaelt:
//   - Reconciler: Loest jeden Initializer gegen die Indizes von A und B auf
//     und erzeugt genau eine Payload-Datei fuer den zusammengefuehrten Graphen
//   - Result: Gewaehlte Strategie, Zaehler und Diagnosen
//   - AssumptionViolatedError: Namen, die kein Index kennt (nur Warnung)
//   - Persist: Schreibt die Strukturdatei nach der Payload
//
// Bei gleichen Namen in A und B gewinnt A. Die Wahl ist willkuerlich;
// CompareShared prueft, ob sie eine Rolle spielt.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/leks-forever/model-convert/metrics"
	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/payload"
)

// DefaultBufferSize ist die Puffergroesse der Streaming-Kopie
const DefaultBufferSize = 4 << 20

var (
	// ErrIO kennzeichnet Lese-/Schreibfehler; die Stufe wird abgebrochen
	ErrIO = errors.New("reconcile: ein-/ausgabefehler")

	// ErrAssumptionViolated kennzeichnet Tensoren, die kein Index kennt
	ErrAssumptionViolated = errors.New("reconcile: tensor in keinem index")
)

// Unresolved ist ein Initializer, den weder A noch B kennt
type Unresolved struct {
	Name     string
	External bool

	// Closest ist der aehnlichste bekannte Name, Distance dessen Levenshtein-Abstand
	Closest  string
	Distance int
}

// AssumptionViolatedError sammelt alle nicht aufgeloesten Namen
type AssumptionViolatedError struct {
	Unresolved []Unresolved
}

func (e *AssumptionViolatedError) Error() string {
	names := make([]string, 0, len(e.Unresolved))
	for _, u := range e.Unresolved {
		names = append(names, u.Name)
	}
	return fmt.Sprintf("%s: %s", ErrAssumptionViolated, strings.Join(names, ", "))
}

func (e *AssumptionViolatedError) Unwrap() error {
	return ErrAssumptionViolated
}

// Result beschreibt einen abgeschlossenen Abgleich
type Result struct {
	Strategy Strategy

	// Payload ist der Pfad der zusammengefuehrten Payload-Datei
	Payload string

	// Reused ist true, wenn eine vorhandene Payload wiederverwendet wurde
	Reused bool

	Resolved   int
	FromA      int
	FromB      int
	Inline     int
	Unresolved []Unresolved
}

// Warning gibt einen *AssumptionViolatedError zurueck oder nil
func (r *Result) Warning() error {
	if len(r.Unresolved) == 0 {
		return nil
	}
	return &AssumptionViolatedError{Unresolved: r.Unresolved}
}

// Reconciler erzeugt die Payload des zusammengefuehrten Graphen in Dir.
// Die Payload-Dateien der Quellen werden relativ zu Dir aufgeloest.
type Reconciler struct {
	Dir           string
	MergedPayload string
	BufferSize    int
	Metrics       *metrics.Metrics
	Logger        *slog.Logger

	// Progress wird waehrend der Kopie mit geschriebenen und erwarteten Bytes aufgerufen
	Progress func(written, total uint64)
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func ioError(err error) error {
	return fmt.Errorf("%w: %w", ErrIO, err)
}

// Reconcile schreibt die Payload und setzt alle externen Referenzen von
// merged auf MergedPayload. merged wird veraendert.
func (r *Reconciler) Reconcile(ctx context.Context, merged *onnx.Model, a, b *payload.Index) (*Result, error) {
	if r.MergedPayload == "" {
		return nil, errors.New("reconcile: kein name fuer die payload")
	}
	fileA, err := a.File()
	if err != nil {
		return nil, fmt.Errorf("quelle a: %w", err)
	}

	unique := payload.UniqueTo(b, a)
	if len(unique) > 0 {
		if _, err := b.File(); err != nil {
			return nil, fmt.Errorf("quelle b: %w", err)
		}
	}

	res := &Result{Payload: filepath.Join(r.Dir, r.MergedPayload)}
	if len(unique) == 0 {
		err = r.alias(res, fileA)
	} else {
		err = r.construct(ctx, res, fileA, unique, b)
	}
	if err != nil {
		return nil, err
	}

	placed := make(map[string]onnx.ExternalRef)
	if c, ok := res.Strategy.(Constructed); ok {
		for _, p := range c.Appended {
			placed[p.Name] = p.Ref
		}
	}

	r.resolve(merged, a, b, placed, res)

	logger := r.logger()
	logger.Info("reconciled payload", "strategy", describe(res.Strategy), "payload", r.MergedPayload,
		"from_a", res.FromA, "from_b", res.FromB, "inline", res.Inline, "reused", res.Reused)
	for _, u := range res.Unresolved {
		if u.External {
			logger.Warn("tensor not found in any index", "name", u.Name, "closest", u.Closest, "distance", u.Distance)
		} else {
			logger.Debug("inline tensor not found in any index", "name", u.Name)
		}
	}
	return res, nil
}

// resolve setzt die Referenzen aller Initializer. A gewinnt vor B.
func (r *Reconciler) resolve(merged *onnx.Model, a, b *payload.Index, placed map[string]onnx.ExternalRef, res *Result) {
	var known []string
	for t := range merged.Initializers() {
		if ref, ok := a.Get(t.Name); ok {
			ref.File = r.MergedPayload
			t.SetExternalRef(ref)
			res.FromA++
			res.Resolved++
			continue
		}
		if ref, ok := placed[t.Name]; ok {
			t.SetExternalRef(ref)
			res.FromB++
			res.Resolved++
			continue
		}

		if known == nil {
			known = append(a.Names(), b.Names()...)
		}
		u := Unresolved{Name: t.Name, External: t.IsExternal()}
		u.Closest, u.Distance = closest(t.Name, known)
		if !u.External {
			res.Inline++
		}
		res.Unresolved = append(res.Unresolved, u)
	}
}

func closest(name string, known []string) (string, int) {
	best, dist := "", -1
	for _, k := range known {
		d := levenshtein.ComputeDistance(name, k)
		if dist < 0 || d < dist {
			best, dist = k, d
		}
	}
	return best, dist
}

// alias legt die Payload als Verweis auf die Payload von A an. Ein
// vorhandener Verweis auf dieselbe Datei bleibt stehen.
func (r *Reconciler) alias(res *Result, fileA string) error {
	src := resolve(r.Dir, fileA)
	dst := res.Payload

	srcInfo, err := os.Stat(src)
	if err != nil {
		return ioError(err)
	}

	if lst, err := os.Lstat(dst); err == nil {
		if dstInfo, err := os.Stat(dst); err == nil && os.SameFile(srcInfo, dstInfo) {
			kind := LinkSymbolic
			if lst.Mode()&os.ModeSymlink == 0 {
				kind = LinkHard
			}
			res.Strategy = Aliased{Target: src, Link: kind}
			res.Reused = true
			return nil
		}
	}

	target := src
	if rel, err := filepath.Rel(filepath.Dir(dst), src); err == nil {
		target = rel
	}

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".link")
	os.Remove(tmp)

	kind := LinkSymbolic
	if err := os.Symlink(target, tmp); err != nil {
		r.logger().Debug("symlink failed, trying hard link", "error", err)
		if err := os.Link(src, tmp); err != nil {
			return ioError(err)
		}
		kind = LinkHard
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return ioError(err)
	}

	res.Strategy = Aliased{Target: src, Link: kind}
	return nil
}

// construct kopiert A als Praefix und haengt die Fenster aus B an.
// Eine vorhandene Datei mit der erwarteten Groesse wird wiederverwendet.
// b.File() hat bereits sichergestellt, dass alle Fenster in einer Datei liegen.
func (r *Reconciler) construct(ctx context.Context, res *Result, fileA string, unique []string, b *payload.Index) error {
	src := resolve(r.Dir, fileA)
	srcInfo, err := os.Stat(src)
	if err != nil {
		return ioError(err)
	}

	plan := Constructed{BaseOffset: uint64(srcInfo.Size())}
	end := plan.BaseOffset
	for _, name := range unique {
		ref, _ := b.Get(name)
		plan.Appended = append(plan.Appended, Placement{
			Name: name,
			Ref:  onnx.ExternalRef{File: r.MergedPayload, Offset: end, Length: ref.Length},
		})
		end += ref.Length
	}
	res.Strategy = plan

	if info, err := os.Lstat(res.Payload); err == nil && info.Mode().IsRegular() && uint64(info.Size()) == plan.Size() {
		res.Reused = true
		return nil
	}

	c := &copier{
		ctx:      ctx,
		buf:      make([]byte, r.bufferSize()),
		total:    plan.Size(),
		metrics:  r.Metrics,
		progress: r.Progress,
	}
	return writeAtomic(res.Payload, func(f *os.File) error {
		if err := c.copyFile(f, src); err != nil {
			return err
		}
		for _, name := range unique {
			ref, _ := b.Get(name)
			if err := c.copyWindow(f, r.Dir, ref); err != nil {
				return fmt.Errorf("tensor %q: %w", name, err)
			}
		}
		if c.written != plan.Size() {
			return fmt.Errorf("%d bytes geschrieben, %d erwartet", c.written, plan.Size())
		}
		return nil
	})
}

func (r *Reconciler) bufferSize() int {
	if r.BufferSize > 0 {
		return r.BufferSize
	}
	return DefaultBufferSize
}

// Persist schreibt die Strukturdatei atomisch. Muss nach der Payload
// geschrieben werden, die Strukturdatei markiert die abgeschlossene Stufe.
func Persist(merged *onnx.Model, path string) error {
	if err := onnx.Save(path, merged); err != nil {
		return ioError(err)
	}
	return nil
}

func resolve(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
