// MODUL: quantize
// ZWECK: Dynamische int8-Quantisierung beliebiger ONNX-Graphen ueber ein externes Kommando
// INPUT: Job mit Strukturdatei (und optional Payload-Datei)
// OUTPUT: Job der quantisierten Variante (<stem>_quantized.onnx)
// NEBENEFFEKTE: Startet einen Prozess, schreibt ueber <stem>_quantized.partial.onnx und benennt um
// ABHAENGIGKEITEN: os/exec (stdlib), python3 + onnxruntime (extern)
// HINWEISE: Vorhandene Zieldateien werden nicht neu erzeugt

package quantize

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Konstanten
const (
	Suffix                = "_quantized"
	PythonCommand         = "python3"
	FallbackPythonCommand = "python"

	defaultScript = "import sys; from onnxruntime.quantization import quantize_dynamic, QuantType; " +
		"quantize_dynamic(sys.argv[1], sys.argv[2], weight_type=QuantType.QUInt8)"
)

// Fehler-Definitionen
var (
	ErrPythonNotFound = errors.New("quantize: python nicht gefunden")
	ErrFailed         = errors.New("quantize: quantisierung fehlgeschlagen")
	ErrNoOutput       = errors.New("quantize: ausgabe fehlt")
)

// Job beschreibt eine Graph-Datei und ihre optionale Payload
type Job struct {
	Graph   string
	Payload string
}

// Quantizer erzeugt eine quantisierte Variante eines Graphen
type Quantizer interface {
	Quantize(ctx context.Context, src Job) (Job, error)
}

// DestPath haengt _quantized an den Dateinamen an
func DestPath(src string) string {
	ext := filepath.Ext(src)
	return strings.TrimSuffix(src, ext) + Suffix + ext
}

func partialPath(dst string) string {
	ext := filepath.Ext(dst)
	return strings.TrimSuffix(dst, ext) + ".partial" + ext
}

// Exec fuehrt ein Kommando pro Graph aus. {src} und {dst} in Command
// werden ersetzt. Ohne Command wird onnxruntime ueber python aufgerufen.
type Exec struct {
	Command []string
	Dir     string
	Logger  *slog.Logger

	// Output erhaelt jede Zeile von stdout und stderr
	Output func(line string)

	pythonOnce sync.Once
	pythonPath string
}

// ParseCommand zerlegt ein Kommando an Leerzeichen; Quotes werden nicht ausgewertet
func ParseCommand(s string) []string {
	return strings.Fields(s)
}

func (e *Exec) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Quantize erzeugt DestPath(src.Graph). Existiert das Ziel schon, wird es
// ohne Prozessstart zurueckgegeben.
func (e *Exec) Quantize(ctx context.Context, src Job) (Job, error) {
	dst := Job{Graph: DestPath(src.Graph)}
	if _, err := os.Stat(dst.Graph); err == nil {
		e.logger().Info("quantized graph already exists, skipping", "path", dst.Graph)
		dst.Payload = payloadOf(dst.Graph)
		return dst, nil
	}
	if _, err := os.Stat(src.Graph); err != nil {
		return Job{}, err
	}

	partial := partialPath(dst.Graph)
	os.Remove(partial)

	args, err := e.args(src.Graph, partial)
	if err != nil {
		return Job{}, err
	}

	e.logger().Info("quantizing", "src", filepath.Base(src.Graph), "dst", filepath.Base(dst.Graph))
	if err := e.run(ctx, args); err != nil {
		os.Remove(partial)
		return Job{}, err
	}

	if _, err := os.Stat(partial); err != nil {
		return Job{}, fmt.Errorf("%w: %s", ErrNoOutput, partial)
	}
	if err := os.Rename(partial, dst.Graph); err != nil {
		os.Remove(partial)
		return Job{}, err
	}

	dst.Payload = payloadOf(dst.Graph)
	return dst, nil
}

// payloadOf gibt <graph>_data zurueck, falls das Kommando eine Payload geschrieben hat
func payloadOf(graph string) string {
	p := graph + "_data"
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

func (e *Exec) args(src, dst string) ([]string, error) {
	if len(e.Command) == 0 {
		python, err := e.findPython()
		if err != nil {
			return nil, err
		}
		return []string{python, "-c", defaultScript, src, dst}, nil
	}

	r := strings.NewReplacer("{src}", src, "{dst}", dst)
	args := make([]string, len(e.Command))
	for i, a := range e.Command {
		args[i] = r.Replace(a)
	}
	return args, nil
}

func (e *Exec) findPython() (string, error) {
	e.pythonOnce.Do(func() {
		for _, cmd := range []string{PythonCommand, FallbackPythonCommand} {
			if p, err := exec.LookPath(cmd); err == nil {
				e.pythonPath = p
				return
			}
		}
	})
	if e.pythonPath == "" {
		return "", ErrPythonNotFound
	}
	return e.pythonPath, nil
}

func (e *Exec) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = e.Dir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start: %w", ErrFailed, err)
	}

	var stderr strings.Builder
	var wg sync.WaitGroup
	scan := func(r io.Reader, prefix string, keep *strings.Builder) {
		defer wg.Done()
		s := bufio.NewScanner(r)
		for s.Scan() {
			line := s.Text()
			if keep != nil {
				keep.WriteString(line + "\n")
			}
			if e.Output != nil {
				e.Output(prefix + line)
			}
		}
	}
	wg.Add(2)
	go scan(stdoutPipe, "", nil)
	go scan(stderrPipe, "[ERR] ", &stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v\n%s", ErrFailed, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
