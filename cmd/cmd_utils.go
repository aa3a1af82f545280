// cmd_utils.go - Gemeinsame Hilfsfunktionen
// Hauptfunktionen: configFromFlags, newHubClient, newQuantizer, progressLine
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leks-forever/model-convert/envconfig"
	"github.com/leks-forever/model-convert/format"
	"github.com/leks-forever/model-convert/hub"
	"github.com/leks-forever/model-convert/pipeline"
	"github.com/leks-forever/model-convert/quantize"
)

// configFromFlags - Laedt Env-Defaults und --config, gesetzte Flags gewinnen
func configFromFlags(cmd *cobra.Command) (pipeline.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	cfg, err := pipeline.LoadConfig(path)
	if err != nil {
		return cfg, err
	}

	for name, dst := range map[string]*string{
		"dir":          &cfg.Dir,
		"decoder":      &cfg.Decoder,
		"with-past":    &cfg.WithPast,
		"merged":       &cfg.Merged,
		"repo":         &cfg.Repo,
		"source-repo":  &cfg.SourceRepo,
		"revision":     &cfg.Revision,
		"quantize-cmd": &cfg.QuantizeCmd,
		"metrics-file": &cfg.MetricsFile,
	} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}

	// Flags mit negierter Bedeutung
	for name, dst := range map[string]*bool{
		"no-download": &cfg.Download,
		"no-quantize": &cfg.Quantize,
		"no-upload":   &cfg.Upload,
	} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			v, _ := flags.GetBool(name)
			*dst = !v
		}
	}

	if flags.Changed("strict") {
		cfg.Strict, _ = flags.GetBool("strict")
	}
	if flags.Changed("copy-buffer") {
		cfg.CopyBuffer, _ = flags.GetUint64("copy-buffer")
	}
	return cfg, nil
}

// newHubClient - Hub-Client mit Fortschrittsanzeige auf stderr
func newHubClient(cmd *cobra.Command, cfg pipeline.Config) *hub.Client {
	p := newProgressLine(cmd.ErrOrStderr())
	return hub.NewClient(
		hub.WithRevision(cfg.Revision),
		hub.WithConcurrency(int(envconfig.Concurrency())),
		hub.WithLogger(slog.Default()),
		hub.WithProgress(p.transfer),
	)
}

// newQuantizer - Quantisierer; Ausgaben des Kommandos landen im Debug-Log
func newQuantizer(cfg pipeline.Config) *quantize.Exec {
	return &quantize.Exec{
		Command: quantize.ParseCommand(cfg.QuantizeCmd),
		Dir:     cfg.Dir,
		Logger:  slog.Default(),
		Output: func(line string) {
			slog.Debug("quantize", "output", line)
		},
	}
}

// printFileSize - Gibt Name und Groesse einer Datei aus
func printFileSize(w io.Writer, path string) {
	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(w, "%s: %v\n", filepath.Base(path), err)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", filepath.Base(path), format.HumanBytes(info.Size()))
}

// progressLine - Einzeilige Fortschrittsanzeige, nur auf Terminals aktiv
type progressLine struct {
	mu   sync.Mutex
	w    io.Writer
	tty  bool
	last time.Time
}

func newProgressLine(w io.Writer) *progressLine {
	p := &progressLine{w: w}
	if f, ok := w.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *progressLine) print(label string, done, total uint64) {
	if !p.tty {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	finished := done >= total
	if !finished && time.Since(p.last) < 100*time.Millisecond {
		return
	}
	p.last = time.Now()

	fmt.Fprintf(p.w, "\r\033[K%s %s/%s", label, format.HumanBytes2(done), format.HumanBytes2(total))
	if finished {
		fmt.Fprintln(p.w)
	}
}

// copy - Fortschritt der Payload-Kopie
func (p *progressLine) copy(written, total uint64) {
	p.print("copying payload", written, total)
}

// transfer - Fortschritt eines Hub-Transfers
func (p *progressLine) transfer(path string, done, total int64) {
	if total <= 0 {
		return
	}
	p.print(filepath.Base(path), uint64(max(done, 0)), uint64(total))
}
