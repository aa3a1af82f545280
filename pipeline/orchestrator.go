// MODUL: pipeline
// ZWECK: Ablaufsteuerung Laden -> Merge -> Abgleich -> Quantisierung -> Upload
// INPUT: Config, Merger, Quantizer und Store (Hub)
// OUTPUT: Report mit Ergebnis pro Stufe, Artefakte im Arbeitsverzeichnis
// NEBENEFFEKTE: Schreibt Dateien in Config.Dir, Netzwerkzugriffe ueber Store
// ABHAENGIGKEITEN: merge, reconcile, quantize, hub, metrics, google/uuid
// HINWEISE: Jede Stufe wird uebersprungen, wenn ihr Artefakt schon existiert.
//           Ein erneuter Lauf setzt an der ersten unvollstaendigen Stufe fort.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/leks-forever/model-convert/hub"
	"github.com/leks-forever/model-convert/merge"
	"github.com/leks-forever/model-convert/metrics"
	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/payload"
	"github.com/leks-forever/model-convert/quantize"
	"github.com/leks-forever/model-convert/reconcile"
)

// Store ist der entfernte Speicher fuer Quellen und Ergebnisse
type Store interface {
	Download(ctx context.Context, repo, remotePath, localPath string) (hub.DownloadedFile, error)
	ExistsAll(ctx context.Context, repo string, files []hub.File) ([]bool, error)
	UploadAll(ctx context.Context, repo string, files []hub.File) (int, error)
}

// Orchestrator fuehrt die Stufen nacheinander aus. Ein Orchestrator darf
// nicht gleichzeitig mehrfach laufen.
type Orchestrator struct {
	Config    Config
	Merger    merge.Merger
	Quantizer quantize.Quantizer
	Store     Store
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// Progress erhaelt den Fortschritt der Payload-Kopie
	Progress func(written, total uint64)

	state State
}

// State liefert den zuletzt erreichten Zustand
func (o *Orchestrator) State() State {
	return o.state
}

type source struct {
	name  string
	model *onnx.Model
	index *payload.Index
}

// run haelt den Zustand eines einzelnen Laufs
type run struct {
	logger  *slog.Logger
	report  *Report
	sources []*source
	merged  *onnx.Model
}

type stage struct {
	state State
	fn    func(ctx context.Context, r *run) (Outcome, string, error)
}

// Run fuehrt alle Stufen aus. Bei einem Fehler haelt der Lauf an der Stufe
// an; der Fehler ist ein *StageError, der Bericht ist trotzdem gefuellt.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	if err := o.Config.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &run{
		logger: logger.With("run", runID),
		report: &Report{RunID: runID},
	}

	stages := []stage{
		{Loaded, o.load},
		{Merged, o.merge},
		{Reconciled, o.reconcile},
		{Quantized, o.quantize},
		{Uploaded, o.upload},
	}

	o.state = Idle
	var failed error
	for _, s := range stages {
		if failed != nil {
			r.report.Stages = append(r.report.Stages, StageResult{Stage: s.state, Outcome: OutcomePending})
			continue
		}

		start := time.Now()
		outcome, detail, err := s.fn(ctx, r)
		d := time.Since(start)
		if err != nil {
			outcome = OutcomeFailed
			failed = &StageError{Stage: s.state, Err: err}
			r.logger.Error("stage failed", "stage", s.state, "error", err)
		} else {
			o.state = s.state
			r.logger.Info("stage finished", "stage", s.state, "outcome", outcome, "duration", d.Round(time.Millisecond))
		}
		o.Metrics.ObserveStage(s.state.String(), string(outcome), d)
		r.report.Stages = append(r.report.Stages, StageResult{Stage: s.state, Outcome: outcome, Duration: d, Detail: detail, Err: err})
	}
	if failed == nil {
		o.state = Done
	}

	r.report.Files = o.fileSizes()
	if o.Config.MetricsFile != "" {
		if err := o.Metrics.WriteFile(o.Config.MetricsFile); err != nil {
			r.logger.Warn("could not write metrics", "path", o.Config.MetricsFile, "error", err)
		}
	}
	return r.report, failed
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// load stellt sicher, dass beide Quellgraphen und ihre Payloads lokal
// vorliegen, und baut die Indizes
func (o *Orchestrator) load(ctx context.Context, r *run) (Outcome, string, error) {
	cfg := o.Config
	fetched := 0

	for _, name := range []string{cfg.Decoder, cfg.WithPast} {
		n, err := o.fetch(ctx, r, name)
		if err != nil {
			return "", "", err
		}
		fetched += n

		m, err := onnx.Load(cfg.Path(name))
		if err != nil {
			return "", "", err
		}
		idx, err := payload.Build(m)
		if err != nil {
			return "", "", fmt.Errorf("%s: %w", name, err)
		}
		for _, f := range idx.Files() {
			n, err := o.fetch(ctx, r, f)
			if err != nil {
				return "", "", err
			}
			fetched += n
		}

		r.sources = append(r.sources, &source{name: name, model: m, index: idx})
		r.report.Sources = append(r.report.Sources, SourceSummary{
			Name:         name,
			Nodes:        m.NodeCount(),
			External:     idx.Len(),
			PayloadBytes: idx.TotalBytes(),
		})
		r.logger.Info("loaded source", "name", name, "nodes", m.NodeCount(), "external", idx.Len())
	}

	a, b := r.sources[0].index, r.sources[1].index
	r.report.Unique = payload.UniqueTo(b, a)
	r.report.UniqueFrom = cfg.WithPast
	r.logger.Debug("tensor sets", "shared", len(payload.Shared(a, b)), "unique", len(r.report.Unique))

	if fetched == 0 {
		return OutcomeSkipped, "sources present", nil
	}
	return OutcomeDone, fmt.Sprintf("%d files downloaded", fetched), nil
}

// fetch laedt name herunter, falls die Datei lokal fehlt
func (o *Orchestrator) fetch(ctx context.Context, r *run, name string) (int, error) {
	cfg := o.Config
	if exists(cfg.Path(name)) {
		return 0, nil
	}
	if o.Store == nil || !cfg.Download {
		return 0, fmt.Errorf("%w: %s", ErrMissingSource, cfg.Path(name))
	}

	r.logger.Info("downloading source", "name", name, "repo", cfg.sourceRepo())
	if _, err := o.Store.Download(ctx, cfg.sourceRepo(), cfg.RemotePath(name), cfg.Path(name)); err != nil {
		return 0, err
	}
	return 1, nil
}

func (o *Orchestrator) merge(ctx context.Context, r *run) (Outcome, string, error) {
	cfg := o.Config
	path := cfg.Path(cfg.Merged)
	if exists(path) {
		return OutcomeSkipped, cfg.Merged + " present", nil
	}

	merger := o.Merger
	if merger == nil {
		merger = merge.Decoders{Strict: cfg.Strict, Logger: r.logger}
	}
	reader := payload.NewReader(cfg.Dir)
	reader.Metrics = o.Metrics

	adapter := &merge.Adapter{Merger: merger, Real: reader, Metrics: o.Metrics, Logger: r.logger}
	merged, err := adapter.Merge(ctx, r.sources[0].model, r.sources[1].model)
	if err != nil {
		return "", "", err
	}
	// die Quellmodelle gehoeren jetzt dem Merger
	r.sources[0].model, r.sources[1].model = nil, nil

	// Referenzen zeigen noch auf die Quellen; reconcile erkennt das ueber Verify
	if err := onnx.Save(path, merged); err != nil {
		return "", "", err
	}
	r.merged = merged
	return OutcomeDone, fmt.Sprintf("%d nodes", merged.NodeCount()), nil
}

// reconciled prueft, ob Payload und Strukturdatei vollstaendig abgeglichen sind
func (o *Orchestrator) reconciled() bool {
	cfg := o.Config
	if !exists(cfg.Path(cfg.MergedPayload())) {
		return false
	}
	m, err := onnx.Load(cfg.Path(cfg.Merged))
	if err != nil {
		return false
	}
	return reconcile.Verify(m, cfg.Dir, cfg.MergedPayload()) == nil
}

func (o *Orchestrator) reconcile(ctx context.Context, r *run) (Outcome, string, error) {
	cfg := o.Config
	if o.reconciled() {
		return OutcomeSkipped, cfg.MergedPayload() + " present", nil
	}

	merged := r.merged
	if merged == nil {
		r.logger.Info("reloading merged graph", "path", cfg.Merged)
		m, err := onnx.Load(cfg.Path(cfg.Merged))
		if err != nil {
			return "", "", err
		}
		merged = m
	}

	rec := &reconcile.Reconciler{
		Dir:           cfg.Dir,
		MergedPayload: cfg.MergedPayload(),
		BufferSize:    int(cfg.CopyBuffer),
		Metrics:       o.Metrics,
		Logger:        r.logger,
		Progress:      o.Progress,
	}
	res, err := rec.Reconcile(ctx, merged, r.sources[0].index, r.sources[1].index)
	if err != nil {
		return "", "", err
	}
	r.report.Reconcile = res
	if w := res.Warning(); w != nil {
		r.logger.Warn("unresolved tensors", "error", w)
	}

	if err := reconcile.Verify(merged, cfg.Dir, cfg.MergedPayload()); err != nil {
		return "", "", err
	}
	if err := reconcile.Persist(merged, cfg.Path(cfg.Merged)); err != nil {
		return "", "", err
	}
	r.merged = merged
	return OutcomeDone, res.Strategy.Name(), nil
}

func (o *Orchestrator) quantize(ctx context.Context, r *run) (Outcome, string, error) {
	cfg := o.Config
	if !cfg.Quantize || o.Quantizer == nil {
		return OutcomeDisabled, "", nil
	}
	dst := quantize.DestPath(cfg.Path(cfg.Merged))
	if exists(dst) {
		return OutcomeSkipped, filepath.Base(dst) + " present", nil
	}

	job, err := o.Quantizer.Quantize(ctx, quantize.Job{
		Graph:   cfg.Path(cfg.Merged),
		Payload: cfg.Path(cfg.MergedPayload()),
	})
	if err != nil {
		return "", "", err
	}
	return OutcomeDone, filepath.Base(job.Graph), nil
}

func (o *Orchestrator) upload(ctx context.Context, r *run) (Outcome, string, error) {
	cfg := o.Config
	if !cfg.Upload || o.Store == nil {
		return OutcomeDisabled, "", nil
	}

	locals, err := cfg.UploadFiles()
	if err != nil {
		return "", "", err
	}
	if len(locals) == 0 {
		return "", "", errors.New("keine dateien fuer den upload")
	}
	files := make([]hub.File, len(locals))
	for i, l := range locals {
		files[i] = hub.File{Local: l, Remote: cfg.RemotePath(l)}
	}

	present, err := o.Store.ExistsAll(ctx, cfg.Repo, files)
	if err != nil {
		return "", "", err
	}
	missing := 0
	for _, p := range present {
		if !p {
			missing++
		}
	}
	if missing == 0 {
		return OutcomeSkipped, fmt.Sprintf("%d files present in %s", len(files), cfg.Repo), nil
	}

	n, err := o.Store.UploadAll(ctx, cfg.Repo, files)
	if err != nil {
		return "", "", err
	}
	return OutcomeDone, fmt.Sprintf("%d files uploaded to %s", n, cfg.Repo), nil
}

// fileSizes listet die geschriebenen Artefakte; Aliase zeigen die Zielgroesse
func (o *Orchestrator) fileSizes() []FileSummary {
	cfg := o.Config
	var out []FileSummary
	for _, name := range []string{cfg.Merged, cfg.MergedPayload(), filepath.Base(quantize.DestPath(cfg.Merged))} {
		info, err := os.Stat(cfg.Path(name))
		if err != nil {
			continue
		}
		out = append(out, FileSummary{Name: name, Size: info.Size()})
	}
	return out
}
