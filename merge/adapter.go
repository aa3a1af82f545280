// Package merge - Adapter um den strukturellen Merge
//
// Dieses Modul enthaelt:
// - Merger: Schnittstelle des strukturellen Merge-Kollaborateurs
// - Adapter: Ruft den Merger mit aktiver Fingerprint-Substitution auf
// - ErrStructuralMerge: Fehler des Kollaborateurs, unveraendert eingepackt
//
// Der Adapter kennt keine Payload-Bytes. Die ExternalRefs des Ergebnisses
// sind nicht garantiert gueltig; das repariert reconcile.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leks-forever/model-convert/fingerprint"
	"github.com/leks-forever/model-convert/metrics"
	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/payload"
)

// ErrStructuralMerge kennzeichnet Fehler des Merge-Kollaborateurs
var ErrStructuralMerge = errors.New("merge: struktureller merge fehlgeschlagen")

// Merger fuehrt zwei Strukturgraphen zusammen. deref ist der einzige Weg,
// den Inhalt eines Initializers zu lesen. Die Eingaben gehen in den Besitz
// des Mergers ueber.
type Merger interface {
	Merge(ctx context.Context, decoder, withPast *onnx.Model, deref payload.Dereferencer) (*onnx.Model, error)
}

// Adapter kapselt einen Merger in eine Fingerprint-Substitution
type Adapter struct {
	Merger  Merger
	Real    payload.Dereferencer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Merge fuehrt den strukturellen Merge aus. Die Substitution wird auch bei
// Fehlern und Panics vor der Rueckkehr aufgehoben. Keine Wiederholungen.
func (a *Adapter) Merge(ctx context.Context, decoder, withPast *onnx.Model) (*onnx.Model, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sub := fingerprint.New(a.Real, a.Metrics)
	defer sub.Release()

	merged, err := a.Merger.Merge(ctx, decoder, withPast, sub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStructuralMerge, err)
	}
	if merged == nil || merged.Graph == nil {
		return nil, fmt.Errorf("%w: leeres ergebnis", ErrStructuralMerge)
	}

	logger.Debug("structural merge finished", "nodes", merged.NodeCount(), "surrogates", sub.Surrogates())
	return merged, nil
}
