// Package merge - Zusammenfuehrung von decoder und decoder_with_past
//
// Dieses Modul enthaelt den mitgelieferten Merge-Kollaborateur:
//   - Decoders: Ein If-Knoten auf use_cache_branch waehlt zwischen den
//     beiden Graph-Koerpern; Initializer werden ueber ihren Inhalt dedupliziert
//     und in den aeusseren Graphen verschoben
//   - Ausgaben werden ueber Namen abgeglichen, fehlende Zweig-Ausgaben
//     werden mit leeren Konstanten aufgefuellt
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/payload"
)

// DefaultCacheInput ist der Name der booleschen Zweig-Eingabe
const DefaultCacheInput = "use_cache_branch"

// Decoders fuehrt einen Decoder und seine with-past Variante zusammen
type Decoders struct {
	// CacheInput ist der Name der Zweig-Eingabe (Default: use_cache_branch)
	CacheInput string

	// Strict verlangt identische Ausgabenamen in beiden Graphen
	Strict bool

	// Logger fuer Namenskonflikte (Default: slog.Default())
	Logger *slog.Logger
}

// Merge implementiert Merger. then_branch ist withPast, else_branch ist decoder.
func (d Decoders) Merge(ctx context.Context, decoder, withPast *onnx.Model, deref payload.Dereferencer) (*onnx.Model, error) {
	if decoder.Graph == nil || withPast.Graph == nil {
		return nil, fmt.Errorf("graph fehlt")
	}
	cacheInput := d.CacheInput
	if cacheInput == "" {
		cacheInput = DefaultCacheInput
	}

	a, b := decoder.Graph, withPast.Graph
	if d.Strict && !slices.Equal(valueNames(a.Outputs), valueNames(b.Outputs)) {
		return nil, fmt.Errorf("ausgaben unterscheiden sich: %v != %v", valueNames(a.Outputs), valueNames(b.Outputs))
	}
	if slices.Contains(valueNames(a.Inputs), cacheInput) || slices.Contains(valueNames(b.Inputs), cacheInput) {
		return nil, fmt.Errorf("eingabe %q existiert bereits", cacheInput)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	initializers, err := dedupInitializers(ctx, a, b, deref, logger)
	if err != nil {
		return nil, err
	}

	outputs := unionValues(a.Outputs, b.Outputs)
	elseBranch := branch(a, outputs)
	thenBranch := branch(b, outputs)

	ifNode := &onnx.Node{
		Name:    "decoder_merged::if",
		OpType:  "If",
		Inputs:  []string{cacheInput},
		Outputs: valueNames(outputs),
		Attributes: []*onnx.Attribute{
			{Name: "then_branch", Type: onnx.AttributeGraph, Graph: thenBranch},
			{Name: "else_branch", Type: onnx.AttributeGraph, Graph: elseBranch},
		},
	}

	inputs := unionValues(a.Inputs, b.Inputs)
	inputs = append(inputs, onnx.NewTensorValueInfo(cacheInput, onnx.DataTypeBool, []int64{1}))

	merged := decoder.CloneHeader()
	merged.IRVersion = max(decoder.IRVersion, withPast.IRVersion)
	merged.OpsetImports = unionOpsets(decoder.OpsetImports, withPast.OpsetImports)
	merged.Graph = &onnx.Graph{
		Name:         "merged_decoder",
		Nodes:        []*onnx.Node{ifNode},
		Initializers: initializers,
		Inputs:       inputs,
		Outputs:      outputs,
	}
	return merged, nil
}

// contentKey identifiziert einen Initializer ueber Typ, Form und Inhalt
func contentKey(t *onnx.Tensor, content []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d|%v|", t.DataType, t.Dims)
	sb.Write(content)
	return sb.String()
}

// dedupInitializers sammelt alle Initializer beider Graphen im aeusseren
// Graphen. Inhaltsgleiche Tensoren aus b werden auf den Namen aus a
// umgebogen. Bei gleichem Namen mit anderem Inhalt gewinnt a: Namen
// identifizieren Gewichte, der Tensor aus b wird verworfen.
func dedupInitializers(ctx context.Context, a, b *onnx.Graph, deref payload.Dereferencer, logger *slog.Logger) ([]*onnx.Tensor, error) {
	byKey := make(map[string]string)
	byName := make(map[string]string)
	out := make([]*onnx.Tensor, 0, len(a.Initializers)+len(b.Initializers))

	for _, t := range a.Initializers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := deref.Bytes(t)
		if err != nil {
			return nil, fmt.Errorf("initializer %q: %w", t.Name, err)
		}
		key := contentKey(t, content)
		if _, ok := byKey[key]; !ok {
			byKey[key] = t.Name
		}
		byName[t.Name] = key
		out = append(out, t)
	}

	renames := make(map[string]string)
	for _, t := range b.Initializers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := deref.Bytes(t)
		if err != nil {
			return nil, fmt.Errorf("initializer %q: %w", t.Name, err)
		}
		key := contentKey(t, content)

		if existing, ok := byKey[key]; ok {
			if existing != t.Name {
				renames[t.Name] = existing
			}
			continue
		}
		if _, clash := byName[t.Name]; clash {
			logger.Warn("initializer name clash, keeping decoder tensor",
				"name", t.Name, "dims", t.Dims, "data_type", t.DataType)
			continue
		}
		byKey[key] = t.Name
		byName[t.Name] = key
		out = append(out, t)
	}

	if len(renames) > 0 {
		renameInputs(b, renames)
	}
	return out, nil
}

// renameInputs ersetzt Tensor-Namen in Knoten-Eingaben, auch in Subgraphen
func renameInputs(g *onnx.Graph, renames map[string]string) {
	for _, n := range g.Nodes {
		for i, in := range n.Inputs {
			if to, ok := renames[in]; ok {
				n.Inputs[i] = to
			}
		}
		for _, a := range n.Attributes {
			if a.Graph != nil {
				renameInputs(a.Graph, renames)
			}
			for _, sub := range a.Graphs {
				renameInputs(sub, renames)
			}
		}
	}
}

// branch baut einen If-Zweig aus dem Koerper von g, dessen Ausgaben in der
// Reihenfolge von outputs stehen
func branch(g *onnx.Graph, outputs []*onnx.ValueInfo) *onnx.Graph {
	produced := make(map[string]*onnx.ValueInfo, len(g.Outputs))
	for _, vi := range g.Outputs {
		produced[vi.Name] = vi
	}

	br := &onnx.Graph{
		Name:      g.Name,
		Nodes:     slices.Clone(g.Nodes),
		ValueInfo: g.ValueInfo,
	}
	for _, out := range outputs {
		if vi, ok := produced[out.Name]; ok {
			br.Outputs = append(br.Outputs, vi)
			continue
		}

		elem := out.ElemType()
		if elem == onnx.DataTypeUndefined {
			elem = onnx.DataTypeFloat
		}
		br.Nodes = append(br.Nodes, &onnx.Node{
			Name:    out.Name + "_empty",
			OpType:  "Constant",
			Outputs: []string{out.Name},
			Attributes: []*onnx.Attribute{{
				Name:   "value",
				Type:   onnx.AttributeTensor,
				Tensor: &onnx.Tensor{Name: out.Name + "_empty_value", DataType: elem, Dims: []int64{0}},
			}},
		})
		br.Outputs = append(br.Outputs, out)
	}
	return br
}

func valueNames(vs []*onnx.ValueInfo) []string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Name
	}
	return names
}

// unionValues gibt a gefolgt von den Eintraegen aus b zurueck, die a nicht hat
func unionValues(a, b []*onnx.ValueInfo) []*onnx.ValueInfo {
	out := append([]*onnx.ValueInfo(nil), a...)
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[v.Name] = true
	}
	for _, v := range b {
		if !seen[v.Name] {
			seen[v.Name] = true
			out = append(out, v)
		}
	}
	return out
}

// unionOpsets nimmt pro Domain die hoechste Version
func unionOpsets(a, b []onnx.OperatorSetID) []onnx.OperatorSetID {
	out := append([]onnx.OperatorSetID(nil), a...)
	for _, o := range b {
		i := slices.IndexFunc(out, func(x onnx.OperatorSetID) bool { return x.Domain == o.Domain })
		if i < 0 {
			out = append(out, o)
		} else {
			out[i].Version = max(out[i].Version, o.Version)
		}
	}
	return out
}
