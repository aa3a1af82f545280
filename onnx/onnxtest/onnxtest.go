// Package onnxtest - Synthetische Decoder-Graphen fuer Tests
//
// Dieses Modul enthaelt:
// - Spec: Beschreibung eines Initializers (extern oder inline)
// - Model: Baut ein Modell mit Identity-Knoten pro Initializer
// - WritePair: Schreibt Strukturdatei und Payload-Datei in ein Verzeichnis
// - Payload: Deterministische Testbytes
package onnxtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leks-forever/model-convert/onnx"
)

// Spec beschreibt einen Initializer. Inline != nil erzeugt einen Inline-Tensor.
type Spec struct {
	Name   string
	Offset uint64
	Length uint64
	Inline []byte
}

// Option veraendert das erzeugte Modell
type Option func(*onnx.Model)

// WithInputs fuegt weitere Graph-Eingaben hinzu
func WithInputs(names ...string) Option {
	return func(m *onnx.Model) {
		for _, n := range names {
			m.Graph.Inputs = append(m.Graph.Inputs, onnx.NewTensorValueInfo(n, onnx.DataTypeFloat, []int64{-1, -1}))
		}
	}
}

// WithOutputs fuegt weitere Graph-Ausgaben mit eigenen Identity-Knoten hinzu
func WithOutputs(names ...string) Option {
	return func(m *onnx.Model) {
		for _, n := range names {
			m.Graph.Nodes = append(m.Graph.Nodes, &onnx.Node{
				Name:    n + "_identity",
				OpType:  "Identity",
				Inputs:  []string{"logits"},
				Outputs: []string{n},
			})
			m.Graph.Outputs = append(m.Graph.Outputs, onnx.NewTensorValueInfo(n, onnx.DataTypeFloat, []int64{-1}))
		}
	}
}

// Model baut ein Modell, dessen externe Initializer auf payload zeigen
func Model(graphName, payload string, specs []Spec, opts ...Option) *onnx.Model {
	g := &onnx.Graph{
		Name:   graphName,
		Inputs: []*onnx.ValueInfo{onnx.NewTensorValueInfo("input_ids", onnx.DataTypeInt64, []int64{-1, -1})},
	}

	var sum []string
	for _, s := range specs {
		t := &onnx.Tensor{Name: s.Name, DataType: onnx.DataTypeUint8, Dims: []int64{int64(s.Length)}}
		if s.Inline != nil {
			t.Dims = []int64{int64(len(s.Inline))}
			t.RawData = s.Inline
		} else {
			t.SetExternalRef(onnx.ExternalRef{File: payload, Offset: s.Offset, Length: s.Length})
		}
		g.Initializers = append(g.Initializers, t)

		out := s.Name + "_out"
		g.Nodes = append(g.Nodes, &onnx.Node{
			Name:    s.Name + "_identity",
			OpType:  "Identity",
			Inputs:  []string{s.Name},
			Outputs: []string{out},
		})
		sum = append(sum, out)
	}
	g.Nodes = append(g.Nodes, &onnx.Node{Name: "logits_sum", OpType: "Sum", Inputs: sum, Outputs: []string{"logits"}})
	g.Outputs = []*onnx.ValueInfo{onnx.NewTensorValueInfo("logits", onnx.DataTypeFloat, []int64{-1})}

	m := &onnx.Model{
		IRVersion:    8,
		ProducerName: "onnxtest",
		OpsetImports: []onnx.OperatorSetID{{Domain: "", Version: 17}},
		Graph:        g,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WritePair schreibt <base>.onnx und <base>.onnx_data nach dir
func WritePair(t testing.TB, dir, base string, data []byte, specs []Spec, opts ...Option) (graphPath, payloadPath string) {
	t.Helper()

	payloadName := base + ".onnx_data"
	graphPath = filepath.Join(dir, base+".onnx")
	payloadPath = filepath.Join(dir, payloadName)

	if err := os.WriteFile(payloadPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := onnx.Save(graphPath, Model(base, payloadName, specs, opts...)); err != nil {
		t.Fatal(err)
	}
	return graphPath, payloadPath
}

// Payload liefert n deterministische Bytes, abhaengig von seed
func Payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}
