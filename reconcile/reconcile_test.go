package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/leks-forever/model-convert/metrics"
	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/onnx/onnxtest"
	"github.com/leks-forever/model-convert/payload"
)

const mergedPayload = "decoder_model_merged.onnx_data"

var (
	specsA = []onnxtest.Spec{
		{Name: "w1", Offset: 0, Length: 100},
		{Name: "w2", Offset: 100, Length: 50},
	}
	specsB = []onnxtest.Spec{
		{Name: "w1", Offset: 0, Length: 100},
		{Name: "w2", Offset: 100, Length: 50},
		{Name: "w3_unique", Offset: 0, Length: 30},
	}
)

type fixture struct {
	dir          string
	dataA, dataB []byte
	a, b         *payload.Index
}

func newFixture(t *testing.T, specsB []onnxtest.Spec) *fixture {
	t.Helper()
	f := &fixture{
		dir:   t.TempDir(),
		dataA: onnxtest.Payload(150, 1),
		dataB: onnxtest.Payload(150, 2),
	}

	pa, _ := onnxtest.WritePair(t, f.dir, "decoder_model", f.dataA, specsA)
	pb, _ := onnxtest.WritePair(t, f.dir, "decoder_with_past_model", f.dataB, specsB)

	for _, p := range []struct {
		path string
		idx  **payload.Index
	}{{pa, &f.a}, {pb, &f.b}} {
		m, err := onnx.Load(p.path)
		require.NoError(t, err)
		*p.idx, err = payload.Build(m)
		require.NoError(t, err)
	}
	return f
}

// merged baut einen zusammengefuehrten Graphen mit veralteten Referenzen
func merged(specs []onnxtest.Spec) *onnx.Model {
	return onnxtest.Model("merged_decoder", "stale.onnx_data", specs)
}

func (f *fixture) window(t *testing.T, tensor *onnx.Tensor) []byte {
	t.Helper()
	b, err := payload.NewReader(f.dir).Bytes(tensor)
	require.NoError(t, err)
	return b
}

func refs(t *testing.T, m *onnx.Model) map[string]onnx.ExternalRef {
	t.Helper()
	out := make(map[string]onnx.ExternalRef)
	for tensor := range m.Initializers() {
		if !tensor.IsExternal() {
			continue
		}
		ref, err := tensor.ExternalRef()
		require.NoError(t, err)
		out[tensor.Name] = ref
	}
	return out
}

func TestReconcileConstructed(t *testing.T) {
	f := newFixture(t, specsB)
	m := merged(specsB)
	mt := metrics.New()

	var last [2]uint64
	r := &Reconciler{
		Dir:           f.dir,
		MergedPayload: mergedPayload,
		BufferSize:    7,
		Metrics:       mt,
		Progress:      func(w, total uint64) { last = [2]uint64{w, total} },
	}

	res, err := r.Reconcile(context.Background(), m, f.a, f.b)
	require.NoError(t, err)
	require.False(t, res.Reused)
	require.NoError(t, res.Warning())

	want := Constructed{
		BaseOffset: 150,
		Appended: []Placement{
			{Name: "w3_unique", Ref: onnx.ExternalRef{File: mergedPayload, Offset: 150, Length: 30}},
		},
	}
	if diff := cmp.Diff(Strategy(want), res.Strategy); diff != "" {
		t.Errorf("strategie falsch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(filepath.Join(f.dir, mergedPayload))
	require.NoError(t, err)
	require.Equal(t, int64(180), info.Size())
	require.Equal(t, [2]uint64{180, 180}, last)
	require.Equal(t, 180.0, testutil.ToFloat64(mt.BytesCopied))

	wantRefs := map[string]onnx.ExternalRef{
		"w1":        {File: mergedPayload, Offset: 0, Length: 100},
		"w2":        {File: mergedPayload, Offset: 100, Length: 50},
		"w3_unique": {File: mergedPayload, Offset: 150, Length: 30},
	}
	if diff := cmp.Diff(wantRefs, refs(t, m)); diff != "" {
		t.Errorf("referenzen falsch (-want +got):\n%s", diff)
	}

	// jedes Fenster enthaelt die Bytes der Quelle
	ts := m.Graph.Initializers
	require.Equal(t, f.dataA[0:100], f.window(t, ts[0]))
	require.Equal(t, f.dataA[100:150], f.window(t, ts[1]))
	require.Equal(t, f.dataB[0:30], f.window(t, ts[2]))

	require.Equal(t, 3, res.FromA+res.FromB)
	require.Equal(t, 1, res.FromB)
	require.NoError(t, Verify(m, f.dir, mergedPayload))
}

func TestReconcileAliased(t *testing.T) {
	f := newFixture(t, specsA)
	m := merged(specsA)
	r := &Reconciler{Dir: f.dir, MergedPayload: mergedPayload, Metrics: metrics.New()}

	res, err := r.Reconcile(context.Background(), m, f.a, f.b)
	require.NoError(t, err)

	alias, ok := res.Strategy.(Aliased)
	require.True(t, ok, "erwartet Aliased, bekommen %T", res.Strategy)
	require.Equal(t, filepath.Join(f.dir, "decoder_model.onnx_data"), alias.Target)
	require.Equal(t, 0.0, testutil.ToFloat64(r.Metrics.BytesCopied))

	path := filepath.Join(f.dir, mergedPayload)
	if alias.Link == LinkSymbolic {
		target, err := os.Readlink(path)
		require.NoError(t, err)
		require.Equal(t, "decoder_model.onnx_data", target)
	}

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, f.dataA, got)

	// Offsets bleiben, nur die Datei wechselt
	require.Equal(t, onnx.ExternalRef{File: mergedPayload, Offset: 100, Length: 50}, refs(t, m)["w2"])
	require.NoError(t, Verify(m, f.dir, mergedPayload))

	res, err = r.Reconcile(context.Background(), merged(specsA), f.a, f.b)
	require.NoError(t, err)
	require.True(t, res.Reused)
}

func TestReconcileIdempotent(t *testing.T) {
	f := newFixture(t, specsB)
	r := &Reconciler{Dir: f.dir, MergedPayload: mergedPayload}
	path := filepath.Join(f.dir, mergedPayload)

	_, err := r.Reconcile(context.Background(), merged(specsB), f.a, f.b)
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	m := merged(specsB)
	res, err := r.Reconcile(context.Background(), m, f.a, f.b)
	require.NoError(t, err)
	require.True(t, res.Reused)

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NoError(t, Verify(m, f.dir, mergedPayload))
}

func TestReconcileReplacesAlias(t *testing.T) {
	shared := newFixture(t, specsA)
	r := &Reconciler{Dir: shared.dir, MergedPayload: mergedPayload}
	_, err := r.Reconcile(context.Background(), merged(specsA), shared.a, shared.b)
	require.NoError(t, err)

	// B bekommt einen eigenen Tensor; der Alias wird ersetzt, A bleibt unveraendert
	_, pb := onnxtest.WritePair(t, shared.dir, "decoder_with_past_model", shared.dataB, specsB)
	mb, err := onnx.Load(filepath.Join(shared.dir, "decoder_with_past_model.onnx"))
	require.NoError(t, err)
	idxB, err := payload.Build(mb)
	require.NoError(t, err)
	require.FileExists(t, pb)

	res, err := r.Reconcile(context.Background(), merged(specsB), shared.a, idxB)
	require.NoError(t, err)
	require.IsType(t, Constructed{}, res.Strategy)

	info, err := os.Lstat(filepath.Join(shared.dir, mergedPayload))
	require.NoError(t, err)
	require.True(t, info.Mode().IsRegular())
	require.Equal(t, int64(180), info.Size())

	a, err := os.ReadFile(filepath.Join(shared.dir, "decoder_model.onnx_data"))
	require.NoError(t, err)
	require.Equal(t, shared.dataA, a)
}

func TestReconcileFailureLeavesNothing(t *testing.T) {
	broken := []onnxtest.Spec{
		{Name: "w1", Offset: 0, Length: 100},
		{Name: "w3_unique", Offset: 140, Length: 30},
	}
	f := newFixture(t, broken)
	r := &Reconciler{Dir: f.dir, MergedPayload: mergedPayload}

	_, err := r.Reconcile(context.Background(), merged(broken), f.a, f.b)
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, payload.ErrOutOfBounds)

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{
		"decoder_model.onnx", "decoder_model.onnx_data",
		"decoder_with_past_model.onnx", "decoder_with_past_model.onnx_data",
	}, names)
}

func TestReconcileCanceled(t *testing.T) {
	f := newFixture(t, specsB)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Reconciler{Dir: f.dir, MergedPayload: mergedPayload}
	_, err := r.Reconcile(ctx, merged(specsB), f.a, f.b)
	require.ErrorIs(t, err, context.Canceled)
	require.NoFileExists(t, filepath.Join(f.dir, mergedPayload))
}

func TestReconcileUnresolved(t *testing.T) {
	f := newFixture(t, specsB)
	m := merged(append([]onnxtest.Spec{
		{Name: "const_zero", Inline: []byte{0}},
		{Name: "w4", Offset: 0, Length: 10},
	}, specsB...))

	r := &Reconciler{Dir: f.dir, MergedPayload: mergedPayload}
	res, err := r.Reconcile(context.Background(), m, f.a, f.b)
	require.NoError(t, err)
	require.Equal(t, 1, res.Inline)
	require.Len(t, res.Unresolved, 2)

	ghost := res.Unresolved[1]
	require.Equal(t, "w4", ghost.Name)
	require.True(t, ghost.External)
	require.Equal(t, "w1", ghost.Closest)
	require.Equal(t, 1, ghost.Distance)

	var violated *AssumptionViolatedError
	require.ErrorAs(t, res.Warning(), &violated)
	require.ErrorIs(t, res.Warning(), ErrAssumptionViolated)

	// w4 zeigt weiter auf die alte Datei
	err = Verify(m, f.dir, mergedPayload)
	require.ErrorIs(t, err, ErrDangling)
}

func TestPersist(t *testing.T) {
	f := newFixture(t, specsB)
	m := merged(specsB)
	r := &Reconciler{Dir: f.dir, MergedPayload: mergedPayload}
	_, err := r.Reconcile(context.Background(), m, f.a, f.b)
	require.NoError(t, err)

	path := filepath.Join(f.dir, "decoder_model_merged.onnx")
	require.NoError(t, Persist(m, path))

	loaded, err := onnx.Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(refs(t, m), refs(t, loaded)); diff != "" {
		t.Errorf("referenzen nach dem laden (-want +got):\n%s", diff)
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.bin"), make([]byte, 10), 0o644))

	cases := []struct {
		name    string
		spec    onnxtest.Spec
		file    string
		wantErr bool
	}{
		{"InBounds", onnxtest.Spec{Name: "w", Offset: 0, Length: 10}, "p.bin", false},
		{"PastEnd", onnxtest.Spec{Name: "w", Offset: 5, Length: 6}, "p.bin", true},
		{"WrongFile", onnxtest.Spec{Name: "w", Offset: 0, Length: 1}, "other.bin", true},
		{"Inline", onnxtest.Spec{Name: "w", Inline: []byte{1}}, "p.bin", false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			m := onnxtest.Model("g", "p.bin", []onnxtest.Spec{tt.spec})
			err := Verify(m, dir, tt.file)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrDangling)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCompareShared(t *testing.T) {
	f := newFixture(t, specsB)

	// w1 und w2 liegen in A und B an denselben Offsets, aber mit anderen Bytes
	mismatches, err := CompareShared(context.Background(), f.dir, f.a, f.dir, f.b)
	require.NoError(t, err)
	require.Len(t, mismatches, 2)
	require.Equal(t, "w1", mismatches[0].Name)

	same, err := CompareShared(context.Background(), f.dir, f.a, f.dir, f.a)
	require.NoError(t, err)
	require.Empty(t, same)
}

func TestAssumptionViolatedErrorMessage(t *testing.T) {
	err := &AssumptionViolatedError{Unresolved: []Unresolved{{Name: "a"}, {Name: "b"}}}
	require.Equal(t, "reconcile: tensor in keinem index: a, b", err.Error())
	require.True(t, errors.Is(err, ErrAssumptionViolated))
}

func TestReconcileRejectsSplitPayload(t *testing.T) {
	f := newFixture(t, specsB)

	// w3_unique liegt in einer zweiten Datei von B
	m := onnxtest.Model("decoder_with_past_model", "decoder_with_past_model.onnx_data", specsB)
	for tensor := range m.Initializers() {
		if tensor.Name == "w3_unique" {
			tensor.SetLocation("extra.onnx_data")
		}
	}
	b, err := payload.Build(m)
	require.NoError(t, err)

	r := &Reconciler{Dir: f.dir, MergedPayload: mergedPayload}
	_, err = r.Reconcile(context.Background(), merged(specsB), f.a, b)
	require.ErrorIs(t, err, onnx.ErrMalformedGraph)
	require.NoFileExists(t, filepath.Join(f.dir, mergedPayload))
}
