package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/leks-forever/model-convert/metrics"
	"github.com/leks-forever/model-convert/onnx/onnxtest"
	"github.com/leks-forever/model-convert/payload"
)

func TestSubstitution(t *testing.T) {
	dir := t.TempDir()
	data := onnxtest.Payload(64, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.bin"), data, 0o644))

	m := onnxtest.Model("g", "p.bin", []onnxtest.Spec{
		{Name: "w", Offset: 0, Length: 64},
		{Name: "c", Inline: []byte{4, 2}},
	})
	w, c := m.Graph.Initializers[0], m.Graph.Initializers[1]

	real := payload.NewReader(dir)
	mt := metrics.New()
	sub := New(real, mt)
	require.True(t, sub.Active())

	got, err := sub.Bytes(w)
	require.NoError(t, err)
	require.Len(t, got, Size)
	require.Equal(t, Surrogate("w"), got)

	got, err = sub.Bytes(c)
	require.NoError(t, err)
	require.Equal(t, []byte{4, 2}, got)

	require.Equal(t, int64(0), real.Reads(), "payload darf nicht gelesen werden")
	require.Equal(t, int64(1), sub.Surrogates())
	require.Equal(t, 1.0, testutil.ToFloat64(mt.Surrogates))

	sub.Release()
	sub.Release()
	require.False(t, sub.Active())

	got, err = sub.Bytes(w)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Equal(t, int64(1), real.Reads())
}

func TestSurrogateDependsOnlyOnName(t *testing.T) {
	require.Equal(t, Surrogate("decoder.embed_tokens.weight"), Surrogate("decoder.embed_tokens.weight"))
	require.NotEqual(t, Surrogate("a"), Surrogate("b"))
}
