package payload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leks-forever/model-convert/onnx"
	"github.com/leks-forever/model-convert/onnx/onnxtest"
)

func TestBuild(t *testing.T) {
	m := onnxtest.Model("decoder", "decoder.onnx_data", []onnxtest.Spec{
		{Name: "w1", Offset: 0, Length: 100},
		{Name: "bias", Inline: []byte{1, 2, 3}},
		{Name: "w2", Offset: 100, Length: 50},
	})

	idx, err := Build(m)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())
	require.Equal(t, []string{"w1", "w2"}, idx.Names())
	require.False(t, idx.Has("bias"))
	require.Equal(t, uint64(150), idx.TotalBytes())

	ref, ok := idx.Get("w2")
	require.True(t, ok)
	require.Equal(t, onnx.ExternalRef{File: "decoder.onnx_data", Offset: 100, Length: 50}, ref)

	file, err := idx.File()
	require.NoError(t, err)
	require.Equal(t, "decoder.onnx_data", file)
}

func TestBuildMalformed(t *testing.T) {
	t.Run("MissingLength", func(t *testing.T) {
		m := onnxtest.Model("g", "p", []onnxtest.Spec{{Name: "w", Length: 4}})
		m.Graph.Initializers[0].ExternalData = m.Graph.Initializers[0].ExternalData[:2]
		_, err := Build(m)
		require.ErrorIs(t, err, onnx.ErrMalformedGraph)
		require.Contains(t, err.Error(), `"length"`)
	})

	t.Run("Duplicate", func(t *testing.T) {
		m := onnxtest.Model("g", "p", []onnxtest.Spec{{Name: "w", Length: 4}, {Name: "w", Offset: 4, Length: 4}})
		_, err := Build(m)
		require.ErrorIs(t, err, onnx.ErrMalformedGraph)
	})

	t.Run("MultipleFiles", func(t *testing.T) {
		m := onnxtest.Model("g", "p", []onnxtest.Spec{{Name: "a", Length: 4}, {Name: "b", Length: 4}})
		m.Graph.Initializers[1].SetLocation("other")
		idx, err := Build(m)
		require.NoError(t, err)
		_, err = idx.File()
		require.ErrorIs(t, err, onnx.ErrMalformedGraph)
	})
}

func TestSharedAndUnique(t *testing.T) {
	a, err := Build(onnxtest.Model("a", "a.bin", []onnxtest.Spec{
		{Name: "w1", Length: 100}, {Name: "w2", Offset: 100, Length: 50},
	}))
	require.NoError(t, err)
	b, err := Build(onnxtest.Model("b", "b.bin", []onnxtest.Spec{
		{Name: "w3_unique", Length: 30}, {Name: "w2", Offset: 30, Length: 50}, {Name: "w1", Offset: 80, Length: 100},
	}))
	require.NoError(t, err)

	require.Equal(t, []string{"w1", "w2"}, Shared(a, b))
	require.Equal(t, []string{"w3_unique"}, UniqueTo(b, a))
	require.Empty(t, UniqueTo(a, b))
}

func TestReader(t *testing.T) {
	dir := t.TempDir()
	data := onnxtest.Payload(150, 3)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.bin"), data, 0o644))

	m := onnxtest.Model("g", "p.bin", []onnxtest.Spec{
		{Name: "w1", Offset: 0, Length: 100},
		{Name: "w2", Offset: 100, Length: 50},
		{Name: "c", Inline: []byte{9}},
		{Name: "oob", Offset: 140, Length: 20},
	})
	r := NewReader(dir)

	got, err := r.Bytes(m.Graph.Initializers[1])
	require.NoError(t, err)
	require.Equal(t, data[100:150], got)

	got, err = r.Bytes(m.Graph.Initializers[2])
	require.NoError(t, err)
	require.Equal(t, []byte{9}, got)
	require.Equal(t, int64(1), r.Reads())

	_, err = r.Bytes(m.Graph.Initializers[3])
	require.ErrorIs(t, err, ErrOutOfBounds)
}
