package onnx

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func externalTensor(name string, kv ...KeyValue) *Tensor {
	return &Tensor{Name: name, DataType: DataTypeFloat, DataLocation: StorageExternal, ExternalData: kv}
}

func TestExternalRef(t *testing.T) {
	t.Run("AllFields", func(t *testing.T) {
		tensor := externalTensor("w",
			KeyValue{KeyLocation, "weights.bin"},
			KeyValue{KeyOffset, "1024"},
			KeyValue{KeyLength, "4096"},
			KeyValue{"checksum", "abc123"},
		)
		ref, err := tensor.ExternalRef()
		require.NoError(t, err)
		require.Equal(t, ExternalRef{File: "weights.bin", Offset: 1024, Length: 4096}, ref)
		require.Equal(t, uint64(5120), ref.End())
	})

	cases := []struct {
		name   string
		tensor *Tensor
		want   string
	}{
		{
			name:   "MissingLocation",
			tensor: externalTensor("w", KeyValue{KeyOffset, "0"}, KeyValue{KeyLength, "4"}),
			want:   `feld "location" fehlt`,
		},
		{
			name:   "MissingOffset",
			tensor: externalTensor("w", KeyValue{KeyLocation, "a"}, KeyValue{KeyLength, "4"}),
			want:   `feld "offset" fehlt`,
		},
		{
			name:   "MissingLength",
			tensor: externalTensor("w", KeyValue{KeyLocation, "a"}, KeyValue{KeyOffset, "4"}),
			want:   `feld "length" fehlt`,
		},
		{
			name:   "InvalidOffset",
			tensor: externalTensor("w", KeyValue{KeyLocation, "a"}, KeyValue{KeyOffset, "x"}, KeyValue{KeyLength, "4"}),
			want:   `feld "offset" ungueltig`,
		},
		{
			name:   "NotExternal",
			tensor: &Tensor{Name: "w", RawData: []byte{1}},
			want:   "nicht extern",
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tensor.ExternalRef()
			require.ErrorIs(t, err, ErrMalformedGraph)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSetExternalRefKeepsExtraKeys(t *testing.T) {
	tensor := externalTensor("w",
		KeyValue{KeyLocation, "old.bin"},
		KeyValue{"checksum", "abc"},
		KeyValue{KeyOffset, "8"},
		KeyValue{KeyLength, "16"},
	)
	tensor.SetExternalRef(ExternalRef{File: "new.bin", Offset: 32, Length: 16})

	want := []KeyValue{
		{KeyLocation, "new.bin"},
		{"checksum", "abc"},
		{KeyOffset, "32"},
		{KeyLength, "16"},
	}
	if diff := cmp.Diff(want, tensor.ExternalData); diff != "" {
		t.Errorf("external_data (-want +got):\n%s", diff)
	}

	tensor.SetLocation("merged.bin")
	ref, err := tensor.ExternalRef()
	require.NoError(t, err)
	require.Equal(t, ExternalRef{File: "merged.bin", Offset: 32, Length: 16}, ref)
}

func testModel() *Model {
	body := &Graph{
		Name:         "then",
		Initializers: []*Tensor{{Name: "inner", DataType: DataTypeInt64, Dims: []int64{1}, RawData: []byte{1, 0, 0, 0, 0, 0, 0, 0}}},
		Nodes:        []*Node{{OpType: "Identity", Inputs: []string{"inner"}, Outputs: []string{"y"}}},
		Outputs:      []*ValueInfo{NewTensorValueInfo("y", DataTypeInt64, []int64{1})},
	}
	w := &Tensor{Name: "w", DataType: DataTypeFloat, Dims: []int64{2, 3}}
	w.SetExternalRef(ExternalRef{File: "model.onnx_data", Offset: 0, Length: 24})

	return &Model{
		IRVersion:    8,
		ProducerName: "test",
		OpsetImports: []OperatorSetID{{Version: 17}, {Domain: "com.microsoft", Version: 1}},
		Graph: &Graph{
			Name:         "main",
			Initializers: []*Tensor{w},
			Inputs:       []*ValueInfo{NewTensorValueInfo("cond", DataTypeBool, []int64{1})},
			Outputs:      []*ValueInfo{NewTensorValueInfo("y", DataTypeInt64, []int64{-1})},
			Nodes: []*Node{{
				Name:    "if",
				OpType:  "If",
				Inputs:  []string{"cond"},
				Outputs: []string{"y"},
				Attributes: []*Attribute{
					{Name: "then_branch", Type: AttributeGraph, Graph: body},
					{Name: "else_branch", Type: AttributeGraph, Graph: body},
				},
			}},
		},
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	m := testModel()
	got, err := Unmarshal(Marshal(m))
	require.NoError(t, err)

	require.Equal(t, int64(8), got.IRVersion)
	v, ok := got.Opset("com.microsoft")
	require.True(t, ok)
	require.Equal(t, int64(1), v)
	require.Equal(t, 3, got.NodeCount())
	require.Equal(t, DataTypeBool, got.Graph.Inputs[0].ElemType())

	// deterministische Ausgabe
	require.Equal(t, Marshal(m), Marshal(got))
}

func TestInitializersIncludesSubgraphs(t *testing.T) {
	var names []string
	for tensor := range testModel().Initializers() {
		names = append(names, tensor.Name)
	}
	require.Equal(t, []string{"w", "inner", "inner"}, names)
}

func TestUnknownFieldsSurvive(t *testing.T) {
	// TensorProto mit float_data (4) und doc_string (12)
	var tb []byte
	tb = protowire.AppendTag(tb, tensorName, protowire.BytesType)
	tb = protowire.AppendString(tb, "c")
	tb = protowire.AppendTag(tb, 4, protowire.BytesType)
	tb = protowire.AppendBytes(tb, protowire.AppendFixed32(nil, 0x3f800000))
	tb = protowire.AppendTag(tb, 12, protowire.BytesType)
	tb = protowire.AppendString(tb, "a constant")
	// unpacked dims
	tb = protowire.AppendTag(tb, tensorDims, protowire.VarintType)
	tb = protowire.AppendVarint(tb, 1)

	var gb []byte
	gb = protowire.AppendTag(gb, graphInitializer, protowire.BytesType)
	gb = protowire.AppendBytes(gb, tb)
	gb = protowire.AppendTag(gb, 16, protowire.BytesType) // metadata_props
	gb = protowire.AppendBytes(gb, []byte{0x0a, 0x01, 'k'})

	var mb []byte
	mb = protowire.AppendTag(mb, modelGraph, protowire.BytesType)
	mb = protowire.AppendBytes(mb, gb)

	m, err := Unmarshal(mb)
	require.NoError(t, err)
	c := m.Graph.Initializers[0]
	require.Equal(t, []int64{1}, c.Dims)
	require.False(t, c.IsExternal())
	require.NotEmpty(t, c.InlineContent())

	again, err := Unmarshal(Marshal(m))
	require.NoError(t, err)
	require.Equal(t, c.InlineContent(), again.Graph.Initializers[0].InlineContent())
	require.Equal(t, m.Graph.unknown, again.Graph.unknown)
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte{0x3a, 0x05, 0x01}) // graph mit abgeschnittener Laenge
	require.ErrorIs(t, err, ErrMalformedGraph)

	_, err = Unmarshal(nil)
	require.ErrorIs(t, err, ErrMalformedGraph)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.onnx")
	require.NoError(t, Save(path, testModel()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Equal(t, []string{"model.onnx"}, names)

	m, err := Load(path)
	require.NoError(t, err)
	require.True(t, slices.ContainsFunc(m.Graph.Initializers, (*Tensor).IsExternal))
}

func TestByteSize(t *testing.T) {
	tensor := &Tensor{DataType: DataTypeFloat16, Dims: []int64{4, 8}}
	n, ok := tensor.ByteSize()
	require.True(t, ok)
	require.Equal(t, uint64(64), n)

	_, ok = (&Tensor{DataType: DataTypeString, Dims: []int64{2}}).ByteSize()
	require.False(t, ok)
}
