package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("MODELCONVERT_DIR", "/data/onnx")
	t.Setenv("MODELCONVERT_NO_UPLOAD", "1")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "/data/onnx", cfg.Dir)
	require.False(t, cfg.Upload)
	require.Equal(t, "decoder_model_merged.onnx_data", cfg.MergedPayload())

	path := filepath.Join(t.TempDir(), "convert.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dir: ./out\nrepo: leks/test\nupload: true\ncopy_buffer: 1024\nstrict: true\n"), 0o644))

	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "./out", cfg.Dir)
	require.Equal(t, "leks/test", cfg.Repo)
	require.True(t, cfg.Upload)
	require.True(t, cfg.Strict)
	require.Equal(t, uint64(1024), cfg.CopyBuffer)
	require.Equal(t, "decoder_model.onnx", cfg.Decoder, "nicht gesetzte felder behalten den default")
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]string{
		"unknown field": "dir: ./out\nbuffer: 12\n",
		"same names":    "decoder: a.onnx\nwith_past: a.onnx\n",
		"empty merged":  "merged: \"\"\n",
		"syntax":        "dir: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "convert.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := LoadConfig(path)
			require.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestUploadFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"decoder_model_merged.onnx",
		"decoder_model_merged.onnx_data",
		"decoder_model_merged_quantized.onnx",
		"decoder_model_merged_inferred.onnx",
		"decoder_model_merged_quantized.partial.onnx",
		"decoder_model.onnx",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	cfg := testConfig(dir)
	got, err := cfg.UploadFiles()
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "decoder_model_merged.onnx"),
		filepath.Join(dir, "decoder_model_merged.onnx_data"),
		filepath.Join(dir, "decoder_model_merged_quantized.onnx"),
	}, got)
	require.Equal(t, "onnx/decoder_model_merged.onnx_data", cfg.RemotePath(got[1]))
}
