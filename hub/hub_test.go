package hub

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testRepo = "leks/model"

// fakeHub bildet resolve/, preupload, LFS-Batch und Commit nach
type fakeHub struct {
	mu       sync.Mutex
	files    map[string][]byte
	lfs      map[string][]byte
	lfsPaths map[string]bool
	commits  int
	requests atomic.Int64
	verified atomic.Int64
}

func newFakeHub(t *testing.T) (*fakeHub, *Client) {
	t.Helper()
	h := &fakeHub{files: map[string][]byte{}, lfs: map[string][]byte{}, lfsPaths: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{owner}/{repo}/resolve/{rev}/{path...}", h.resolve)
	mux.HandleFunc("GET /cdn/{oid}", h.cdn)
	mux.HandleFunc("POST /api/models/{owner}/{repo}/preupload/{rev}", h.preupload)
	mux.HandleFunc("POST /leks/model.git/info/lfs/objects/batch", h.batch)
	mux.HandleFunc("PUT /lfs-upload/{oid}", h.put)
	mux.HandleFunc("POST /lfs-verify", func(w http.ResponseWriter, r *http.Request) { h.verified.Add(1) })
	mux.HandleFunc("POST /api/models/{owner}/{repo}/commit/{rev}", h.commit)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(WithBaseURL(srv.URL), WithToken("hf_test"), WithHTTPClient(srv.Client()))
	return h, c
}

func (h *fakeHub) resolve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	path := r.PathValue("path")
	data, ok := h.files[path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if h.lfsPaths[path] {
		sum := sha256.Sum256(data)
		w.Header().Set("X-Linked-Size", strconv.Itoa(len(data)))
		http.Redirect(w, r, "/cdn/"+hex.EncodeToString(sum[:]), http.StatusFound)
		return
	}
	http.ServeContent(w, r, path, time.Time{}, bytes.NewReader(data))
}

func (h *fakeHub) cdn(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	data, ok := h.lfs[r.PathValue("oid")]
	h.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(data))
}

func (h *fakeHub) preupload(w http.ResponseWriter, r *http.Request) {
	var in preuploadPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for i := range in.Files {
		in.Files[i].UploadMode = "regular"
		if in.Files[i].Size > 64 {
			in.Files[i].UploadMode = "lfs"
		}
	}
	json.NewEncoder(w).Encode(in)
}

func (h *fakeHub) batch(w http.ResponseWriter, r *http.Request) {
	var in lfsBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	base := "http://" + r.Host
	out := lfsBatchResponse{Transfer: "basic"}
	for _, obj := range in.Objects {
		h.mu.Lock()
		_, present := h.lfs[obj.OID]
		h.mu.Unlock()

		o := lfsObject{OID: obj.OID, Size: obj.Size}
		if !present {
			o.Actions = &struct {
				Upload *lfsAction `json:"upload,omitempty"`
				Verify *lfsAction `json:"verify,omitempty"`
			}{
				Upload: &lfsAction{Href: base + "/lfs-upload/" + obj.OID},
				Verify: &lfsAction{Href: base + "/lfs-verify"},
			}
		}
		out.Objects = append(out.Objects, o)
	}
	w.Header().Set("Content-Type", lfsMediaType)
	json.NewEncoder(w).Encode(out)
}

func (h *fakeHub) put(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		http.Error(w, "unexpected credentials", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sum := sha256.Sum256(data)
	oid := hex.EncodeToString(sum[:])
	if oid != r.PathValue("oid") {
		http.Error(w, "hash mismatch", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.lfs[oid] = data
	h.mu.Unlock()
}

func (h *fakeHub) commit(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer hf_test" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sc := bufio.NewScanner(r.Body)
	for sc.Scan() {
		var line struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch line.Key {
		case "lfsFile":
			var v struct {
				Path string `json:"path"`
				OID  string `json:"oid"`
			}
			json.Unmarshal(line.Value, &v)
			data, ok := h.lfs[v.OID]
			if !ok {
				http.Error(w, "missing lfs object", http.StatusBadRequest)
				return
			}
			h.files[v.Path] = data
			h.lfsPaths[v.Path] = true
		case "file":
			var v struct {
				Path    string `json:"path"`
				Content string `json:"content"`
			}
			json.Unmarshal(line.Value, &v)
			data, _ := base64.StdEncoding.DecodeString(v.Content)
			h.files[v.Path] = data
		}
	}
	h.commits++
	w.Write([]byte(`{"commitOid":"abc"}`))
}

func TestDownload(t *testing.T) {
	h, c := newFakeHub(t)
	h.files["onnx/decoder_model.onnx"] = []byte("graph bytes")

	dir := t.TempDir()
	local := filepath.Join(dir, "decoder_model.onnx")

	r, err := c.Download(context.Background(), testRepo, "onnx/decoder_model.onnx", local)
	require.NoError(t, err)
	require.False(t, r.FromCache)
	require.Equal(t, int64(11), r.Size)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, "graph bytes", string(got))
	require.NoFileExists(t, local+".download")

	// zweiter Aufruf: keine Anfrage
	before := h.requests.Load()
	r, err = c.Download(context.Background(), testRepo, "onnx/decoder_model.onnx", local)
	require.NoError(t, err)
	require.True(t, r.FromCache)
	require.Equal(t, before, h.requests.Load())
}

func TestDownloadUnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flush vor dem Ende erzwingt chunked, ohne Content-Length
		w.Write([]byte("first "))
		w.(http.Flusher).Flush()
		w.Write([]byte("second"))
	}))
	t.Cleanup(srv.Close)

	var mu sync.Mutex
	var totals []int64
	c := NewClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithProgress(func(_ string, _, total int64) {
		mu.Lock()
		totals = append(totals, total)
		mu.Unlock()
	}))

	local := filepath.Join(t.TempDir(), "w.bin")
	r, err := c.Download(context.Background(), testRepo, "onnx/w.bin", local)
	require.NoError(t, err)
	require.Equal(t, int64(12), r.Size)
	got, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, "first second", string(got), "inhalt stimmt nicht")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, totals)
	for _, total := range totals {
		require.Zero(t, total, "unbekannte groesse muss 0 sein")
	}
}

func TestDownloadResumesPartial(t *testing.T) {
	h, c := newFakeHub(t)
	h.files["onnx/w.bin"] = []byte("0123456789abcdef")

	dir := t.TempDir()
	local := filepath.Join(dir, "w.bin")
	require.NoError(t, os.WriteFile(local+".download", []byte("0123456789"), 0o644))

	_, err := c.Download(context.Background(), testRepo, "onnx/w.bin", local)
	require.NoError(t, err)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef", string(got))
}

func TestDownloadErrors(t *testing.T) {
	_, c := newFakeHub(t)
	dir := t.TempDir()

	cases := []struct {
		name   string
		repo   string
		remote string
		want   error
	}{
		{"NotFound", testRepo, "onnx/missing.onnx", ErrModelNotFound},
		{"InvalidRepo", "nur-ein-teil", "x", ErrInvalidRepoID},
		{"EmptyPath", testRepo, "", ErrFileNotFound},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Download(context.Background(), tt.repo, tt.remote, filepath.Join(dir, tt.name))
			require.ErrorIs(t, err, tt.want)
			require.NoFileExists(t, filepath.Join(dir, tt.name))
		})
	}
}

func TestDownloadAll(t *testing.T) {
	h, c := newFakeHub(t)
	dir := t.TempDir()

	var files []File
	for _, name := range []string{"decoder_model.onnx", "decoder_model.onnx_data", "decoder_with_past_model.onnx", "decoder_with_past_model.onnx_data"} {
		h.files["onnx/"+name] = []byte(name)
		files = append(files, File{Remote: "onnx/" + name, Local: filepath.Join(dir, name)})
	}

	results, err := c.DownloadAll(context.Background(), testRepo, files)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		require.Equal(t, files[i], r.File)
		got, err := os.ReadFile(r.Local)
		require.NoError(t, err)
		require.Equal(t, filepath.Base(r.Local), string(got))
	}
}

func TestUploadAndExists(t *testing.T) {
	h, c := newFakeHub(t)
	dir := t.TempDir()

	big := bytes.Repeat([]byte("payload!"), 32)
	real := filepath.Join(dir, "decoder_model.onnx_data")
	require.NoError(t, os.WriteFile(real, big, 0o644))
	link := filepath.Join(dir, "decoder_model_merged.onnx_data")
	require.NoError(t, os.Symlink("decoder_model.onnx_data", link))

	small := filepath.Join(dir, "decoder_model_merged.onnx")
	require.NoError(t, os.WriteFile(small, []byte("graph"), 0o644))

	ok, err := c.Exists(context.Background(), testRepo, "onnx/decoder_model_merged.onnx_data", int64(len(big)))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Upload(context.Background(), testRepo, link, "onnx/decoder_model_merged.onnx_data"))
	require.NoError(t, c.Upload(context.Background(), testRepo, small, "onnx/decoder_model_merged.onnx"))

	// Symlink wurde aufgeloest, hochgeladen sind die echten Bytes
	require.Equal(t, big, h.files["onnx/decoder_model_merged.onnx_data"])
	require.True(t, h.lfsPaths["onnx/decoder_model_merged.onnx_data"])
	require.Equal(t, []byte("graph"), h.files["onnx/decoder_model_merged.onnx"])
	require.Equal(t, int64(1), h.verified.Load())
	require.Equal(t, 2, h.commits)

	cases := []struct {
		name string
		path string
		size int64
		want bool
	}{
		{"LFS", "onnx/decoder_model_merged.onnx_data", int64(len(big)), true},
		{"LFSWrongSize", "onnx/decoder_model_merged.onnx_data", 1, false},
		{"Regular", "onnx/decoder_model_merged.onnx", 5, true},
		{"AnySize", "onnx/decoder_model_merged.onnx", -1, true},
		{"Missing", "onnx/nope.onnx", -1, false},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := c.Exists(context.Background(), testRepo, tt.path, tt.size)
			require.NoError(t, err)
			require.Equal(t, tt.want, ok)
		})
	}
}

func TestUploadAllSkipsPresent(t *testing.T) {
	h, c := newFakeHub(t)
	dir := t.TempDir()

	a := filepath.Join(dir, "a.onnx")
	b := filepath.Join(dir, "b.onnx")
	require.NoError(t, os.WriteFile(a, []byte("aaaa"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("bbbb"), 0o644))
	h.files["onnx/a.onnx"] = []byte("aaaa")

	n, err := c.UploadAll(context.Background(), testRepo, []File{
		{Remote: "onnx/a.onnx", Local: a},
		{Remote: "onnx/b.onnx", Local: b},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, h.commits)

	n, err = c.UploadAll(context.Background(), testRepo, []File{{Remote: "onnx/b.onnx", Local: b}})
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestUploadUnauthorized(t *testing.T) {
	_, c := newFakeHub(t)
	WithToken("")(c)

	f := filepath.Join(t.TempDir(), "x.onnx")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))

	err := c.Upload(context.Background(), testRepo, f, "onnx/x.onnx")
	require.ErrorIs(t, err, ErrUnauthorized)
}
