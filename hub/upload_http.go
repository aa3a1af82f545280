// upload_http.go - HTTP-Operationen fuer Hub-Uploads
//
// Dieses Modul enthaelt:
// - preupload: Fragt den Upload-Modus (lfs oder regular) ab
// - uploadLFS: LFS-Batch, basic- oder multipart-Transfer, optionales verify
// - commit: NDJSON-Commit mit header und lfsFile/file Zeilen
package hub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strconv"
)

const (
	lfsMediaType = "application/vnd.git-lfs+json"
	sampleSize   = 512
)

// operation beschreibt eine hochzuladende Datei
type operation struct {
	local  string
	remote string
	size   int64
	sha256 string
	sample []byte
	lfs    bool
}

// newOperation hasht die Datei im Streaming-Verfahren
func newOperation(local, remote string) (*operation, error) {
	f, err := os.Open(local)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sample := make([]byte, sampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	sample = sample[:n]

	h := sha256.New()
	h.Write(sample)
	rest, err := io.Copy(h, f)
	if err != nil {
		return nil, err
	}

	return &operation{
		local:  local,
		remote: remote,
		size:   int64(n) + rest,
		sha256: hex.EncodeToString(h.Sum(nil)),
		sample: sample,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, url, contentType string, header map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.handleResponseError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

type preuploadFile struct {
	Path       string `json:"path"`
	Size       int64  `json:"size,omitempty"`
	Sample     string `json:"sample,omitempty"`
	UploadMode string `json:"uploadMode,omitempty"`
}

type preuploadPayload struct {
	Files []preuploadFile `json:"files"`
}

// preupload fragt, ob die Datei ueber LFS gehen muss
func (c *Client) preupload(ctx context.Context, repo string, op *operation) error {
	in := preuploadPayload{Files: []preuploadFile{{
		Path:   op.remote,
		Size:   op.size,
		Sample: base64.StdEncoding.EncodeToString(op.sample),
	}}}

	var out preuploadPayload
	if err := c.postJSON(ctx, c.apiURL(repo, "preupload"), "application/json", nil, in, &out); err != nil {
		return fmt.Errorf("preupload: %w", err)
	}

	i := slices.IndexFunc(out.Files, func(f preuploadFile) bool { return f.Path == op.remote })
	if i < 0 {
		return fmt.Errorf("%w: preupload ohne eintrag fuer %q", ErrInvalidResponse, op.remote)
	}
	op.lfs = out.Files[i].UploadMode == "lfs"
	return nil
}

type lfsAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header,omitempty"`
}

type lfsObject struct {
	OID     string `json:"oid"`
	Size    int64  `json:"size"`
	Actions *struct {
		Upload *lfsAction `json:"upload,omitempty"`
		Verify *lfsAction `json:"verify,omitempty"`
	} `json:"actions,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type lfsBatchRequest struct {
	Operation string      `json:"operation"`
	Transfers []string    `json:"transfers"`
	Objects   []lfsObject `json:"objects"`
	HashAlgo  string      `json:"hash_algo"`
}

type lfsBatchResponse struct {
	Transfer string      `json:"transfer"`
	Objects  []lfsObject `json:"objects"`
}

type lfsPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

// uploadLFS laedt den Inhalt in den LFS-Speicher. Ohne upload-Aktion
// liegt das Objekt bereits vor.
func (c *Client) uploadLFS(ctx context.Context, repo string, op *operation) error {
	in := lfsBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic", "multipart"},
		Objects:   []lfsObject{{OID: op.sha256, Size: op.size}},
		HashAlgo:  "sha256",
	}

	var out lfsBatchResponse
	u := fmt.Sprintf("%s/%s.git/info/lfs/objects/batch", c.baseURL, repo)
	if err := c.postJSON(ctx, u, lfsMediaType, nil, in, &out); err != nil {
		return fmt.Errorf("lfs batch: %w", err)
	}
	if len(out.Objects) != 1 {
		return fmt.Errorf("%w: lfs batch mit %d objekten", ErrInvalidResponse, len(out.Objects))
	}

	obj := out.Objects[0]
	if obj.Error != nil {
		return fmt.Errorf("%w: lfs %d: %s", ErrUploadFailed, obj.Error.Code, obj.Error.Message)
	}
	if obj.Actions == nil || obj.Actions.Upload == nil {
		c.logger.Debug("lfs object already present", "oid", op.sha256)
		return nil
	}

	var err error
	if out.Transfer == "multipart" {
		err = c.putMultipart(ctx, op, obj.Actions.Upload)
	} else {
		err = c.putBasic(ctx, op, obj.Actions.Upload)
	}
	if err != nil {
		return err
	}

	if v := obj.Actions.Verify; v != nil {
		if err := c.postJSON(ctx, v.Href, lfsMediaType, v.Header, lfsObject{OID: op.sha256, Size: op.size}, nil); err != nil {
			return fmt.Errorf("lfs verify: %w", err)
		}
	}
	return nil
}

func (c *Client) put(ctx context.Context, href string, header map[string]string, r io.Reader, size int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, href, r)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	// ohne Authorization: vorsignierte URLs lehnen zusaetzliche Credentials ab
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: put status %d - %s", ErrUploadFailed, resp.StatusCode, body)
	}
	return resp, nil
}

func (c *Client) putBasic(ctx context.Context, op *operation, action *lfsAction) error {
	f, err := os.Open(op.local)
	if err != nil {
		return err
	}
	defer f.Close()

	pr := &progressReader{r: f, path: op.remote, total: op.size, fn: c.progress}
	resp, err := c.put(ctx, action.Href, action.Header, pr, op.size)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// putMultipart laedt die Datei in chunk_size Teilen zu den vorsignierten
// URLs "00001", "00002", ... und schliesst mit den ETags ab
func (c *Client) putMultipart(ctx context.Context, op *operation, action *lfsAction) error {
	chunkSize, err := strconv.ParseInt(action.Header["chunk_size"], 10, 64)
	if err != nil || chunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size %q", ErrInvalidResponse, action.Header["chunk_size"])
	}

	f, err := os.Open(op.local)
	if err != nil {
		return err
	}
	defer f.Close()

	var parts []lfsPart
	for n := 1; ; n++ {
		href, ok := action.Header[fmt.Sprintf("%05d", n)]
		if !ok {
			break
		}

		offset := int64(n-1) * chunkSize
		length := min(chunkSize, op.size-offset)
		if length <= 0 {
			return fmt.Errorf("%w: mehr teile als daten", ErrInvalidResponse)
		}

		section := io.NewSectionReader(f, offset, length)
		pr := &progressReader{r: section, path: op.remote, done: offset, total: op.size, fn: c.progress}
		resp, err := c.put(ctx, href, nil, pr, length)
		if err != nil {
			return fmt.Errorf("teil %d: %w", n, err)
		}
		resp.Body.Close()
		parts = append(parts, lfsPart{PartNumber: n, ETag: resp.Header.Get("ETag")})
	}
	if len(parts) == 0 {
		return fmt.Errorf("%w: multipart ohne teile", ErrInvalidResponse)
	}

	complete := struct {
		OID   string    `json:"oid"`
		Parts []lfsPart `json:"parts"`
	}{OID: op.sha256, Parts: parts}
	if err := c.postJSON(ctx, action.Href, lfsMediaType, nil, complete, nil); err != nil {
		return fmt.Errorf("multipart abschluss: %w", err)
	}
	return nil
}

type commitLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// commit schreibt den NDJSON-Commit fuer genau eine Datei
func (c *Client) commit(ctx context.Context, repo string, op *operation) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	lines := []commitLine{{Key: "header", Value: map[string]string{
		"summary":     "Upload " + op.remote + " with model-convert",
		"description": "",
	}}}
	if op.lfs {
		lines = append(lines, commitLine{Key: "lfsFile", Value: map[string]any{
			"path": op.remote,
			"algo": "sha256",
			"oid":  op.sha256,
			"size": op.size,
		}})
	} else {
		content, err := os.ReadFile(op.local)
		if err != nil {
			return err
		}
		lines = append(lines, commitLine{Key: "file", Value: map[string]string{
			"path":     op.remote,
			"content":  base64.StdEncoding.EncodeToString(content),
			"encoding": "base64",
		}})
	}
	for _, l := range lines {
		if err := enc.Encode(l); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL(repo, "commit"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.handleResponseError(resp); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// progressReader meldet den Fortschritt eines Uploads
type progressReader struct {
	r     io.Reader
	path  string
	done  int64
	total int64
	fn    ProgressCallback
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.path, p.done, p.total)
	}
	return n, err
}
