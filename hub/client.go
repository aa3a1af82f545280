// client.go - HuggingFace Hub Client fuer Decoder-Artefakte
//
// Dieses Modul enthaelt:
// - Client: HTTP-Client fuer resolve/, preupload, LFS-Batch und Commit
// - ClientOption: Funktionale Optionen (Token, Endpoint, Revision, ...)
// - Fehler-Definitionen und Status-Abbildung
//
// Token und Endpoint kommen aus HF_TOKEN / $HF_HOME/token und HF_ENDPOINT.
package hub

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leks-forever/model-convert/envconfig"
)

// Konstanten fuer den Hub
const (
	DefaultClientTimeout = 1800 // 30 Minuten fuer grosse Payload-Dateien
	DefaultRevision      = "main"
	DefaultConcurrency   = 4
	ClientUserAgent      = "model-convert/1.0"
)

// Fehler-Definitionen
var (
	ErrModelNotFound   = errors.New("modell nicht gefunden")
	ErrUnauthorized    = errors.New("authentifizierung fehlgeschlagen")
	ErrRateLimited     = errors.New("rate limit ueberschritten")
	ErrNetworkError    = errors.New("netzwerkfehler")
	ErrInvalidRepoID   = errors.New("ungueltige repository-id")
	ErrFileNotFound    = errors.New("datei nicht gefunden")
	ErrDownloadFailed  = errors.New("download fehlgeschlagen")
	ErrUploadFailed    = errors.New("upload fehlgeschlagen")
	ErrInvalidResponse = errors.New("ungueltige server-antwort")
)

// Client spricht mit dem HuggingFace Hub
type Client struct {
	httpClient  *http.Client
	baseURL     string
	token       string
	userAgent   string
	revision    string
	concurrency int
	logger      *slog.Logger
	progress    ProgressCallback
}

// ProgressCallback wird waehrend Downloads und Uploads aufgerufen
type ProgressCallback func(path string, done, total int64)

// ClientOption ist eine Funktion zur Konfiguration des Clients
type ClientOption func(*Client)

// WithToken setzt den Hub Token
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithBaseURL setzt eine Custom Base-URL
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithRevision setzt Branch oder Commit fuer resolve/ und Commits
func WithRevision(rev string) ClientOption {
	return func(c *Client) {
		if rev != "" {
			c.revision = rev
		}
	}
}

// WithConcurrency begrenzt parallele Anfragen
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithClientTimeout setzt den HTTP Timeout
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient setzt einen Custom HTTP Client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger setzt den Logger
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithProgress setzt den Progress-Callback
func WithProgress(fn ProgressCallback) ClientOption {
	return func(c *Client) { c.progress = fn }
}

// NewClient erstellt einen Client. Ohne Optionen gelten HF_ENDPOINT und HF_TOKEN.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultClientTimeout * time.Second},
		baseURL:     strings.TrimSuffix(envconfig.HFEndpoint().String(), "/"),
		token:       envconfig.HFToken(),
		userAgent:   ClientUserAgent,
		revision:    DefaultRevision,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// BaseURL gibt die aktuelle Base-URL zurueck
func (c *Client) BaseURL() string { return c.baseURL }

// HasToken prueft ob ein Token konfiguriert ist
func (c *Client) HasToken() bool { return c.token != "" }

// resolveURL liefert <base>/<repo>/resolve/<rev>/<path>
func (c *Client) resolveURL(repo, remotePath string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.baseURL, repo, url.PathEscape(c.revision), escapePath(remotePath))
}

func (c *Client) apiURL(repo, endpoint string) string {
	return fmt.Sprintf("%s/api/models/%s/%s/%s", c.baseURL, repo, endpoint, url.PathEscape(c.revision))
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	return resp, nil
}

func (c *Client) handleResponseError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent, http.StatusCreated:
		return nil
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("%w: status %d - %s", ErrInvalidResponse, resp.StatusCode, string(body))
		}
		return nil
	}
}

func validateRepoID(repo string) error {
	if repo == "" {
		return fmt.Errorf("%w: repository-id darf nicht leer sein", ErrInvalidRepoID)
	}
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: erwartet format 'owner/model'", ErrInvalidRepoID)
	}
	return nil
}
