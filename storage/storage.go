// Package storage uploads bundles to the content-addressed storage network.
//
// Every upload is tagged with the registry transaction that paid for it so
// the backend can correlate payment with content. Re-sending the same
// bundle with the same tag is idempotent, so transport failures are retried
// from scratch with exponential backoff.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/aipfs/iox"
	"github.com/pithecene-io/aipfs/types"
)

// Defaults.
const (
	DefaultAPIURL  = "https://ipfs.glitterprotocol.dev/api/v0"
	DefaultTimeout = 2 * time.Minute
	DefaultRetries = 3
	maxResponse    = 4 << 20
)

// Config configures the uploader.
type Config struct {
	// APIURL is the storage API base (required).
	APIURL string
	// Headers are added to each request.
	Headers map[string]string
	// Timeout bounds each attempt (default 2m). Expiry is a network error.
	Timeout time.Duration
	// Retries is the number of retries after a network error (default 3).
	Retries int
	// Backoff is the first retry delay, doubled per retry (default 500ms).
	Backoff time.Duration
}

// Progress receives upload progress as an integer percentage. Values never
// decrease within one UploadBundle call.
type Progress func(percent int)

// Uploader uploads bundles.
type Uploader struct {
	config Config
	client *http.Client
}

// Result is the backend's answer for one bundle.
type Result struct {
	// Root is the entry for the bundle directory.
	Root types.UploadReceipt
	// Entries are all entries the backend reported.
	Entries []types.UploadReceipt
	// Attempts is the number of requests sent.
	Attempts int
}

// New creates an uploader.
func New(cfg Config) (*Uploader, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("storage uploader requires an API URL")
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("storage uploader: invalid API URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Uploader{config: cfg, client: &http.Client{}}, nil
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// UploadBundle uploads b tagged with txID and chainID and returns the
// receipt for the bundle root. Network errors (transport, 5xx, timeout)
// are retried; 4xx responses and responses without a root entry fail with
// ErrUploadRejected immediately.
func (u *Uploader) UploadBundle(ctx context.Context, b types.Bundle, txID string, chainID int64, progress Progress) (*Result, error) {
	if len(b.Files) == 0 {
		return nil, types.ErrEmptyBundle
	}
	if txID == "" {
		return nil, errors.New("upload requires a transaction id")
	}

	body, contentType, err := encodeBundle(b)
	if err != nil {
		return nil, types.NewEncodingError(err)
	}
	endpoint, err := u.endpoint(txID, chainID)
	if err != nil {
		return nil, err
	}

	reporter := &percentReporter{fn: progress}
	var lastErr error
	attempts := 1 + u.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, types.NewNetworkError(fmt.Errorf("upload canceled: %w", err))
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * u.config.Backoff
			select {
			case <-ctx.Done():
				return nil, types.NewNetworkError(fmt.Errorf("upload canceled during backoff: %w", ctx.Err()))
			case <-time.After(backoff):
			}
		}

		var res *Result
		res, lastErr = u.doRequest(ctx, endpoint, body, contentType, reporter)
		if lastErr == nil {
			res.Attempts = i + 1
			reporter.report(100)
			return res, nil
		}
		if !errors.Is(lastErr, types.ErrNetwork) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("upload failed after %d attempts: %w", attempts, lastErr)
}

func (u *Uploader) endpoint(txID string, chainID int64) (string, error) {
	base, err := url.Parse(strings.TrimRight(u.config.APIURL, "/") + "/upagent")
	if err != nil {
		return "", fmt.Errorf("build upload url: %w", err)
	}
	q := base.Query()
	q.Set("tx_id", txID)
	q.Set("chainid", strconv.FormatInt(chainID, 10))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// directoryMeta describes the bundle directory part.
type directoryMeta struct {
	Timestamp int64      `json:"timestamp"`
	Files     []fileMeta `json:"files"`
}

type fileMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int    `json:"size"`
}

func contentTypeOf(f types.FileEntry) string {
	if ct := mime.TypeByExtension(path.Ext(f.Path)); ct != "" {
		return ct
	}
	return http.DetectContentType(f.Data)
}

// encodeBundle writes a directory part named after the bundle followed by
// one part per file named <bundle>/<path>. Output is deterministic.
func encodeBundle(b types.Bundle) ([]byte, string, error) {
	if b.Name == "" || strings.Contains(b.Name, "/") {
		return nil, "", fmt.Errorf("invalid bundle name %q", b.Name)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(boundaryFor(b)); err != nil {
		return nil, "", err
	}

	meta := directoryMeta{Timestamp: b.Created, Files: make([]fileMeta, len(b.Files))}
	for i, f := range b.Files {
		meta.Files[i] = fileMeta{Name: f.Path, Type: contentTypeOf(f), Size: len(f.Data)}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", err
	}
	if err := writePart(mw, b.Name, "application/x-directory", metaJSON); err != nil {
		return nil, "", err
	}
	for _, f := range b.Files {
		if err := writePart(mw, b.Name+"/"+f.Path, contentTypeOf(f), f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func writePart(mw *multipart.Writer, name, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[%s]"; filename="%s"`, escapeQuotes(name), escapeQuotes(name)))
	h.Set("Content-Type", contentType)
	w, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write part %s: %w", name, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

// boundaryFor derives a stable boundary so retries send identical bytes.
func boundaryFor(b types.Bundle) string {
	sum := sha256.Sum256([]byte(b.Name))
	return "aipfs" + hex.EncodeToString(sum[:16])
}

// uploadResponse is the backend's JSON answer.
type uploadResponse struct {
	Data []struct {
		Name string   `json:"Name"`
		Hash string   `json:"Hash"`
		Size flexSize `json:"Size"`
	} `json:"data"`
}

// flexSize accepts sizes encoded as JSON strings or numbers.
type flexSize int64

func (s *flexSize) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), `"`)
	if str == "" || str == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %s: %w", b, err)
	}
	*s = flexSize(n)
	return nil
}

func (u *Uploader) doRequest(ctx context.Context, endpoint string, body []byte, contentType string, reporter *percentReporter) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, u.config.Timeout)
	defer cancel()

	pr := &progressReader{r: bytes.NewReader(body), total: int64(len(body)), reporter: reporter}
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, pr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	for k, v := range u.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, types.NewNetworkError(fmt.Errorf("request failed: %w", err))
	}
	defer iox.DrainClose(resp.Body)

	raw, err := iox.ReadAllLimit(resp.Body, maxResponse)
	if err != nil {
		return nil, types.NewNetworkError(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, types.NewNetworkError(&StatusError{Code: resp.StatusCode, Body: snippet(raw)})
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return nil, types.NewNetworkError(&StatusError{Code: resp.StatusCode, Body: snippet(raw)})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, types.NewUploadRejectedError(&StatusError{Code: resp.StatusCode, Body: snippet(raw)})
	}

	return parseResponse(raw)
}

func parseResponse(raw []byte) (*Result, error) {
	var parsed uploadResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, types.NewUploadRejectedError(fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Data) == 0 {
		return nil, types.NewUploadRejectedError(errors.New("no response data"))
	}

	res := &Result{Entries: make([]types.UploadReceipt, 0, len(parsed.Data))}
	found := false
	for _, d := range parsed.Data {
		r := types.UploadReceipt{Name: d.Name, Hash: types.ContentIdentifier(d.Hash), Size: int64(d.Size)}
		res.Entries = append(res.Entries, r)
		if !found && d.Name != "" && !strings.Contains(d.Name, "/") {
			res.Root = r
			found = true
		}
	}
	if !found || res.Root.Hash == "" {
		return nil, types.NewUploadRejectedError(errors.New("response has no root entry"))
	}
	return res, nil
}

func snippet(b []byte) string {
	const n = 200
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// Close releases idle connections.
func (u *Uploader) Close() error {
	u.client.CloseIdleConnections()
	return nil
}
