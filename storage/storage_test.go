package storage

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/aipfs/cas"
	"github.com/pithecene-io/aipfs/iox"
	"github.com/pithecene-io/aipfs/storage/storagetest"
	"github.com/pithecene-io/aipfs/types"
)

func testBundle() types.Bundle {
	return types.Bundle{
		Name:    "agent_1735689600000",
		Created: 1735689600000,
		Files: []types.FileEntry{
			{Path: "index.html", Data: []byte("<html>nova</html>")},
			{Path: "avatar.png", Data: []byte("\x89PNG\r\n\x1a\nnova")},
		},
	}
}

func newUploader(t *testing.T, apiURL string, retries int) *Uploader {
	t.Helper()
	u, err := New(Config{APIURL: apiURL, Retries: retries, Backoff: time.Millisecond, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(iox.CloseFunc(u))
	return u
}

func TestUploadBundle_Success(t *testing.T) {
	srv := storagetest.NewServer(t)
	u := newUploader(t, srv.APIURL(), 0)

	var mu sync.Mutex
	var seen []int
	res, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, func(p int) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("UploadBundle: %v", err)
	}

	want, _ := cas.AddressBundle(testBundle())
	if res.Root.Hash != want.Root.CID {
		t.Errorf("root = %s, want %s", res.Root.Hash, want.Root.CID)
	}
	if res.Root.Name != "agent_1735689600000" {
		t.Errorf("root name = %s", res.Root.Name)
	}
	if res.Root.Size != int64(want.Root.Size) {
		t.Errorf("root size = %d, want %d", res.Root.Size, want.Root.Size)
	}

	ups := srv.Uploads()
	if len(ups) != 1 || ups[0].TxID != "0xabc" || ups[0].ChainID != "1" {
		t.Fatalf("unexpected uploads %+v", ups)
	}
	if len(ups[0].Bundle.Files) != 2 {
		t.Errorf("backend received %d files", len(ups[0].Bundle.Files))
	}

	if len(seen) == 0 || seen[len(seen)-1] != 100 {
		t.Fatalf("progress should end at 100, got %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress decreased: %v", seen)
		}
	}
}

func TestUploadBundle_NumericSizes(t *testing.T) {
	srv := storagetest.NewServer(t)
	srv.Configure(func(s *storagetest.Server) { s.SizeAsNumber = true })
	u := newUploader(t, srv.APIURL(), 0)

	res, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil)
	if err != nil {
		t.Fatalf("UploadBundle: %v", err)
	}
	if res.Root.Size == 0 {
		t.Error("numeric size not parsed")
	}
}

func TestUploadBundle_RetriesNetworkErrors(t *testing.T) {
	srv := storagetest.NewServer(t)
	srv.Configure(func(s *storagetest.Server) { s.FailFirst = 2 })
	u := newUploader(t, srv.APIURL(), 3)

	res, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil)
	if err != nil {
		t.Fatalf("UploadBundle: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if got := srv.Requests(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestUploadBundle_ExhaustsRetries(t *testing.T) {
	srv := storagetest.NewServer(t)
	srv.Configure(func(s *storagetest.Server) { s.FailFirst = 100 })
	u := newUploader(t, srv.APIURL(), 2)

	_, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil)
	if !errors.Is(err, types.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 StatusError in chain, got %v", err)
	}
	if got := srv.Requests(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestUploadBundle_RejectedIsNotRetried(t *testing.T) {
	srv := storagetest.NewServer(t)
	srv.Configure(func(s *storagetest.Server) { s.RejectStatus = http.StatusForbidden })
	u := newUploader(t, srv.APIURL(), 3)

	_, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil)
	if !errors.Is(err, types.ErrUploadRejected) {
		t.Fatalf("expected ErrUploadRejected, got %v", err)
	}
	if got := srv.Requests(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestUploadBundle_NoRootEntry(t *testing.T) {
	srv := storagetest.NewServer(t)
	srv.Configure(func(s *storagetest.Server) { s.OmitRoot = true })
	u := newUploader(t, srv.APIURL(), 0)

	_, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil)
	if !errors.Is(err, types.ErrUploadRejected) {
		t.Fatalf("expected ErrUploadRejected, got %v", err)
	}
}

func TestUploadBundle_EmptyPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer ts.Close()
	u := newUploader(t, ts.URL, 0)

	_, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil)
	if !errors.Is(err, types.ErrUploadRejected) {
		t.Fatalf("expected ErrUploadRejected, got %v", err)
	}
}

func TestUploadBundle_TimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	u, err := New(Config{APIURL: ts.URL, Timeout: 30 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	_, err = u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil)
	if !errors.Is(err, types.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestUploadBundle_Idempotent(t *testing.T) {
	srv := storagetest.NewServer(t)
	srv.Configure(func(s *storagetest.Server) { s.FailFirst = 1 })
	u := newUploader(t, srv.APIURL(), 0)

	if _, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil); !errors.Is(err, types.ErrNetwork) {
		t.Fatalf("expected first upload to fail with ErrNetwork, got %v", err)
	}
	first, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := u.UploadBundle(t.Context(), testBundle(), "0xabc", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Root != second.Root {
		t.Errorf("receipts differ: %+v vs %+v", first.Root, second.Root)
	}
}

func TestEncodeBundle_Deterministic(t *testing.T) {
	a, ctA, err := encodeBundle(testBundle())
	if err != nil {
		t.Fatal(err)
	}
	b, ctB, _ := encodeBundle(testBundle())
	if string(a) != string(b) || ctA != ctB {
		t.Error("encoding must be byte-identical across calls")
	}
}

func TestUploadBundle_InvalidInput(t *testing.T) {
	u := newUploader(t, "http://127.0.0.1:1", 0)
	if _, err := u.UploadBundle(t.Context(), types.Bundle{}, "0xabc", 1, nil); !errors.Is(err, types.ErrEmptyBundle) {
		t.Errorf("expected ErrEmptyBundle, got %v", err)
	}
	if _, err := u.UploadBundle(t.Context(), testBundle(), "", 1, nil); err == nil {
		t.Error("expected error without tx id")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := New(Config{APIURL: "http://x", Retries: -1}); err == nil {
		t.Error("expected error for negative retries")
	}
}
