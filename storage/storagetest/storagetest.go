// Package storagetest runs an in-process storage backend that recomputes
// identifiers for uploaded bundles.
package storagetest

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pithecene-io/aipfs/cas"
	"github.com/pithecene-io/aipfs/types"
)

// Upload is one request the backend received.
type Upload struct {
	TxID    string
	ChainID string
	Bundle  types.Bundle
}

// Server is a fake storage backend.
type Server struct {
	*httptest.Server

	mu sync.Mutex
	// FailFirst answers the first n requests with 503.
	FailFirst int
	// RejectStatus, when non-zero, answers every request with that status.
	RejectStatus int
	// OmitRoot drops the root entry from responses.
	OmitRoot bool
	// RootOverride replaces the root hash in responses.
	RootOverride string
	// SizeAsNumber encodes sizes as JSON numbers instead of strings.
	SizeAsNumber bool
	// Hook runs at the start of every request.
	Hook func()

	requests int
	uploads  []Upload
}

// NewServer starts a backend closed on test cleanup. The API base URL is
// s.URL + "/api/v0".
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// APIURL returns the base URL to configure the uploader with.
func (s *Server) APIURL() string { return s.URL + "/api/v0" }

// Requests returns the number of requests received.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Uploads returns the successfully parsed uploads.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Configure mutates knobs under the server lock.
func (s *Server) Configure(fn func(s *Server)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

type entry struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size any    `json:"Size"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests++
	n := s.requests
	hook := s.Hook
	failFirst, reject := s.FailFirst, s.RejectStatus
	omitRoot, override, asNumber := s.OmitRoot, s.RootOverride, s.SizeAsNumber
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/upagent") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if n <= failFirst {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if reject != 0 {
		http.Error(w, "rejected", reject)
		return
	}

	tx, chain := r.URL.Query().Get("tx_id"), r.URL.Query().Get("chainid")
	if tx == "" || chain == "" {
		http.Error(w, "missing payment tag", http.StatusBadRequest)
		return
	}

	b, err := readBundle(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	addr, err := cas.AddressBundle(b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, Upload{TxID: tx, ChainID: chain, Bundle: b})
	s.mu.Unlock()

	size := func(v uint64) any {
		if asNumber {
			return v
		}
		return strconv.FormatUint(v, 10)
	}
	var out []entry
	for _, f := range b.Files {
		e := addr.Paths[f.Path]
		out = append(out, entry{Name: b.Name + "/" + f.Path, Hash: string(e.CID), Size: size(e.Size)})
	}
	if !omitRoot {
		root := string(addr.Root.CID)
		if override != "" {
			root = override
		}
		out = append(out, entry{Name: b.Name, Hash: root, Size: size(addr.Root.Size)})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": out})
}

func readBundle(r *http.Request) (types.Bundle, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return types.Bundle{}, err
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	var b types.Bundle
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.Bundle{}, err
		}
		name := strings.TrimSuffix(strings.TrimPrefix(part.FormName(), "files["), "]")
		data, err := io.ReadAll(part)
		if err != nil {
			return types.Bundle{}, err
		}
		if part.Header.Get("Content-Type") == "application/x-directory" {
			b.Name = name
			continue
		}
		rel, ok := strings.CutPrefix(name, b.Name+"/")
		if b.Name == "" || !ok {
			return types.Bundle{}, fmt.Errorf("part %q outside bundle directory", name)
		}
		b.Files = append(b.Files, types.FileEntry{Path: rel, Data: data})
	}
	if len(b.Files) == 0 {
		return types.Bundle{}, fmt.Errorf("no files")
	}
	return b, nil
}
