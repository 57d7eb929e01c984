package cas

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pithecene-io/aipfs/types"
)

func TestAddressFile_KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want types.ContentIdentifier
	}{
		{"empty", nil, "QmbFMke1KXqnYyBBWxB74N4c5SBnJMVAiMNRcGu6x1AwQH"},
		{"hello world newline", []byte("hello world\n"), "QmT78zSuBmuS4z925WZfrqQ1qHaJ56DQaTfyMUF7F8ff5o"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := AddressFile(tt.data)
			if err != nil {
				t.Fatalf("AddressFile: %v", err)
			}
			if e.CID != tt.want {
				t.Errorf("CID = %s, want %s", e.CID, tt.want)
			}
			if e.FileSize != uint64(len(tt.data)) {
				t.Errorf("FileSize = %d, want %d", e.FileSize, len(tt.data))
			}
		})
	}
}

func TestAddressDir_EmptyVector(t *testing.T) {
	n, err := addressDir(newDir(), "", map[string]Entry{})
	if err != nil {
		t.Fatalf("addressDir: %v", err)
	}
	if got := n.cid.String(); got != "QmUNLLsPACCz1vLxQVkXqqLX5R1X345qqfHbsf67hvA3Nn" {
		t.Errorf("empty dir CID = %s", got)
	}
	if n.size != 4 {
		t.Errorf("empty dir size = %d, want 4", n.size)
	}
}

func TestAddressFile_MultiChunk(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, ChunkSize+10)

	e, err := AddressFile(data)
	if err != nil {
		t.Fatalf("AddressFile: %v", err)
	}
	first, _ := AddressFile(data[:ChunkSize])
	second, _ := AddressFile(data[ChunkSize:])

	if e.CID == first.CID {
		t.Error("multi-chunk root must differ from its first leaf")
	}
	if e.FileSize != uint64(len(data)) {
		t.Errorf("FileSize = %d, want %d", e.FileSize, len(data))
	}
	// Cumulative size covers both leaves plus the parent block.
	if e.Size <= first.Size+second.Size {
		t.Errorf("Size = %d, want > %d", e.Size, first.Size+second.Size)
	}
}

func TestReduceBalanced_Depth(t *testing.T) {
	leaf, err := addressLeaf([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	leaves := make([]node, MaxLinks+1)
	for i := range leaves {
		leaves[i] = leaf
	}
	root, err := reduceBalanced(leaves)
	if err != nil {
		t.Fatal(err)
	}
	if root.fileSize != uint64(MaxLinks+1) {
		t.Errorf("fileSize = %d, want %d", root.fileSize, MaxLinks+1)
	}

	flat, err := addressParent(leaves[:MaxLinks])
	if err != nil {
		t.Fatal(err)
	}
	if root.cid.Equals(flat.cid) {
		t.Error("175 leaves must produce a deeper tree than 174")
	}
}

func testBundle() types.Bundle {
	return types.Bundle{
		Name: "agent_1",
		Files: []types.FileEntry{
			{Path: "index.html", Data: []byte("<html></html>")},
			{Path: "avatar.png", Data: []byte("png-bytes")},
		},
	}
}

func TestAddressBundle_Deterministic(t *testing.T) {
	a, err := AddressBundle(testBundle())
	if err != nil {
		t.Fatalf("AddressBundle: %v", err)
	}
	// Unrelated work between calls must not affect the result.
	if _, err := AddressFile([]byte("noise")); err != nil {
		t.Fatal(err)
	}
	b, err := AddressBundle(testBundle())
	if err != nil {
		t.Fatalf("AddressBundle: %v", err)
	}
	if a.Root != b.Root {
		t.Errorf("root differs across calls: %s vs %s", a.Root.CID, b.Root.CID)
	}
	for p, e := range a.Paths {
		if b.Paths[p] != e {
			t.Errorf("path %s differs across calls", p)
		}
	}
}

func TestAddressBundle_OrderIndependent(t *testing.T) {
	fwd := testBundle()
	rev := testBundle()
	rev.Files[0], rev.Files[1] = rev.Files[1], rev.Files[0]

	a, _ := AddressBundle(fwd)
	b, _ := AddressBundle(rev)
	if a.Root.CID != b.Root.CID {
		t.Errorf("entry order changed root: %s vs %s", a.Root.CID, b.Root.CID)
	}
}

func TestAddressBundle_NameIgnored(t *testing.T) {
	a := testBundle()
	b := testBundle()
	b.Name = "agent_2"
	ra, _ := AddressBundle(a)
	rb, _ := AddressBundle(b)
	if ra.Root.CID != rb.Root.CID {
		t.Error("bundle name must not affect the root identifier")
	}
}

func TestAddressBundle_Sensitivity(t *testing.T) {
	base, err := AddressBundle(testBundle())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(b *types.Bundle)
	}{
		{"content change", func(b *types.Bundle) { b.Files[1].Data = []byte("png-bytez") }},
		{"rename", func(b *types.Bundle) { b.Files[1].Path = "avatar.jpg" }},
		{"move into subdir", func(b *types.Bundle) { b.Files[1].Path = "img/avatar.png" }},
		{"extra file", func(b *types.Bundle) {
			b.Files = append(b.Files, types.FileEntry{Path: "extra.txt", Data: []byte("x")})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBundle()
			tt.mutate(&b)
			got, err := AddressBundle(b)
			if err != nil {
				t.Fatal(err)
			}
			if got.Root.CID == base.Root.CID {
				t.Error("root identifier did not change")
			}
		})
	}
}

func TestAddressBundle_PathsMap(t *testing.T) {
	b := testBundle()
	b.Files = append(b.Files, types.FileEntry{Path: "assets/logo.png", Data: []byte("logo")})

	a, err := AddressBundle(b)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"index.html", "avatar.png", "assets", "assets/logo.png"} {
		if _, ok := a.Paths[p]; !ok {
			t.Errorf("missing path %s", p)
		}
	}

	avatar, _ := AddressFile([]byte("png-bytes"))
	if a.Paths["avatar.png"].CID != avatar.CID {
		t.Error("file identifier inside bundle must equal standalone identifier")
	}
}

func TestAddressBundle_Errors(t *testing.T) {
	if _, err := AddressBundle(types.Bundle{}); !errors.Is(err, types.ErrEmptyBundle) {
		t.Errorf("expected ErrEmptyBundle, got %v", err)
	}

	tests := []struct {
		name  string
		paths []string
	}{
		{"collision after normalization", []string{"a/b.txt", "a//b.txt"}},
		{"dot segment collision", []string{"x.txt", "./x.txt"}},
		{"file vs directory", []string{"a", "a/b.txt"}},
		{"directory vs file", []string{"a/b.txt", "a"}},
		{"parent escape", []string{"../x.txt"}},
		{"absolute", []string{"/x.txt"}},
		{"empty", []string{""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b types.Bundle
			for _, p := range tt.paths {
				b.Files = append(b.Files, types.FileEntry{Path: p, Data: []byte(p)})
			}
			_, err := AddressBundle(b)
			if !errors.Is(err, types.ErrEncoding) {
				t.Errorf("expected ErrEncoding, got %v", err)
			}
		})
	}
}

func TestEqualAndToV1(t *testing.T) {
	id := types.ContentIdentifier("QmT78zSuBmuS4z925WZfrqQ1qHaJ56DQaTfyMUF7F8ff5o")
	v1, err := ToV1(id)
	if err != nil {
		t.Fatalf("ToV1: %v", err)
	}
	if v1.Version() != 1 {
		t.Errorf("version = %d, want 1", v1.Version())
	}
	if !Equal(id, types.ContentIdentifier(v1.String())) {
		t.Error("v0 and v1 encodings should compare equal")
	}
	if Equal(id, "QmbFMke1KXqnYyBBWxB74N4c5SBnJMVAiMNRcGu6x1AwQH") {
		t.Error("different content should not compare equal")
	}
	if Equal(id, "not-a-cid") {
		t.Error("garbage should not compare equal")
	}
}
