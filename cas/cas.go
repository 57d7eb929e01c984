// Package cas computes content identifiers for files and bundles without
// storing or transmitting anything.
//
// Identifiers are CIDv0 strings over UnixFS dag-pb nodes, matching what an
// IPFS node computes for the same files with default import settings
// (256KiB fixed-size chunks, balanced layout, no raw leaves). Every function
// is pure: identical input yields identical output regardless of call order.
package cas

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/pithecene-io/aipfs/types"
)

// ChunkSize is the fixed leaf size files are split into.
const ChunkSize = 262144

// MaxLinks is the fan-out of the balanced file layout.
const MaxLinks = 174

// Entry is the identifier of one addressed node.
type Entry struct {
	// CID is the content identifier.
	CID types.ContentIdentifier
	// Size is the cumulative serialized size of the node and its
	// descendants (the dag-pb link size).
	Size uint64
	// FileSize is the byte length of the file content (0 for directories).
	FileSize uint64
}

// Addressing is the result of addressing a bundle.
type Addressing struct {
	// Root is the identifier of the bundle directory.
	Root Entry
	// Paths maps every normalized file and subdirectory path to its entry.
	Paths map[string]Entry
}

// node is a hashed dag-pb block.
type node struct {
	cid      cid.Cid
	size     uint64
	fileSize uint64
}

func (n node) entry() Entry {
	return Entry{CID: types.ContentIdentifier(n.cid.String()), Size: n.size, FileSize: n.fileSize}
}

func (n node) link(name string) pbLink {
	return pbLink{Hash: n.cid.Bytes(), Name: name, Tsize: n.size}
}

func hashBlock(block []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(block, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV0(mh), nil
}

// AddressFile computes the identifier of a single file.
func AddressFile(data []byte) (Entry, error) {
	n, err := addressFile(data)
	if err != nil {
		return Entry{}, types.NewEncodingError(err)
	}
	return n.entry(), nil
}

func addressFile(data []byte) (node, error) {
	leaves := make([]node, 0, len(data)/ChunkSize+1)
	for off := 0; ; off += ChunkSize {
		end := min(off+ChunkSize, len(data))
		leaf, err := addressLeaf(data[off:end])
		if err != nil {
			return node{}, err
		}
		leaves = append(leaves, leaf)
		if end == len(data) {
			break
		}
	}
	if len(leaves) == 1 {
		return leaves[0], nil
	}
	return reduceBalanced(leaves)
}

func addressLeaf(chunk []byte) (node, error) {
	size := uint64(len(chunk))
	block := encodeNode(unixfsData{Type: unixfsFile, Data: chunk, FileSize: &size}.marshal(), nil)
	c, err := hashBlock(block)
	if err != nil {
		return node{}, err
	}
	return node{cid: c, size: uint64(len(block)), fileSize: size}, nil
}

// reduceBalanced groups nodes into parents of at most MaxLinks children
// until a single root remains.
func reduceBalanced(nodes []node) (node, error) {
	for {
		parents := make([]node, 0, len(nodes)/MaxLinks+1)
		for i := 0; i < len(nodes); i += MaxLinks {
			p, err := addressParent(nodes[i:min(i+MaxLinks, len(nodes))])
			if err != nil {
				return node{}, err
			}
			parents = append(parents, p)
		}
		if len(parents) == 1 {
			return parents[0], nil
		}
		nodes = parents
	}
}

func addressParent(children []node) (node, error) {
	var total uint64
	sizes := make([]uint64, len(children))
	links := make([]pbLink, len(children))
	var linked uint64
	for i, ch := range children {
		total += ch.fileSize
		sizes[i] = ch.fileSize
		links[i] = ch.link("")
		linked += ch.size
	}
	block := encodeNode(unixfsData{Type: unixfsFile, FileSize: &total, BlockSizes: sizes}.marshal(), links)
	c, err := hashBlock(block)
	if err != nil {
		return node{}, err
	}
	return node{cid: c, size: uint64(len(block)) + linked, fileSize: total}, nil
}

// NormalizePath cleans a bundle-relative path. It rejects empty, absolute
// and parent-escaping paths.
func NormalizePath(p string) (string, error) {
	if strings.ContainsRune(p, '\\') {
		p = strings.ReplaceAll(p, `\`, "/")
	}
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("invalid path %q", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid path %q", p)
	}
	return clean, nil
}

// dir is an in-memory directory tree built from bundle paths.
type dir struct {
	files map[string][]byte
	dirs  map[string]*dir
}

func newDir() *dir {
	return &dir{files: map[string][]byte{}, dirs: map[string]*dir{}}
}

func (d *dir) insert(p string, data []byte) error {
	parts := strings.Split(p, "/")
	cur := d
	for i, name := range parts[:len(parts)-1] {
		if _, ok := cur.files[name]; ok {
			return fmt.Errorf("path %q collides with file %q", p, strings.Join(parts[:i+1], "/"))
		}
		next, ok := cur.dirs[name]
		if !ok {
			next = newDir()
			cur.dirs[name] = next
		}
		cur = next
	}
	leaf := parts[len(parts)-1]
	if _, ok := cur.files[leaf]; ok {
		return fmt.Errorf("duplicate path %q", p)
	}
	if _, ok := cur.dirs[leaf]; ok {
		return fmt.Errorf("path %q collides with a directory", p)
	}
	cur.files[leaf] = data
	return nil
}

// AddressBundle computes the identifier of every file and directory in b
// and of the bundle directory itself. The bundle name does not take part
// in hashing.
func AddressBundle(b types.Bundle) (*Addressing, error) {
	if len(b.Files) == 0 {
		return nil, types.ErrEmptyBundle
	}

	root := newDir()
	for _, f := range b.Files {
		p, err := NormalizePath(f.Path)
		if err != nil {
			return nil, types.NewEncodingError(err)
		}
		if err := root.insert(p, f.Data); err != nil {
			return nil, types.NewEncodingError(err)
		}
	}

	paths := make(map[string]Entry, len(b.Files))
	n, err := addressDir(root, "", paths)
	if err != nil {
		return nil, types.NewEncodingError(err)
	}
	return &Addressing{Root: n.entry(), Paths: paths}, nil
}

func addressDir(d *dir, prefix string, out map[string]Entry) (node, error) {
	names := make([]string, 0, len(d.files)+len(d.dirs))
	for name := range d.files {
		names = append(names, name)
	}
	for name := range d.dirs {
		names = append(names, name)
	}
	sort.Strings(names)

	links := make([]pbLink, 0, len(names))
	var linked uint64
	for _, name := range names {
		var (
			child node
			err   error
		)
		if data, ok := d.files[name]; ok {
			child, err = addressFile(data)
		} else {
			child, err = addressDir(d.dirs[name], prefix+name+"/", out)
		}
		if err != nil {
			return node{}, err
		}
		out[prefix+name] = child.entry()
		links = append(links, child.link(name))
		linked += child.size
	}

	block := encodeNode(unixfsData{Type: unixfsDirectory}.marshal(), links)
	c, err := hashBlock(block)
	if err != nil {
		return node{}, err
	}
	return node{cid: c, size: uint64(len(block)) + linked}, nil
}

// Parse validates an identifier string.
func Parse(s string) (cid.Cid, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("parse identifier %q: %w", s, err)
	}
	return c, nil
}

// Equal reports whether two identifiers address the same content,
// tolerating CIDv0/CIDv1 encodings of the same dag-pb multihash.
func Equal(a, b types.ContentIdentifier) bool {
	if a == b {
		return true
	}
	ca, errA := cid.Decode(string(a))
	cb, errB := cid.Decode(string(b))
	if errA != nil || errB != nil {
		return false
	}
	return ca.Type() == cb.Type() && string(ca.Hash()) == string(cb.Hash())
}

// errNotDagPB is returned by ToV1 for identifiers of other codecs.
var errNotDagPB = errors.New("identifier is not dag-pb")

// ToV1 re-encodes a dag-pb identifier as CIDv1.
func ToV1(id types.ContentIdentifier) (cid.Cid, error) {
	c, err := Parse(string(id))
	if err != nil {
		return cid.Undef, err
	}
	if c.Type() != cid.DagProtobuf {
		return cid.Undef, errNotDagPB
	}
	return cid.NewCidV1(cid.DagProtobuf, c.Hash()), nil
}
