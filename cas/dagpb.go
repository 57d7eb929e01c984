package cas

import (
	"bytes"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// UnixFS node types.
const (
	unixfsDirectory = 1
	unixfsFile      = 2
)

// pbLink is a dag-pb link.
type pbLink struct {
	Hash  []byte
	Name  string
	Tsize uint64
}

// unixfsData is the subset of the UnixFS Data message the importer emits.
type unixfsData struct {
	Type       uint64
	Data       []byte
	FileSize   *uint64
	BlockSizes []uint64
}

// marshal encodes fields in field-number order. Data is omitted when
// empty; blocksizes are written unpacked.
func (u unixfsData) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, u.Type)
	if len(u.Data) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, u.Data)
	}
	if u.FileSize != nil {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, *u.FileSize)
	}
	for _, s := range u.BlockSizes {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, s)
	}
	return b
}

// encodeNode serializes a dag-pb PBNode in canonical form: links sorted
// bytewise by name and written before the data field.
func encodeNode(data []byte, links []pbLink) []byte {
	sorted := make([]pbLink, len(links))
	copy(sorted, links)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare([]byte(sorted[i].Name), []byte(sorted[j].Name)) < 0
	})

	var b []byte
	for _, l := range sorted {
		var lb []byte
		lb = protowire.AppendTag(lb, 1, protowire.BytesType)
		lb = protowire.AppendBytes(lb, l.Hash)
		lb = protowire.AppendTag(lb, 2, protowire.BytesType)
		lb = protowire.AppendString(lb, l.Name)
		lb = protowire.AppendTag(lb, 3, protowire.VarintType)
		lb = protowire.AppendVarint(lb, l.Tsize)

		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, lb)
	}
	if data != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, data)
	}
	return b
}
