package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/aipfs/types"
)

// Frame type discriminants.
const (
	HeaderType = "bundle"
	FileType   = "file"
)

// header opens an archive.
type header struct {
	Type    string `msgpack:"type"`
	Version string `msgpack:"version"`
	Name    string `msgpack:"name"`
	Created int64  `msgpack:"created"`
	Files   int    `msgpack:"files"`
}

// fileFrame carries one bundle file.
type fileFrame struct {
	Type string `msgpack:"type"`
	Path string `msgpack:"path"`
	Data []byte `msgpack:"data"`
}

type framePeek struct {
	Type string `msgpack:"type"`
}

// Write encodes b to w.
func Write(w io.Writer, b types.Bundle) error {
	payload, err := msgpack.Marshal(&header{
		Type:    HeaderType,
		Version: types.JournalVersion,
		Name:    b.Name,
		Created: b.Created,
		Files:   len(b.Files),
	})
	if err != nil {
		return types.NewEncodingError(fmt.Errorf("archive header: %w", err))
	}
	if err := writeFrame(w, payload); err != nil {
		return fmt.Errorf("archive header: %w", err)
	}

	for _, f := range b.Files {
		payload, err := msgpack.Marshal(&fileFrame{Type: FileType, Path: f.Path, Data: f.Data})
		if err != nil {
			return types.NewEncodingError(fmt.Errorf("archive %s: %w", f.Path, err))
		}
		if err := writeFrame(w, payload); err != nil {
			return fmt.Errorf("archive %s: %w", f.Path, err)
		}
	}
	return nil
}

// Encode returns the archive bytes of b.
func Encode(b types.Bundle) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read decodes an archive. The file count in the header must match the
// frames that follow.
func Read(r io.Reader) (types.Bundle, error) {
	fr := &frameReader{r: r}

	payload, err := fr.next()
	if err == io.EOF {
		return types.Bundle{}, &FrameError{Kind: FrameErrorPartial, Msg: "empty archive"}
	}
	if err != nil {
		return types.Bundle{}, err
	}
	var h header
	if err := decode(payload, HeaderType, &h); err != nil {
		return types.Bundle{}, err
	}

	b := types.Bundle{Name: h.Name, Created: h.Created, Files: make([]types.FileEntry, 0, h.Files)}
	for {
		payload, err := fr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.Bundle{}, err
		}
		var f fileFrame
		if err := decode(payload, FileType, &f); err != nil {
			return types.Bundle{}, err
		}
		b.Files = append(b.Files, types.FileEntry{Path: f.Path, Data: f.Data})
	}

	if len(b.Files) != h.Files {
		return types.Bundle{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  fmt.Sprintf("archive has %d files, header declares %d", len(b.Files), h.Files),
		}
	}
	return b, nil
}

// Decode decodes archive bytes.
func Decode(data []byte) (types.Bundle, error) {
	return Read(bytes.NewReader(data))
}

func decode(payload []byte, want string, v any) error {
	var peek framePeek
	if err := msgpack.Unmarshal(payload, &peek); err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame type", Err: err}
	}
	if peek.Type != want {
		return &FrameError{
			Kind: FrameErrorSequence,
			Msg:  fmt.Sprintf("unexpected frame %q, want %q", peek.Type, want),
		}
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode " + want + " frame", Err: err}
	}
	return nil
}
