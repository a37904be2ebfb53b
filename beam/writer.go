package beam

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/text/encoding/charmap"
)

// ---------------------------------------------------------------------------
// Writer: authors container artifacts
// ---------------------------------------------------------------------------

// Writer builds a container artifact for one module. Atoms referenced by
// the export and import tables are interned into a single atom table
// whose first entry is the module's own name. The zero value is not
// usable; call NewWriter.
type Writer struct {
	module    string
	wide      bool // emit the UTF-8 atom table instead of latin-1
	atoms     []string
	atomIndex map[string]uint32 // name -> 1-based index

	exports []Export
	imports []Import
	extra   []Chunk // verbatim chunks in insertion order
}

// NewWriter creates a writer for the named module using the wide (UTF-8)
// atom table encoding.
func NewWriter(module string) *Writer {
	w := &Writer{
		module:    module,
		wide:      true,
		atomIndex: make(map[string]uint32),
	}
	w.intern(module)
	return w
}

// SetNarrowAtoms switches the writer to the narrow (latin-1) atom table
// encoding. Atom names must fit in latin-1.
func (w *Writer) SetNarrowAtoms() {
	w.wide = false
}

// intern returns the 1-based atom table index for name, adding it if new.
func (w *Writer) intern(name string) uint32 {
	if idx, ok := w.atomIndex[name]; ok {
		return idx
	}
	w.atoms = append(w.atoms, name)
	idx := uint32(len(w.atoms))
	w.atomIndex[name] = idx
	return idx
}

// AddExport records an exported function.
func (w *Writer) AddExport(name string, arity uint32) {
	w.intern(name)
	w.exports = append(w.exports, Export{Name: name, Arity: arity})
}

// AddImport records a call into another module.
func (w *Writer) AddImport(module, name string, arity uint32) {
	w.intern(module)
	w.intern(name)
	w.imports = append(w.imports, Import{Module: module, Name: name, Arity: arity})
}

// SetAttributes encodes and stores the attributes chunk.
func (w *Writer) SetAttributes(a *Attributes) error {
	payload, err := MarshalAttributes(a)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}
	w.SetChunk(TagAttributes, payload)
	return nil
}

// SetChunk stores a verbatim chunk payload, replacing any prior chunk
// with the same tag.
func (w *Writer) SetChunk(tag string, payload []byte) {
	for i := range w.extra {
		if w.extra[i].Tag == tag {
			w.extra[i].Data = payload
			w.extra[i].Size = len(payload)
			return
		}
	}
	w.extra = append(w.extra, Chunk{Tag: tag, Size: len(payload), Data: payload})
}

// Bytes assembles the framed container.
func (w *Writer) Bytes() ([]byte, error) {
	var body bytes.Buffer

	atomPayload, err := w.atomTablePayload()
	if err != nil {
		return nil, err
	}
	atomTag := TagAtomWide
	if !w.wide {
		atomTag = TagAtomNarrow
	}
	writeChunk(&body, atomTag, atomPayload)

	if len(w.exports) > 0 {
		writeChunk(&body, TagExports, w.exportPayload())
	}
	if len(w.imports) > 0 {
		writeChunk(&body, TagImports, w.importPayload())
	}
	for _, c := range w.extra {
		writeChunk(&body, c.Tag, c.Data)
	}

	out := make([]byte, 0, frameHeaderSize+body.Len())
	out = append(out, Magic[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(4+body.Len()))
	out = append(out, FormType[:]...)
	out = append(out, body.Bytes()...)
	return out, nil
}

// WriteFile assembles the container and writes it to path.
func (w *Writer) WriteFile(path string) error {
	data, err := w.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (w *Writer) atomTablePayload() ([]byte, error) {
	var buf bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(w.atoms)))
	buf.Write(count[:])

	latin1 := charmap.ISO8859_1.NewEncoder()
	for _, atom := range w.atoms {
		raw := []byte(atom)
		if !w.wide {
			encoded, err := latin1.Bytes(raw)
			if err != nil {
				return nil, fmt.Errorf("atom %q does not fit the narrow encoding: %w", atom, err)
			}
			raw = encoded
		}
		if len(raw) > 255 {
			return nil, fmt.Errorf("atom %q exceeds 255 bytes", atom)
		}
		buf.WriteByte(byte(len(raw)))
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

func (w *Writer) exportPayload() []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(w.exports)))
	for _, e := range w.exports {
		out = binary.BigEndian.AppendUint32(out, w.atomIndex[e.Name])
		out = binary.BigEndian.AppendUint32(out, e.Arity)
		out = binary.BigEndian.AppendUint32(out, e.Label)
	}
	return out
}

func (w *Writer) importPayload() []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(w.imports)))
	for _, im := range w.imports {
		out = binary.BigEndian.AppendUint32(out, w.atomIndex[im.Module])
		out = binary.BigEndian.AppendUint32(out, w.atomIndex[im.Name])
		out = binary.BigEndian.AppendUint32(out, im.Arity)
	}
	return out
}

// writeChunk emits a chunk header, payload and padding to the next 4-byte
// boundary.
func writeChunk(buf *bytes.Buffer, tag string, payload []byte) {
	buf.WriteString(tag)
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(payload)))
	buf.Write(size[:])
	buf.Write(payload)
	for i := len(payload); i%4 != 0; i++ {
		buf.WriteByte(0)
	}
}
