// Package beam reads and writes the chunked binary container format used
// for compiled module artifacts. A container is an IFF-style file: a
// 12-byte frame (magic, declared size, form type) followed by tagged,
// length-prefixed chunks padded to 4-byte boundaries.
package beam

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/charmap"
)

// ---------------------------------------------------------------------------
// Container Format Constants
// ---------------------------------------------------------------------------

// Magic is the 4-byte marker identifying a container file.
var Magic = [4]byte{'F', 'O', 'R', '1'}

// FormType is the declared format identifier that must follow the size
// field in the frame header.
var FormType = [4]byte{'B', 'E', 'A', 'M'}

// frameHeaderSize is magic(4) + declared size(4) + form type(4).
const frameHeaderSize = 12

// chunkHeaderSize is tag(4) + payload length(4).
const chunkHeaderSize = 8

// Chunk tags with structure known to this package.
const (
	TagAtomNarrow = "Atom" // latin-1 atom table
	TagAtomWide   = "AtU8" // UTF-8 atom table
	TagExports    = "ExpT"
	TagImports    = "ImpT"
	TagAttributes = "Attr"
	TagSyntax     = "Dbgi"
)

// VolatileTags are chunk tags excluded from semantic equality: debug,
// documentation and compile-metadata chunks that change between otherwise
// identical builds.
var VolatileTags = map[string]bool{
	"CInf": true,
	"Dbgi": true,
	"Docs": true,
	"Line": true,
	"Abst": true,
}

// ---------------------------------------------------------------------------
// Container Error Types
// ---------------------------------------------------------------------------

var (
	ErrNotAContainer      = errors.New("not a container: bad magic or form type")
	ErrSizeMismatch       = errors.New("declared container size does not match data")
	ErrInvalidChunkHeader = errors.New("invalid chunk header")
	ErrChunkTooBig        = errors.New("chunk length exceeds remaining data")
	ErrMissingChunk       = errors.New("required chunk missing")
	ErrNoAtomTable        = errors.New("no atom table chunk present")
	ErrBadAtomTable       = errors.New("malformed atom table")
)

// ---------------------------------------------------------------------------
// Chunk and File
// ---------------------------------------------------------------------------

// Chunk is one tagged sub-record of a container. Data is nil when the
// chunk was scanned in index mode.
type Chunk struct {
	Tag    string
	Offset int // payload offset within the (decompressed) container
	Size   int // declared payload length, excluding padding
	Data   []byte
}

// File is the parsed result of reading a container: the module's own name
// plus the chunks that were requested, in the order they appear on disk.
type File struct {
	Module string
	Chunks []Chunk

	atoms []string // decoded atom table, 1-based indexing on lookup
}

// Chunk returns the chunk with the given tag, or nil if absent.
func (f *File) Chunk(tag string) *Chunk {
	for i := range f.Chunks {
		if f.Chunks[i].Tag == tag {
			return &f.Chunks[i]
		}
	}
	return nil
}

// Tags returns the chunk tags in file order.
func (f *File) Tags() []string {
	tags := make([]string, len(f.Chunks))
	for i, c := range f.Chunks {
		tags[i] = c.Tag
	}
	return tags
}

// Atom returns the 1-based atom table entry idx.
func (f *File) Atom(idx uint32) (string, error) {
	if idx == 0 || int(idx) > len(f.atoms) {
		return "", fmt.Errorf("%w: atom index %d out of range", ErrBadAtomTable, idx)
	}
	return f.atoms[idx-1], nil
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// ReadFile reads the container at path, materializing the chunks named in
// tags. Tags listed in optional may be absent; any other requested tag
// that is missing is an error. A nil tags slice requests every chunk.
func ReadFile(path string, tags, optional []string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f, err := Read(data, tags, optional)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Read parses a container from memory. See ReadFile.
func Read(data []byte, tags, optional []string) (*File, error) {
	data, err := inflate(data)
	if err != nil {
		return nil, err
	}

	wanted := tagSet(tags)
	f := &File{}
	err = walkChunks(data, func(tag string, offset, size int) bool {
		if wanted == nil || wanted[tag] {
			f.Chunks = append(f.Chunks, Chunk{
				Tag:    tag,
				Offset: offset,
				Size:   size,
				Data:   data[offset : offset+size],
			})
			if wanted != nil {
				delete(wanted, tag)
				return len(wanted) > 0
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	if err := checkMissing(wanted, optional); err != nil {
		return nil, err
	}
	if err := f.decodeAtoms(data); err != nil {
		return nil, err
	}
	return f, nil
}

// ReadIndex scans every chunk header without copying payloads. The
// resulting chunks carry offsets and sizes only.
func ReadIndex(data []byte) (*File, error) {
	data, err := inflate(data)
	if err != nil {
		return nil, err
	}

	f := &File{}
	err = walkChunks(data, func(tag string, offset, size int) bool {
		f.Chunks = append(f.Chunks, Chunk{Tag: tag, Offset: offset, Size: size})
		return true
	})
	if err != nil {
		return nil, err
	}
	if err := f.decodeAtoms(data); err != nil {
		return nil, err
	}
	return f, nil
}

// ModuleName reads just enough of a container to learn the module's own
// name: an index scan plus decoding of the first atom table entry.
func ModuleName(data []byte) (string, error) {
	f, err := ReadIndex(data)
	if err != nil {
		return "", err
	}
	return f.Module, nil
}

// walkChunks validates the frame header and calls fn for each chunk
// header in file order. fn returns false to stop early.
func walkChunks(data []byte, fn func(tag string, offset, size int) bool) error {
	if len(data) < frameHeaderSize {
		return ErrNotAContainer
	}
	if !bytes.Equal(data[0:4], Magic[:]) || !bytes.Equal(data[8:12], FormType[:]) {
		return ErrNotAContainer
	}
	declared := binary.BigEndian.Uint32(data[4:8])
	if int(declared) != len(data)-8 {
		return fmt.Errorf("%w: declared %d, have %d", ErrSizeMismatch, declared, len(data)-8)
	}

	off := frameHeaderSize
	for off < len(data) {
		if off+chunkHeaderSize > len(data) {
			return fmt.Errorf("%w: truncated header at offset %d", ErrInvalidChunkHeader, off)
		}
		tag := data[off : off+4]
		if !validTag(tag) {
			return fmt.Errorf("%w: tag %q at offset %d", ErrInvalidChunkHeader, tag, off)
		}
		size := int(binary.BigEndian.Uint32(data[off+4 : off+8]))
		payloadOff := off + chunkHeaderSize
		if payloadOff+size > len(data) {
			return fmt.Errorf("%w: chunk %q declares %d bytes, %d remain",
				ErrChunkTooBig, tag, size, len(data)-payloadOff)
		}
		if !fn(string(tag), payloadOff, size) {
			return nil
		}
		off = payloadOff + pad4(size)
	}
	return nil
}

// decodeAtoms locates the atom table chunk (either encoding), decodes it,
// and records the module name from the first entry. In index mode the
// chunk carries no payload, so the table is sliced from data directly.
func (f *File) decodeAtoms(data []byte) error {
	c := f.Chunk(TagAtomWide)
	if c == nil {
		c = f.Chunk(TagAtomNarrow)
	}
	if c == nil {
		// Atom table was filtered out by the requested tag set: scan
		// again in index mode to find it.
		var found *Chunk
		err := walkChunks(data, func(tag string, offset, size int) bool {
			if tag == TagAtomWide || tag == TagAtomNarrow {
				found = &Chunk{Tag: tag, Offset: offset, Size: size}
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if found == nil {
			return ErrNoAtomTable
		}
		c = found
	}

	payload := c.Data
	if payload == nil {
		payload = data[c.Offset : c.Offset+c.Size]
	}
	atoms, err := decodeAtomTable(c.Tag, payload)
	if err != nil {
		return err
	}
	f.atoms = atoms
	f.Module = atoms[0]
	return nil
}

// decodeAtomTable parses an atom table payload: a big-endian u32 count
// followed by length-prefixed names. The tag selects the text encoding:
// the narrow table is latin-1, the wide table UTF-8.
func decodeAtomTable(tag string, payload []byte) ([]string, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: %q payload too short", ErrBadAtomTable, tag)
	}
	count := int(binary.BigEndian.Uint32(payload[0:4]))
	if count < 1 {
		return nil, fmt.Errorf("%w: empty %q table", ErrBadAtomTable, tag)
	}

	latin1 := charmap.ISO8859_1.NewDecoder()
	atoms := make([]string, 0, count)
	off := 4
	for i := 0; i < count; i++ {
		if off >= len(payload) {
			return nil, fmt.Errorf("%w: %q truncated at atom %d", ErrBadAtomTable, tag, i)
		}
		n := int(payload[off])
		off++
		if off+n > len(payload) {
			return nil, fmt.Errorf("%w: %q truncated at atom %d", ErrBadAtomTable, tag, i)
		}
		raw := payload[off : off+n]
		off += n

		if tag == TagAtomWide {
			if !utf8.Valid(raw) {
				return nil, fmt.Errorf("%w: atom %d is not valid UTF-8", ErrBadAtomTable, i)
			}
			atoms = append(atoms, string(raw))
		} else {
			decoded, err := latin1.Bytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: atom %d: %v", ErrBadAtomTable, i, err)
			}
			atoms = append(atoms, string(decoded))
		}
	}
	return atoms, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// inflate applies the transparent decompression pass: a gzip-wrapped
// container is expanded before frame validation, anything else is
// returned untouched.
func inflate(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAContainer, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAContainer, err)
	}
	return out, nil
}

func tagSet(tags []string) map[string]bool {
	if tags == nil {
		return nil
	}
	s := make(map[string]bool, len(tags))
	for _, t := range tags {
		s[t] = true
	}
	return s
}

// checkMissing reports an error for any requested tag that was not found
// and is not declared optional.
func checkMissing(unsatisfied map[string]bool, optional []string) error {
	if len(unsatisfied) == 0 {
		return nil
	}
	opt := tagSet(optional)
	for tag := range unsatisfied {
		if opt == nil || !opt[tag] {
			return fmt.Errorf("%w: %q", ErrMissingChunk, tag)
		}
	}
	return nil
}

func validTag(tag []byte) bool {
	for _, b := range tag {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

func pad4(n int) int {
	return (n + 3) &^ 3
}
