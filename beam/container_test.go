package beam

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test Helpers: building test artifacts
// ---------------------------------------------------------------------------

// buildArtifact assembles a small but complete artifact for my_mod with a
// code chunk, exports, imports and attributes.
func buildArtifact(t testing.TB) []byte {
	t.Helper()

	w := NewWriter("my_mod")
	w.AddExport("start_link", 0)
	w.AddExport("code_change", 3)
	w.AddImport("other_mod", "do_thing", 2)
	if err := w.SetAttributes(&Attributes{
		Behaviours: []string{"gen_server"},
		Vsn:        "1",
	}); err != nil {
		t.Fatalf("SetAttributes failed: %v", err)
	}
	w.SetChunk("Code", []byte{1, 2, 3, 4, 5})
	w.SetChunk("CInf", []byte("compile metadata"))

	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	return data
}

// ---------------------------------------------------------------------------
// Frame and chunk validation
// ---------------------------------------------------------------------------

func TestReadRoundTrip(t *testing.T) {
	data := buildArtifact(t)

	f, err := Read(data, nil, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if f.Module != "my_mod" {
		t.Errorf("Module = %q, want my_mod", f.Module)
	}

	for _, tag := range []string{TagAtomWide, TagExports, TagImports, TagAttributes, "Code", "CInf"} {
		if f.Chunk(tag) == nil {
			t.Errorf("chunk %q missing", tag)
		}
	}

	exports, err := f.Exports()
	if err != nil {
		t.Fatalf("Exports failed: %v", err)
	}
	if len(exports) != 2 || exports[0].Name != "start_link" || exports[1].Arity != 3 {
		t.Errorf("exports = %v, want start_link/0 and code_change/3", exports)
	}

	imports, err := f.Imports()
	if err != nil {
		t.Fatalf("Imports failed: %v", err)
	}
	if len(imports) != 1 || imports[0].Module != "other_mod" || imports[0].Name != "do_thing" {
		t.Errorf("imports = %v, want other_mod:do_thing/2", imports)
	}

	attrs, err := f.Attributes()
	if err != nil {
		t.Fatalf("Attributes failed: %v", err)
	}
	if len(attrs.Behaviours) != 1 || attrs.Behaviours[0] != "gen_server" || attrs.Vsn != "1" {
		t.Errorf("attributes = %+v, want gen_server vsn 1", attrs)
	}
}

func TestReadBadMagic(t *testing.T) {
	data := buildArtifact(t)
	data[0] = 'X'
	if _, err := Read(data, nil, nil); !errors.Is(err, ErrNotAContainer) {
		t.Errorf("err = %v, want ErrNotAContainer", err)
	}
}

func TestReadBadFormType(t *testing.T) {
	data := buildArtifact(t)
	copy(data[8:12], "XXXX")
	if _, err := Read(data, nil, nil); !errors.Is(err, ErrNotAContainer) {
		t.Errorf("err = %v, want ErrNotAContainer", err)
	}
}

func TestReadSizeMismatch(t *testing.T) {
	data := buildArtifact(t)
	binary.BigEndian.PutUint32(data[4:8], uint32(len(data)))
	if _, err := Read(data, nil, nil); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("err = %v, want ErrSizeMismatch", err)
	}
}

func TestReadChunkTooBig(t *testing.T) {
	data := buildArtifact(t)
	// Inflate the first chunk's declared length past the end of the
	// container without touching the frame size.
	binary.BigEndian.PutUint32(data[frameHeaderSize+4:frameHeaderSize+8], uint32(len(data)))
	if _, err := Read(data, nil, nil); !errors.Is(err, ErrChunkTooBig) {
		t.Errorf("err = %v, want ErrChunkTooBig", err)
	}
}

func TestReadTruncatedChunkHeader(t *testing.T) {
	data := buildArtifact(t)
	// A few stray bytes after the last chunk: not enough for a header.
	data = append(data, 0xAA, 0xBB, 0xCC, 0xDD)
	binary.BigEndian.PutUint32(data[4:8], uint32(len(data)-8))
	if _, err := Read(data, nil, nil); !errors.Is(err, ErrInvalidChunkHeader) {
		t.Errorf("err = %v, want ErrInvalidChunkHeader", err)
	}
}

func TestReadMissingChunk(t *testing.T) {
	data := buildArtifact(t)

	if _, err := Read(data, []string{"NoPe"}, nil); !errors.Is(err, ErrMissingChunk) {
		t.Errorf("err = %v, want ErrMissingChunk", err)
	}

	// The same missing tag declared optional resolves to absence.
	f, err := Read(data, []string{"NoPe"}, []string{"NoPe"})
	if err != nil {
		t.Fatalf("Read with optional tag failed: %v", err)
	}
	if f.Chunk("NoPe") != nil {
		t.Error("optional missing chunk should be absent, not empty")
	}
	if f.Module != "my_mod" {
		t.Errorf("Module = %q, want my_mod", f.Module)
	}
}

func TestReadRequestedSubset(t *testing.T) {
	data := buildArtifact(t)

	f, err := Read(data, []string{"Code"}, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(f.Chunks) != 1 || f.Chunks[0].Tag != "Code" {
		t.Errorf("chunks = %v, want just Code", f.Tags())
	}
	if !bytes.Equal(f.Chunks[0].Data, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Code payload = %v", f.Chunks[0].Data)
	}
	// Module name is still decoded even when the atom table was not
	// requested.
	if f.Module != "my_mod" {
		t.Errorf("Module = %q, want my_mod", f.Module)
	}
}

func TestReadIndexMode(t *testing.T) {
	data := buildArtifact(t)

	index, err := ReadIndex(data)
	if err != nil {
		t.Fatalf("ReadIndex failed: %v", err)
	}
	full, err := Read(data, nil, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(index.Chunks) != len(full.Chunks) {
		t.Fatalf("index found %d chunks, full read %d", len(index.Chunks), len(full.Chunks))
	}
	for i, c := range index.Chunks {
		if c.Data != nil {
			t.Errorf("index chunk %q carries payload", c.Tag)
		}
		want := full.Chunks[i]
		if c.Tag != want.Tag || c.Offset != want.Offset || c.Size != want.Size {
			t.Errorf("index chunk %d = %+v, want %+v", i, c, want)
		}
		if got := data[c.Offset : c.Offset+c.Size]; !bytes.Equal(got, want.Data) {
			t.Errorf("chunk %q: sliced payload differs from materialized payload", c.Tag)
		}
	}
}

func TestModuleName(t *testing.T) {
	name, err := ModuleName(buildArtifact(t))
	if err != nil {
		t.Fatalf("ModuleName failed: %v", err)
	}
	if name != "my_mod" {
		t.Errorf("ModuleName = %q, want my_mod", name)
	}
}

// ---------------------------------------------------------------------------
// Atom table encodings
// ---------------------------------------------------------------------------

func TestNarrowAtomTable(t *testing.T) {
	w := NewWriter("café")
	w.SetNarrowAtoms()
	w.SetChunk("Code", []byte{1})
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	f, err := Read(data, nil, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if f.Chunk(TagAtomNarrow) == nil {
		t.Fatal("narrow atom table chunk missing")
	}
	if f.Module != "café" {
		t.Errorf("Module = %q, want café", f.Module)
	}
}

func TestWideAtomTable(t *testing.T) {
	w := NewWriter("mödule_☃")
	w.SetChunk("Code", []byte{1})
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	f, err := Read(data, nil, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if f.Chunk(TagAtomWide) == nil {
		t.Fatal("wide atom table chunk missing")
	}
	if f.Module != "mödule_☃" {
		t.Errorf("Module = %q", f.Module)
	}
}

func TestChunkPadding(t *testing.T) {
	// A 5-byte payload must be padded to 8; the following chunk has to
	// be found at the aligned offset.
	w := NewWriter("pad_mod")
	w.SetChunk("Odd1", []byte{1, 2, 3, 4, 5})
	w.SetChunk("Next", []byte{9})
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	f, err := Read(data, nil, nil)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	next := f.Chunk("Next")
	if next == nil {
		t.Fatal("chunk after padded chunk not found")
	}
	if next.Offset%4 != 0 {
		t.Errorf("Next offset = %d, want 4-byte aligned", next.Offset)
	}
}

// ---------------------------------------------------------------------------
// Transparent decompression
// ---------------------------------------------------------------------------

func TestReadGzipped(t *testing.T) {
	plain := buildArtifact(t)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}

	f, err := Read(buf.Bytes(), nil, nil)
	if err != nil {
		t.Fatalf("Read of gzipped artifact failed: %v", err)
	}
	if f.Module != "my_mod" {
		t.Errorf("Module = %q, want my_mod", f.Module)
	}
}
