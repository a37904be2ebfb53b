package beam

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Structured chunk payloads: exports, imports, attributes
// ---------------------------------------------------------------------------

var ErrBadTable = errors.New("malformed table chunk")

// Export is one entry of the export table: a function the module exposes.
type Export struct {
	Name  string
	Arity uint32
	Label uint32
}

// Import is one entry of the import table: a call the module makes into
// another module. The import table is the source of the module-level
// calls relation.
type Import struct {
	Module string
	Name   string
	Arity  uint32
}

// Attributes is the decoded payload of the attributes chunk.
type Attributes struct {
	Behaviours []string `cbor:"1,keyasint,omitempty"`
	Vsn        string   `cbor:"2,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("beam: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalAttributes serializes an Attributes record to CBOR bytes.
func MarshalAttributes(a *Attributes) ([]byte, error) {
	return cborEncMode.Marshal(a)
}

// Exports decodes the export table. The export chunk and an atom table
// must both have been read.
func (f *File) Exports() ([]Export, error) {
	triples, err := f.tableTriples(TagExports)
	if err != nil || triples == nil {
		return nil, err
	}
	exports := make([]Export, 0, len(triples))
	for _, t := range triples {
		name, err := f.Atom(t[0])
		if err != nil {
			return nil, fmt.Errorf("%w: export name: %v", ErrBadTable, err)
		}
		exports = append(exports, Export{Name: name, Arity: t[1], Label: t[2]})
	}
	return exports, nil
}

// ExportsFunction reports whether the module exports name with the given
// arity.
func (f *File) ExportsFunction(name string, arity uint32) (bool, error) {
	exports, err := f.Exports()
	if err != nil {
		return false, err
	}
	for _, e := range exports {
		if e.Name == name && e.Arity == arity {
			return true, nil
		}
	}
	return false, nil
}

// Imports decodes the import table.
func (f *File) Imports() ([]Import, error) {
	triples, err := f.tableTriples(TagImports)
	if err != nil || triples == nil {
		return nil, err
	}
	imports := make([]Import, 0, len(triples))
	for _, t := range triples {
		mod, err := f.Atom(t[0])
		if err != nil {
			return nil, fmt.Errorf("%w: import module: %v", ErrBadTable, err)
		}
		name, err := f.Atom(t[1])
		if err != nil {
			return nil, fmt.Errorf("%w: import function: %v", ErrBadTable, err)
		}
		imports = append(imports, Import{Module: mod, Name: name, Arity: t[2]})
	}
	return imports, nil
}

// Attributes decodes the attributes chunk. A missing chunk yields an
// empty record, not an error: modules without declared attributes are
// plain code.
func (f *File) Attributes() (*Attributes, error) {
	c := f.Chunk(TagAttributes)
	if c == nil || c.Data == nil {
		return &Attributes{}, nil
	}
	var a Attributes
	if err := cbor.Unmarshal(c.Data, &a); err != nil {
		return nil, fmt.Errorf("%w: attributes: %v", ErrBadTable, err)
	}
	return &a, nil
}

// tableTriples decodes a (count, count x 3 u32) table chunk. A missing
// chunk yields nil with no error.
func (f *File) tableTriples(tag string) ([][3]uint32, error) {
	c := f.Chunk(tag)
	if c == nil || c.Data == nil {
		return nil, nil
	}
	payload := c.Data
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: %q payload too short", ErrBadTable, tag)
	}
	count := int(binary.BigEndian.Uint32(payload[0:4]))
	if len(payload) < 4+count*12 {
		return nil, fmt.Errorf("%w: %q declares %d entries, payload is %d bytes",
			ErrBadTable, tag, count, len(payload))
	}
	triples := make([][3]uint32, count)
	for i := 0; i < count; i++ {
		base := 4 + i*12
		triples[i] = [3]uint32{
			binary.BigEndian.Uint32(payload[base : base+4]),
			binary.BigEndian.Uint32(payload[base+4 : base+8]),
			binary.BigEndian.Uint32(payload[base+8 : base+12]),
		}
	}
	return triples, nil
}
