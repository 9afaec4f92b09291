// Package layout derives canonical, content-addressed schemas ("layouts")
// for entity types by reflecting on Go struct values, the same role the
// source system's class-reflection-plus-annotation machinery plays — here
// expressed as a plain reflect.Type walk instead of a derive macro, per the
// reflection-driven-layouts design note.
package layout

import (
	"crypto/sha1"
	"fmt"
	"reflect"
	"sort"
)

// Kind is the closed set of wire type tags a Property can carry.
type Kind int

const (
	Bool Kind = iota
	I8
	I16
	I32
	I64
	F32
	F64
	Str
	UUID
	Bytes
	List
	Map
	Optional
	LayoutRef
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Str:
		return "str"
	case UUID:
		return "uuid"
	case Bytes:
		return "bytes"
	case List:
		return "list"
	case Map:
		return "map"
	case Optional:
		return "optional"
	case LayoutRef:
		return "layout"
	default:
		return "unknown"
	}
}

// Fingerprint is the 160-bit content hash identifying a Layout. Two types
// with identical canonical schemas share a Fingerprint.
type Fingerprint [sha1.Size]byte

func (f Fingerprint) String() string {
	return fmt.Sprintf("%x", [sha1.Size]byte(f))
}

// TypeTag describes the wire type of a single property, recursively for
// container and reference kinds.
type TypeTag struct {
	Kind Kind
	Elem *TypeTag    // List, Optional
	Key  *TypeTag    // Map
	Val  *TypeTag    // Map
	Ref  Fingerprint // LayoutRef
}

// Property is one named, typed field of a Layout, in the canonical
// (lexicographically sorted) order. FieldIndex is the reflect.Value field
// path used by the codec to read/write the property without re-resolving
// the name on every access.
type Property struct {
	Name       string
	Type       TypeTag
	FieldIndex []int
}

// Layout is the canonicalized schema of an entity type: a sorted property
// list plus the fingerprint computed from it.
type Layout struct {
	GoType      reflect.Type
	Properties  []Property
	Fingerprint Fingerprint
}

// PropertyByName finds a property by its wire name.
func (l Layout) PropertyByName(name string) (Property, bool) {
	for _, p := range l.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Schema returns the same canonical byte serialization used to compute
// Fingerprint, for callers that need to persist the schema itself (the
// EntityLayoutIntroduced event's payload).
func (l Layout) Schema() []byte {
	return canonicalBytes(l.Properties)
}

// canonicalBytes returns the deterministic byte serialization of a
// Layout's schema used to compute its Fingerprint. It never depends on Go
// map iteration order or struct declaration order — only on the sorted
// Properties slice — so re-deriving the same logical schema under a
// different type name always yields the same Fingerprint.
func canonicalBytes(props []Property) []byte {
	var buf []byte
	buf = appendUvarint(buf, uint64(len(props)))
	for _, p := range props {
		buf = appendString(buf, p.Name)
		buf = appendTypeTag(buf, p.Type)
	}
	return buf
}

func appendTypeTag(buf []byte, t TypeTag) []byte {
	buf = append(buf, byte(t.Kind))
	switch t.Kind {
	case List, Optional:
		buf = appendTypeTag(buf, *t.Elem)
	case Map:
		buf = appendTypeTag(buf, *t.Key)
		buf = appendTypeTag(buf, *t.Val)
	case LayoutRef:
		buf = append(buf, t.Ref[:]...)
	}
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [10]byte
	n := 0
	for v >= 0x80 {
		tmp[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	tmp[n] = byte(v)
	n++
	return append(buf, tmp[:n]...)
}

func computeFingerprint(props []Property) Fingerprint {
	return sha1.Sum(canonicalBytes(props))
}

func sortProperties(props []Property) {
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
}
