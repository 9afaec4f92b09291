// Package codec implements the deterministic, endian-stable binary wire
// format for values described by a layout.Layout: fixed-width integers,
// length-prefixed strings and lists, sorted-key maps, a presence byte for
// optionals, and a fingerprint-prefixed payload for nested layouts.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"go-chronicle/internal/layout"
)

// Codec encodes and decodes values against layouts derived from a shared
// layout.Cache, so nested layout<ref> properties resolve to the same
// cached schema the top-level Describe call would produce.
type Codec struct {
	cache *layout.Cache
}

// New creates a Codec bound to the given layout cache.
func New(cache *layout.Cache) *Codec {
	return &Codec{cache: cache}
}

// EncodeEntity serializes v (a struct matching l's Go type) as
// [20B fingerprint][properties in canonical order]. This is both the
// top-level entity payload format (spec.md §6) and the format used for a
// nested layout<ref> property (spec.md §4.3) — the two coincide because a
// reference is just "the layout's own canonical encoding, inline".
func (c *Codec) EncodeEntity(l *layout.Layout, v reflect.Value) ([]byte, error) {
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, l.Fingerprint[:]...)
	for _, p := range l.Properties {
		fv := v.FieldByIndex(p.FieldIndex)
		eb, err := c.encodeValue(p.Type, fv)
		if err != nil {
			return nil, fmt.Errorf("codec: property %q: %w", p.Name, err)
		}
		buf = append(buf, eb...)
	}
	return buf, nil
}

// DecodeEntity is the inverse of EncodeEntity: it reads a fingerprint-
// prefixed payload into out (a pointer to a struct matching l's Go type).
func (c *Codec) DecodeEntity(l *layout.Layout, data []byte, out reflect.Value) error {
	r := newReader(data)
	fp, err := r.take(len(l.Fingerprint))
	if err != nil {
		return err
	}
	if !bytes.Equal(fp, l.Fingerprint[:]) {
		return &UnknownFingerprintError{Want: l.Fingerprint.String(), Got: fmt.Sprintf("%x", fp)}
	}
	for v := out; v.Kind() == reflect.Pointer; v = v.Elem() {
		out = v
	}
	for _, p := range l.Properties {
		fv := out.FieldByIndex(p.FieldIndex)
		if err := c.decodeValue(r, p.Type, fv); err != nil {
			return fmt.Errorf("codec: property %q: %w", p.Name, err)
		}
	}
	return nil
}

func (c *Codec) encodeValue(t layout.TypeTag, v reflect.Value) ([]byte, error) {
	switch t.Kind {
	case layout.Bool:
		if v.Bool() {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case layout.I8:
		return []byte{byte(v.Int())}, nil
	case layout.I16:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(v.Int()))
		return b, nil
	case layout.I32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(v.Int()))
		return b, nil
	case layout.I64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(v.Int()))
		return b, nil
	case layout.F32:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, math.Float32bits(float32(v.Float())))
		return b, nil
	case layout.F64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, math.Float64bits(v.Float()))
		return b, nil
	case layout.Str:
		return lengthPrefixed([]byte(v.String())), nil
	case layout.UUID:
		id := v.Interface().(uuid.UUID)
		out := make([]byte, 16)
		copy(out, id[:])
		return out, nil
	case layout.Bytes:
		return lengthPrefixed(v.Bytes()), nil
	case layout.List:
		n := v.Len()
		buf := binary.AppendUvarint(nil, uint64(n))
		for i := 0; i < n; i++ {
			eb, err := c.encodeValue(*t.Elem, v.Index(i))
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		return buf, nil
	case layout.Map:
		return c.encodeMap(t, v)
	case layout.Optional:
		if v.IsNil() {
			return []byte{0}, nil
		}
		eb, err := c.encodeValue(*t.Elem, v.Elem())
		if err != nil {
			return nil, err
		}
		return append([]byte{1}, eb...), nil
	case layout.LayoutRef:
		nested, err := c.cache.Describe(reflect.Zero(v.Type()).Interface())
		if err != nil {
			return nil, err
		}
		return c.EncodeEntity(nested, v)
	default:
		return nil, fmt.Errorf("codec: unknown kind %v", t.Kind)
	}
}

func (c *Codec) encodeMap(t layout.TypeTag, v reflect.Value) ([]byte, error) {
	keys := v.MapKeys()
	type kv struct {
		keyBytes []byte
		valBytes []byte
	}
	entries := make([]kv, 0, len(keys))
	for _, k := range keys {
		kb, err := c.encodeValue(*t.Key, k)
		if err != nil {
			return nil, err
		}
		vb, err := c.encodeValue(*t.Val, v.MapIndex(k))
		if err != nil {
			return nil, err
		}
		entries = append(entries, kv{kb, vb})
	}
	// Keys are emitted in sorted order for determinism (spec.md §4.3):
	// sorting by the encoded key bytes keeps the rule well-defined for
	// every key kind, not just strings.
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].keyBytes, entries[j].keyBytes) < 0
	})

	buf := binary.AppendUvarint(nil, uint64(len(entries)))
	for _, e := range entries {
		buf = append(buf, e.keyBytes...)
		buf = append(buf, e.valBytes...)
	}
	return buf, nil
}

func (c *Codec) decodeValue(r *reader, t layout.TypeTag, out reflect.Value) error {
	switch t.Kind {
	case layout.Bool:
		b, err := r.take(1)
		if err != nil {
			return err
		}
		switch b[0] {
		case 0:
			out.SetBool(false)
		case 1:
			out.SetBool(true)
		default:
			return &InvariantViolatedError{Detail: "bool byte not 0 or 1"}
		}
		return nil
	case layout.I8:
		b, err := r.take(1)
		if err != nil {
			return err
		}
		out.SetInt(int64(int8(b[0])))
		return nil
	case layout.I16:
		b, err := r.take(2)
		if err != nil {
			return err
		}
		out.SetInt(int64(int16(binary.BigEndian.Uint16(b))))
		return nil
	case layout.I32:
		b, err := r.take(4)
		if err != nil {
			return err
		}
		out.SetInt(int64(int32(binary.BigEndian.Uint32(b))))
		return nil
	case layout.I64:
		b, err := r.take(8)
		if err != nil {
			return err
		}
		out.SetInt(int64(binary.BigEndian.Uint64(b)))
		return nil
	case layout.F32:
		b, err := r.take(4)
		if err != nil {
			return err
		}
		out.SetFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(b))))
		return nil
	case layout.F64:
		b, err := r.take(8)
		if err != nil {
			return err
		}
		out.SetFloat(math.Float64frombits(binary.BigEndian.Uint64(b)))
		return nil
	case layout.Str:
		b, err := readLengthPrefixed(r)
		if err != nil {
			return err
		}
		out.SetString(string(b))
		return nil
	case layout.UUID:
		b, err := r.take(16)
		if err != nil {
			return err
		}
		var id uuid.UUID
		copy(id[:], b)
		out.Set(reflect.ValueOf(id))
		return nil
	case layout.Bytes:
		b, err := readLengthPrefixed(r)
		if err != nil {
			return err
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		out.SetBytes(cp)
		return nil
	case layout.List:
		n, err := r.uvarint()
		if err != nil {
			return err
		}
		slice := reflect.MakeSlice(out.Type(), int(n), int(n))
		for i := 0; i < int(n); i++ {
			if err := c.decodeValue(r, *t.Elem, slice.Index(i)); err != nil {
				return err
			}
		}
		out.Set(slice)
		return nil
	case layout.Map:
		return c.decodeMap(r, t, out)
	case layout.Optional:
		b, err := r.take(1)
		if err != nil {
			return err
		}
		switch b[0] {
		case 0:
			out.Set(reflect.Zero(out.Type()))
			return nil
		case 1:
			elemPtr := reflect.New(out.Type().Elem())
			if err := c.decodeValue(r, *t.Elem, elemPtr.Elem()); err != nil {
				return err
			}
			out.Set(elemPtr)
			return nil
		default:
			return &InvariantViolatedError{Detail: "presence byte not 0 or 1"}
		}
	case layout.LayoutRef:
		nested, err := c.cache.Describe(reflect.Zero(out.Type()).Interface())
		if err != nil {
			return err
		}
		return c.decodeLayoutRefInto(r, nested, out)
	default:
		return fmt.Errorf("codec: unknown kind %v", t.Kind)
	}
}

func (c *Codec) decodeLayoutRefInto(r *reader, l *layout.Layout, out reflect.Value) error {
	fp, err := r.take(len(l.Fingerprint))
	if err != nil {
		return err
	}
	if !bytes.Equal(fp, l.Fingerprint[:]) {
		return &UnknownFingerprintError{Want: l.Fingerprint.String(), Got: fmt.Sprintf("%x", fp)}
	}
	for _, p := range l.Properties {
		fv := out.FieldByIndex(p.FieldIndex)
		if err := c.decodeValue(r, p.Type, fv); err != nil {
			return err
		}
	}
	return nil
}

func (c *Codec) decodeMap(r *reader, t layout.TypeTag, out reflect.Value) error {
	n, err := r.uvarint()
	if err != nil {
		return err
	}
	m := reflect.MakeMapWithSize(out.Type(), int(n))
	keyType := out.Type().Key()
	valType := out.Type().Elem()
	for i := 0; i < int(n); i++ {
		k := reflect.New(keyType).Elem()
		if err := c.decodeValue(r, *t.Key, k); err != nil {
			return err
		}
		val := reflect.New(valType).Elem()
		if err := c.decodeValue(r, *t.Val, val); err != nil {
			return err
		}
		m.SetMapIndex(k, val)
	}
	out.Set(m)
	return nil
}

func lengthPrefixed(b []byte) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(b)))
	return append(buf, b...)
}

func readLengthPrefixed(r *reader) ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}
