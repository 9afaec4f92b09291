package layout

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cache is a process-wide, read-mostly table of derived layouts keyed by
// Go type. Readers hold a brief read lock; the write lock is taken only to
// insert a newly derived layout, which updates the map in place. Released only
// on process shutdown (there is no eviction), matching the "derived
// lazily, cached process-wide" lifecycle spec.md assigns to layouts.
type Cache struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*Layout
}

// NewCache creates an empty layout cache.
func NewCache() *Cache {
	return &Cache{byType: make(map[reflect.Type]*Layout)}
}

// Describe derives (or returns the cached) Layout for the Go type of v. v
// must be a struct or a pointer to one.
func (c *Cache) Describe(v any) (*Layout, error) {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return c.describeType(t, map[reflect.Type]bool{})
}

func (c *Cache) describeType(t reflect.Type, inProgress map[reflect.Type]bool) (*Layout, error) {
	c.mu.RLock()
	if l, ok := c.byType[t]; ok {
		c.mu.RUnlock()
		return l, nil
	}
	c.mu.RUnlock()

	if inProgress[t] {
		return nil, &CyclicLayoutError{TypeName: t.String()}
	}
	inProgress[t] = true

	if t.Kind() != reflect.Struct {
		return nil, &UnsupportedTypeError{TypeName: t.String(), FieldName: "<root>"}
	}

	var props []Property
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, skip := fieldName(f)
		if skip {
			continue
		}
		tag, err := c.describeGoType(f.Type, inProgress)
		if err != nil {
			return nil, err
		}
		props = append(props, Property{Name: name, Type: tag, FieldIndex: append([]int{}, f.Index...)})
	}

	sortProperties(props)
	l := &Layout{GoType: t, Properties: props, Fingerprint: computeFingerprint(props)}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Two types sharing a fingerprint still get independent cache entries
	// (they are keyed by reflect.Type, not fingerprint) but compare equal
	// on Fingerprint by construction.
	c.byType[t] = l
	delete(inProgress, t)
	return l, nil
}

var (
	uuidType = reflect.TypeOf(uuid.UUID{})
	timeType = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

func (c *Cache) describeGoType(t reflect.Type, inProgress map[reflect.Type]bool) (TypeTag, error) {
	switch {
	case t == uuidType:
		return TypeTag{Kind: UUID}, nil
	case t == timeType:
		// time.Time is not in the spec's closed tag set; it is carried as
		// an i64 unix-millis value, the same representation HybridTimestamp
		// itself uses at the entity level.
		return TypeTag{Kind: I64}, nil
	case t == bytesType:
		return TypeTag{Kind: Bytes}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return TypeTag{Kind: Bool}, nil
	case reflect.Int8:
		return TypeTag{Kind: I8}, nil
	case reflect.Int16:
		return TypeTag{Kind: I16}, nil
	case reflect.Int32:
		return TypeTag{Kind: I32}, nil
	case reflect.Int, reflect.Int64:
		return TypeTag{Kind: I64}, nil
	case reflect.Float32:
		return TypeTag{Kind: F32}, nil
	case reflect.Float64:
		return TypeTag{Kind: F64}, nil
	case reflect.String:
		return TypeTag{Kind: Str}, nil
	case reflect.Slice:
		elem, err := c.describeGoType(t.Elem(), inProgress)
		if err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Kind: List, Elem: &elem}, nil
	case reflect.Map:
		key, err := c.describeGoType(t.Key(), inProgress)
		if err != nil {
			return TypeTag{}, err
		}
		val, err := c.describeGoType(t.Elem(), inProgress)
		if err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Kind: Map, Key: &key, Val: &val}, nil
	case reflect.Pointer:
		elem, err := c.describeGoType(t.Elem(), inProgress)
		if err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Kind: Optional, Elem: &elem}, nil
	case reflect.Struct:
		nested, err := c.describeType(t, inProgress)
		if err != nil {
			return TypeTag{}, err
		}
		return TypeTag{Kind: LayoutRef, Ref: nested.Fingerprint}, nil
	default:
		return TypeTag{}, &UnsupportedTypeError{TypeName: t.String(), FieldName: t.Name()}
	}
}

// fieldName resolves the wire property name for a struct field from its
// `layout:"name"` tag, defaulting to the lower-cased Go field name. A tag
// value of "-" excludes the field from the layout entirely.
func fieldName(f reflect.StructField) (name string, skip bool) {
	tag, ok := f.Tag.Lookup("layout")
	if !ok {
		return strings.ToLower(f.Name), false
	}
	if tag == "-" {
		return "", true
	}
	if comma := strings.IndexByte(tag, ','); comma >= 0 {
		tag = tag[:comma]
	}
	if tag == "" {
		return strings.ToLower(f.Name), false
	}
	return tag, false
}
