package layout

import "fmt"

// CyclicLayoutError is returned when an entity type's schema refers back to
// itself (directly or transitively) through an embedded struct. Such
// schemas must be expressed with a uuid reference instead, per the
// cyclic-layout design note.
type CyclicLayoutError struct {
	TypeName string
}

func (e *CyclicLayoutError) Error() string {
	return fmt.Sprintf("layout: cyclic schema detected deriving %s; use a uuid reference instead of an embedded struct", e.TypeName)
}

// UnsupportedTypeError is returned when a struct field's Go type cannot be
// mapped onto the closed wire-type-tag set.
type UnsupportedTypeError struct {
	TypeName  string
	FieldName string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("layout: field %q has unsupported type %s", e.FieldName, e.TypeName)
}
