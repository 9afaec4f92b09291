package layout

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Address struct {
	City string `layout:"city"`
	Zip  string `layout:"zip"`
}

type Person struct {
	Name    string            `layout:"name"`
	Age     int32             `layout:"age"`
	Tags    []string          `layout:"tags"`
	Attrs   map[string]string `layout:"attrs"`
	Home    *Address          `layout:"home"`
	OwnerID uuid.UUID         `layout:"owner_id"`
	Secret  string            `layout:"-"`
}

// PersonAlias has the same logical schema as Person but a different type
// name, used to assert fingerprint stability under renaming (spec.md S5).
type PersonAlias struct {
	Name    string            `layout:"name"`
	Age     int32             `layout:"age"`
	Tags    []string          `layout:"tags"`
	Attrs   map[string]string `layout:"attrs"`
	Home    *Address          `layout:"home"`
	OwnerID uuid.UUID         `layout:"owner_id"`
}

type SelfRef struct {
	Name string   `layout:"name"`
	Next *SelfRef `layout:"next"`
}

func TestDescribe_OrdersPropertiesLexicographically(t *testing.T) {
	c := NewCache()
	l, err := c.Describe(Person{})
	require.NoError(t, err)

	var names []string
	for _, p := range l.Properties {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"age", "attrs", "home", "name", "owner_id", "tags"}, names)
}

func TestDescribe_SkipsDashTaggedFields(t *testing.T) {
	c := NewCache()
	l, err := c.Describe(Person{})
	require.NoError(t, err)

	_, found := l.PropertyByName("secret")
	assert.False(t, found)
}

func TestDescribe_FingerprintStableAcrossCalls(t *testing.T) {
	c := NewCache()
	l1, err := c.Describe(Person{})
	require.NoError(t, err)
	l2, err := c.Describe(Person{})
	require.NoError(t, err)
	assert.Equal(t, l1.Fingerprint, l2.Fingerprint)
}

func TestDescribe_FingerprintEqualAcrossDifferentTypeNames(t *testing.T) {
	c := NewCache()
	l1, err := c.Describe(Person{})
	require.NoError(t, err)
	l2, err := c.Describe(PersonAlias{})
	require.NoError(t, err)

	assert.Equal(t, l1.Fingerprint, l2.Fingerprint, "identical logical schemas under different type names must share a fingerprint")
}

func TestDescribe_FingerprintDiffersWhenSchemaChanges(t *testing.T) {
	type PersonV2 struct {
		Name string `layout:"name"`
		Age  int32  `layout:"age"`
	}
	c := NewCache()
	l1, err := c.Describe(Person{})
	require.NoError(t, err)
	l2, err := c.Describe(PersonV2{})
	require.NoError(t, err)
	assert.NotEqual(t, l1.Fingerprint, l2.Fingerprint)
}

func TestDescribe_SelfReferentialStructIsRejected(t *testing.T) {
	c := NewCache()
	_, err := c.Describe(SelfRef{})
	require.Error(t, err)
	var cyclic *CyclicLayoutError
	assert.ErrorAs(t, err, &cyclic)
}

func TestDescribe_UnsupportedKindIsRejected(t *testing.T) {
	type WithChan struct {
		C chan int `layout:"c"`
	}
	c := NewCache()
	_, err := c.Describe(WithChan{})
	require.Error(t, err)
	var unsupported *UnsupportedTypeError
	assert.ErrorAs(t, err, &unsupported)
}

func TestDescribe_NestedStructBecomesLayoutRef(t *testing.T) {
	c := NewCache()
	l, err := c.Describe(Person{})
	require.NoError(t, err)

	home, found := l.PropertyByName("home")
	require.True(t, found)
	assert.Equal(t, Optional, home.Type.Kind)
	assert.Equal(t, LayoutRef, home.Type.Elem.Kind)

	addrLayout, err := c.Describe(Address{})
	require.NoError(t, err)
	assert.Equal(t, addrLayout.Fingerprint, home.Type.Elem.Ref)
}

func TestDescribe_IsCachedPerType(t *testing.T) {
	c := NewCache()
	l1, err := c.Describe(Person{})
	require.NoError(t, err)
	l2, err := c.Describe(Person{})
	require.NoError(t, err)
	assert.Same(t, l1, l2)
}
