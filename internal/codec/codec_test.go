package codec

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chronicle/internal/layout"
)

type Address struct {
	City string `layout:"city"`
	Zip  string `layout:"zip"`
}

type Widget struct {
	Name     string            `layout:"name"`
	Count    int32             `layout:"count"`
	Price    float64           `layout:"price"`
	Active   bool              `layout:"active"`
	Tags     []string          `layout:"tags"`
	Attrs    map[string]string `layout:"attrs"`
	Nickname *string           `layout:"nickname"`
	Location *Address          `layout:"location"`
	OwnerID  uuid.UUID         `layout:"owner_id"`
	Blob     []byte            `layout:"blob"`
}

func roundTripFixture() Widget {
	nick := "gadget"
	return Widget{
		Name:   "widget",
		Count:  42,
		Price:  19.99,
		Active: true,
		Tags:   []string{"a", "b", "c"},
		Attrs:  map[string]string{"z": "1", "a": "2", "m": "3"},
		Nickname: &nick,
		Location: &Address{City: "Springfield", Zip: "00000"},
		OwnerID:  uuid.MustParse("123e4567-e89b-12d3-a456-426614174000"),
		Blob:     []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
}

func TestEncodeDecode_RoundTripsToEqualValue(t *testing.T) {
	cache := layout.NewCache()
	c := New(cache)
	l, err := cache.Describe(Widget{})
	require.NoError(t, err)

	in := roundTripFixture()
	encoded, err := c.EncodeEntity(l, reflect.ValueOf(in))
	require.NoError(t, err)

	var out Widget
	err = c.DecodeEntity(l, encoded, reflect.ValueOf(&out).Elem())
	require.NoError(t, err)

	assert.Equal(t, in, out)
}

func TestEncodeDecode_EncodingIsDeterministic(t *testing.T) {
	cache := layout.NewCache()
	c := New(cache)
	l, err := cache.Describe(Widget{})
	require.NoError(t, err)

	in := roundTripFixture()
	b1, err := c.EncodeEntity(l, reflect.ValueOf(in))
	require.NoError(t, err)
	b2, err := c.EncodeEntity(l, reflect.ValueOf(in))
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestEncodeDecode_DecodeThenEncodeIsIdentity(t *testing.T) {
	cache := layout.NewCache()
	c := New(cache)
	l, err := cache.Describe(Widget{})
	require.NoError(t, err)

	in := roundTripFixture()
	encoded, err := c.EncodeEntity(l, reflect.ValueOf(in))
	require.NoError(t, err)

	var out Widget
	require.NoError(t, c.DecodeEntity(l, encoded, reflect.ValueOf(&out).Elem()))

	reEncoded, err := c.EncodeEntity(l, reflect.ValueOf(out))
	require.NoError(t, err)
	assert.Equal(t, encoded, reEncoded)
}

func TestEncodeDecode_MapKeysEmittedSorted(t *testing.T) {
	cache := layout.NewCache()
	c := New(cache)
	l, err := cache.Describe(Widget{})
	require.NoError(t, err)

	in := roundTripFixture()
	encoded, err := c.EncodeEntity(l, reflect.ValueOf(in))
	require.NoError(t, err)

	// Re-run with the map keys supplied in a different insertion order;
	// the encoded bytes must be identical because map iteration order is
	// not what determines wire order.
	in2 := in
	in2.Attrs = map[string]string{"m": "3", "z": "1", "a": "2"}
	encoded2, err := c.EncodeEntity(l, reflect.ValueOf(in2))
	require.NoError(t, err)

	assert.Equal(t, encoded, encoded2)
}

func TestEncodeDecode_OptionalAbsentRoundTrips(t *testing.T) {
	cache := layout.NewCache()
	c := New(cache)
	l, err := cache.Describe(Widget{})
	require.NoError(t, err)

	in := roundTripFixture()
	in.Nickname = nil
	in.Location = nil

	encoded, err := c.EncodeEntity(l, reflect.ValueOf(in))
	require.NoError(t, err)

	var out Widget
	require.NoError(t, c.DecodeEntity(l, encoded, reflect.ValueOf(&out).Elem()))
	assert.Nil(t, out.Nickname)
	assert.Nil(t, out.Location)
}

func TestDecode_TruncatedInputFails(t *testing.T) {
	cache := layout.NewCache()
	c := New(cache)
	l, err := cache.Describe(Widget{})
	require.NoError(t, err)

	in := roundTripFixture()
	encoded, err := c.EncodeEntity(l, reflect.ValueOf(in))
	require.NoError(t, err)

	var out Widget
	err = c.DecodeEntity(l, encoded[:len(encoded)-3], reflect.ValueOf(&out).Elem())
	require.Error(t, err)
	var trunc *TruncatedError
	assert.ErrorAs(t, err, &trunc)
}

func TestDecode_WrongFingerprintFails(t *testing.T) {
	cache := layout.NewCache()
	c := New(cache)
	l, err := cache.Describe(Widget{})
	require.NoError(t, err)

	in := roundTripFixture()
	encoded, err := c.EncodeEntity(l, reflect.ValueOf(in))
	require.NoError(t, err)
	encoded[0] ^= 0xFF

	var out Widget
	err = c.DecodeEntity(l, encoded, reflect.ValueOf(&out).Elem())
	require.Error(t, err)
	var unknown *UnknownFingerprintError
	assert.ErrorAs(t, err, &unknown)
}

func TestDecode_BadPresenceByteIsInvariantViolation(t *testing.T) {
	cache := layout.NewCache()
	c := New(cache)
	l, err := cache.Describe(Widget{})
	require.NoError(t, err)

	in := roundTripFixture()
	in.Nickname = nil
	in.Location = nil
	encoded, err := c.EncodeEntity(l, reflect.ValueOf(in))
	require.NoError(t, err)

	nickname, found := l.PropertyByName("nickname")
	require.True(t, found)
	_ = nickname

	// Corrupt a presence byte for one of the optional fields by scanning
	// for the first 0x00 after the fixed-width prefix; simpler: directly
	// construct a minimal Optional-only fixture instead.
	type OnlyOptional struct {
		V *string `layout:"v"`
	}
	l2, err := cache.Describe(OnlyOptional{})
	require.NoError(t, err)
	in2 := OnlyOptional{}
	enc2, err := c.EncodeEntity(l2, reflect.ValueOf(in2))
	require.NoError(t, err)
	// presence byte is the last byte (fingerprint + 1 byte)
	enc2[len(enc2)-1] = 7

	var out2 OnlyOptional
	err = c.DecodeEntity(l2, enc2, reflect.ValueOf(&out2).Elem())
	require.Error(t, err)
	var inv *InvariantViolatedError
	assert.ErrorAs(t, err, &inv)
}
