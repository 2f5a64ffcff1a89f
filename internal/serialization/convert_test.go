package serialization

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/objgraph-go/internal/serialization/member"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

func TestScalarText(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 8, 30, 0, 5, time.UTC)
	cases := []struct {
		value any
		text  string
	}{
		{int16(-12), "-12"},
		{uint8(200), "200"},
		{float32(0.5), "0.5"},
		{true, "true"},
		{90 * time.Second, "1m30s"},
		{[]byte("hi"), "aGk="},
		{stamp, "2024-03-01T08:30:00.000000005Z"},
	}
	for _, c := range cases {
		text, err := FormatScalar(c.value)
		require.NoError(t, err)
		assert.Equal(t, c.text, text)

		back, err := ParseScalar(text, reflect.TypeOf(c.value))
		require.NoError(t, err)
		assert.Equal(t, c.value, back)
	}

	_, err := FormatScalar(struct{}{})
	assert.ErrorIs(t, err, merr.ErrOperationNotSupported)
}

func TestParseScalarErrors(t *testing.T) {
	_, err := ParseScalar("300", reflect.TypeFor[int8]())
	assert.ErrorIs(t, err, merr.ErrTypeMismatch)

	_, err = ParseScalar("soon", reflect.TypeFor[time.Duration]())
	assert.ErrorIs(t, err, merr.ErrTypeMismatch)

	v, err := ParseScalar("raw", reflect.TypeFor[any]())
	require.NoError(t, err)
	assert.Equal(t, "raw", v)
}

func TestIsScalarType(t *testing.T) {
	assert.True(t, IsScalarType(reflect.TypeFor[time.Time]()))
	assert.True(t, IsScalarType(reflect.TypeFor[[]byte]()))
	assert.True(t, IsScalarType(reflect.TypeFor[json.Number]()))
	assert.False(t, IsScalarType(reflect.TypeFor[[]int]()))
	assert.False(t, IsScalarType(reflect.TypeFor[widget]()))
	assert.False(t, IsScalarType(nil))
}

func TestCoerceCollections(t *testing.T) {
	v, err := Coerce([]any{"1", json.Number("2"), 3.0}, reflect.TypeFor[[]int]())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, v)

	v, err = Coerce([]any{"a", "b", "c"}, reflect.TypeFor[[2]string]())
	require.NoError(t, err)
	assert.Equal(t, [2]string{"a", "b"}, v)

	v, err = Coerce([]member.KeyValuePair{{Key: "2", Value: "x"}, {Key: "1", Value: nil}}, reflect.TypeFor[map[int]string]())
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "", 2: "x"}, v)

	v, err = Coerce(map[string]int{"b": 2, "a": 1}, reflect.TypeFor[[]member.KeyValuePair]())
	require.NoError(t, err)
	assert.Equal(t, []member.KeyValuePair{{Key: "a", Value: 1}, {Key: "b", Value: 2}}, v)
}

func TestCoerceScalars(t *testing.T) {
	v, err := Coerce(json.Number("42"), reflect.TypeFor[uint16]())
	require.NoError(t, err)
	assert.Equal(t, uint16(42), v)

	v, err = Coerce(int64(5), reflect.TypeFor[*int]())
	require.NoError(t, err)
	assert.Equal(t, 5, *(v.(*int)))

	v, err = Coerce(nil, reflect.TypeFor[string]())
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Coerce(true, reflect.TypeFor[string]())
	assert.ErrorIs(t, err, merr.ErrTypeMismatch)
}

func TestCoerceUnsupported(t *testing.T) {
	_, err := Coerce([]any{1, 2}, reflect.TypeFor[int]())
	assert.ErrorIs(t, err, merr.ErrOperationNotSupported)

	_, err = Coerce([]any{1}, reflect.TypeFor[map[string]int]())
	assert.ErrorIs(t, err, merr.ErrOperationNotSupported)

	_, err = Coerce("text", reflect.TypeFor[[]int]())
	assert.ErrorIs(t, err, merr.ErrOperationNotSupported)
}

func TestDictionaryPairsAreSorted(t *testing.T) {
	pairs := DictionaryPairs(reflect.ValueOf(map[int]string{10: "j", 2: "b", -1: "z"}))
	assert.Equal(t, []member.KeyValuePair{{Key: -1, Value: "z"}, {Key: 2, Value: "b"}, {Key: 10, Value: "j"}}, pairs)
}
