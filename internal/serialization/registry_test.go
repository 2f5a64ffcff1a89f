package serialization

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("widget", reflect.TypeFor[*widget]()))
	require.NoError(t, r.Register("widget", reflect.TypeFor[widget]()), "same binding is idempotent")

	err := r.Register("widget", reflect.TypeFor[gadget]())
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	err = r.Register("other", reflect.TypeFor[widget]())
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	assert.ErrorIs(t, r.Register("", reflect.TypeFor[gadget]()), merr.ErrParameterMissing)

	resolved, err := r.Resolve("widget")
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[widget](), resolved)
	_, err = r.Resolve("missing")
	assert.ErrorIs(t, err, merr.ErrTypeNotRegistered)

	assert.Equal(t, "widget", r.NameOf(reflect.TypeFor[*widget]()))
	assert.Equal(t, "int64", r.NameOf(reflect.TypeFor[int64]()))
	assert.Equal(t, "serialization.gadget", r.NameOf(reflect.TypeFor[gadget]()))
	_, ok := r.Lookup(reflect.TypeFor[gadget]())
	assert.False(t, ok)

	assert.Equal(t, []reflect.Type{reflect.TypeFor[widget]()}, r.ModelTypes())
}

func TestRegistryModifiers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterModifier(reflect.TypeFor[widget](), reflect.TypeFor[firstModifier]()))
	require.NoError(t, r.RegisterModifier(reflect.TypeFor[*gadget](), reflect.TypeFor[secondModifier]()))

	err := r.RegisterModifier(reflect.TypeFor[widget](), reflect.TypeFor[widget]())
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
	assert.ErrorIs(t, r.RegisterModifier(nil, reflect.TypeFor[firstModifier]()), merr.ErrParameterMissing)

	assert.Equal(t,
		[]reflect.Type{reflect.TypeFor[firstModifier](), reflect.TypeFor[secondModifier]()},
		r.declaredModifiers(reflect.TypeFor[gadget]()))

	m := NewManagerWithRegistry(r)
	chain := m.GetSerializerModifiers(reflect.TypeFor[gadget]())
	require.Len(t, chain, 2)
	assert.IsType(t, &secondModifier{}, chain[0])
	assert.IsType(t, &firstModifier{}, chain[1])
	assert.Same(t, chain[1], m.GetSerializerModifiers(reflect.TypeFor[widget]())[0], "modifier instances are shared")
}

func TestRegisterTypePanicsOnConflict(t *testing.T) {
	RegisterType[opaque]("registry-test.opaque")
	assert.Equal(t, "registry-test.opaque", DefaultRegistry.NameOf(reflect.TypeFor[*opaque]()))
	assert.Panics(t, func() { RegisterType[single]("registry-test.opaque") })
}
