package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := NewSet("a", "b")
	assert.True(t, s.Contain("a", "b"))
	assert.False(t, s.Contain("a", "c"))

	s.Insert("c")
	assert.Equal(t, []string{"a", "b", "c"}, Sorted(s))

	other := NewSet("b", "d")
	assert.Equal(t, []string{"b"}, Sorted(s.Intersection(other)))
	assert.Equal(t, []string{"a", "b", "c", "d"}, Sorted(s.Union(other)))
	assert.Equal(t, []string{"a", "c"}, Sorted(s.Complement(other)))
	assert.Equal(t, 3, s.Len(), "set operations must not mutate the receiver")

	clone := s.Clone()
	assert.True(t, clone.Equal(s))
	clone.Remove("a")
	assert.False(t, clone.Equal(s))

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestConcurrentSet(t *testing.T) {
	s := NewConcurrentSet[int]()
	assert.True(t, s.Insert(1))
	assert.False(t, s.Insert(1))
	assert.True(t, s.Contain(1))
	assert.ElementsMatch(t, []int{1}, s.Collect())
	assert.True(t, s.TryRemove(1))
	assert.False(t, s.TryRemove(1))
}
