package set_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvedb/cvedb-tools/pkg/set"
)

func TestSet(t *testing.T) {
	s := set.New("joshbressers:1692786", "someone:1")
	s.Append("someone:1")

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("joshbressers:1692786"))
	assert.False(t, s.Contains("joshbressers"))
	assert.ElementsMatch(t, []string{"joshbressers:1692786", "someone:1"}, s.Values())

	var zero set.Set[string]
	assert.False(t, zero.Contains("anything"))
	assert.Equal(t, 0, zero.Len())
}

func TestOrdered(t *testing.T) {
	s := set.NewOrdered(1000002, 1000000, 1000001)

	assert.Equal(t, []int{1000000, 1000001, 1000002}, s.Values())

	got, ok := s.Max()
	assert.True(t, ok)
	assert.Equal(t, 1000002, got)

	_, ok = set.NewOrdered[int]().Max()
	assert.False(t, ok)
}
