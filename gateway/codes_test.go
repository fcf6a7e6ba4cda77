package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultCodeSet(t *testing.T) {
	var s = DefaultCodeSet()

	for _, code := range []int{2104, 2106, 2119, 2158, 2176, 10089, 10167, 10168, 300, 354} {
		assert.True(t, s.Informational(code), "code %d", code)
	}
	// Real failures stay fatal.
	for _, code := range []int{200, 201, 321, 502, 504, 10197} {
		assert.False(t, s.Informational(code), "code %d", code)
	}
}

func TestCustomCodeSet(t *testing.T) {
	var s = NewCodeSet(1, 2)
	assert.True(t, s.Informational(1))
	assert.False(t, s.Informational(2104))
	assert.ElementsMatch(t, []int{1, 2}, s.Codes())
}
