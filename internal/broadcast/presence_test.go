package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresence(t *testing.T) {
	p := NewPresence()

	assert.True(t, p.Set("b", true))
	assert.False(t, p.Set("b", true), "repeat announcement changes nothing")
	assert.True(t, p.Set("a", true))
	assert.Equal(t, []string{"a", "b"}, p.IDs())

	assert.True(t, p.Set("a", false))
	assert.False(t, p.Active("a"))

	assert.True(t, p.Remove("b"))
	assert.False(t, p.Remove("b"))
	assert.Empty(t, p.IDs())

	p.Set("c", true)
	p.Reset()
	assert.False(t, p.Active("c"))
}
