package broadcast

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferKeepsLastCaptionsInOrder(t *testing.T) {
	b := NewBuffer(6)
	for i := 1; i <= 8; i++ {
		b.Add(Entry{Text: fmt.Sprintf("line %d", i)})
	}

	var got []string
	for _, e := range b.Entries() {
		got = append(got, e.Text)
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5", "line 6", "line 7", "line 8"}, got)
	assert.Equal(t, 6, b.Len())
}

func TestBufferDefaultsSize(t *testing.T) {
	assert.Equal(t, DefaultHistory, NewBuffer(0).Cap())
	assert.Equal(t, DefaultHistory, NewBuffer(-3).Cap())

	b := NewBuffer(1)
	b.Add(Entry{Text: "a"})
	b.Add(Entry{Text: "b"})
	assert.Equal(t, []Entry{{Text: "b"}}, b.Entries())
}

func TestBufferEntriesIsACopy(t *testing.T) {
	b := NewBuffer(3)
	b.Add(Entry{Text: "a"})
	entries := b.Entries()
	entries[0].Text = "mutated"
	assert.Equal(t, "a", b.Entries()[0].Text)
}
