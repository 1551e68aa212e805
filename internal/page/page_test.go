package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrame_Reset(t *testing.T) {
	f := &Frame{ID: 5, PinCount: 3, Dirty: true}
	f.Data[0] = 0xFF

	f.Reset()

	assert.Equal(t, InvalidID, f.ID)
	assert.Equal(t, int32(0), f.PinCount)
	assert.False(t, f.Dirty)
	assert.Equal(t, byte(0), f.Data[0])
}

func TestInvalidIDIsHeaderID(t *testing.T) {
	// Page 0 is reserved exclusively for the catalog header page, so
	// InvalidID doubling as HeaderID never collides with a real node id
	// allocated by the disk manager.
	assert.Equal(t, HeaderID, InvalidID)
}
