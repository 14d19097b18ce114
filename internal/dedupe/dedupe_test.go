package dedupe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizesKey(t *testing.T) {
	assert.Equal(t, "100xq80,x50q60", SizesKey([]string{"x50q60", "100xq80"}))
	assert.Equal(t, SizesKey([]string{"a", "b"}), SizesKey([]string{"b", "a", "b"}))
	assert.Equal(t, "", SizesKey(nil))
}
