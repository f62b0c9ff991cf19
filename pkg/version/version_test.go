package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommitOverride(t *testing.T) {
	t.Cleanup(func() { commit = "" })

	commit = "0123456789abcdef"
	assert.Equal(t, "01234567", Commit())
	assert.Equal(t, "scout/01234567", Full())

	commit = "abc"
	assert.Equal(t, "abc", Commit())
}
