package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalPath(t *testing.T) {
	root := filepath.FromSlash("/srv/data")

	got, ok := LocalPath(root, "docs/", "docs/prd/checkout.md")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "prd", "checkout.md"), got)

	got, ok = LocalPath(root, "", "roadmap.pdf")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "roadmap.pdf"), got)

	_, ok = LocalPath(root, "docs/", "docs/../../etc/passwd")
	assert.False(t, ok)

	_, ok = LocalPath(root, "docs/", "docs/")
	assert.False(t, ok)
}
