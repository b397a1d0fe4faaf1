package filesource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `
ranges:
  pre: [AAPL, " MSFT ", ""]
  post: |
    NVDA

    AMD
  bad:
    key: value
`

func writeDoc(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "symbols.yaml")
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o600))
	return p
}

func TestReadSymbols(t *testing.T) {
	s := New(writeDoc(t))
	ctx := context.Background()

	pre, err := s.ReadSymbols(ctx, "pre")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, pre)

	post, err := s.ReadSymbols(ctx, "post")
	require.NoError(t, err)
	assert.Equal(t, []string{"NVDA", "AMD"}, post)
}

func TestReadSymbolsErrors(t *testing.T) {
	s := New(writeDoc(t))
	ctx := context.Background()

	_, err := s.ReadSymbols(ctx, "missing")
	assert.ErrorContains(t, err, "not found")

	_, err = s.ReadSymbols(ctx, "bad")
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "nope.yaml")).ReadSymbols(ctx, "pre")
	assert.Error(t, err)
}
