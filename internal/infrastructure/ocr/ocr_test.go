package ocr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPageRenderer_RejectsInvalidDocuments(t *testing.T) {
	dir := t.TempDir()
	renderer := NewPageRenderer(0, zap.NewNop())

	t.Run("missing file", func(t *testing.T) {
		_, err := renderer.Render(context.Background(), filepath.Join(dir, "absent.pdf"), dir, false)
		assert.Error(t, err)
	})

	t.Run("not a pdf", func(t *testing.T) {
		path := filepath.Join(dir, "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

		_, err := renderer.Render(context.Background(), path, dir, false)

		assert.ErrorIs(t, err, ErrNotPDF)
	})
}
