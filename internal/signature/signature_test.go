package signature

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoaderConvertsHTML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "_signature.html")
	require.NoError(t, os.WriteFile(path, []byte("<p><strong>Coordinación</strong><br>Centro de Idiomas</p>\n"), 0o600))

	l := &Loader{Path: path, Log: zap.NewNop()}
	assert.Equal(t, "Coordinación\nCentro de Idiomas", l.Load())
}

func TestLoaderFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	latin1 := filepath.Join(dir, "latin1.html")
	require.NoError(t, os.WriteFile(latin1, []byte("Coordinaci\xf3n"), 0o600))

	for _, path := range []string{"", filepath.Join(dir, "missing.html"), latin1, dir} {
		l := &Loader{Path: path, Log: zap.NewNop()}
		assert.Equal(t, Fallback, l.Load(), path)
	}
}

func TestLoaderEmptyFileGivesEmptySignature(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "_signature.html")
	require.NoError(t, os.WriteFile(path, []byte("<p> </p>"), 0o600))

	l := &Loader{Path: path, Log: zap.NewNop()}
	assert.Empty(t, l.Load())
}
