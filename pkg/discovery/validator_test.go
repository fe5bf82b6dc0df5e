package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_StrongMarkerGoMod(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example\n"), 0o644))

	res := Validate(dir)
	assert.True(t, res.Valid)
	assert.Equal(t, "go", res.Type)
	assert.GreaterOrEqual(t, res.Confidence, 0.9)
}

func TestValidate_SingleGitMarkerRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))

	res := Validate(dir)
	assert.False(t, res.Valid)
	assert.InDelta(t, genericGitWeight, res.Confidence, 0.001)
}

func TestValidate_GenericTwoCodeFilesPlusReadmeBelowThreshold(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package a"), 0o644))

	// README (0.15) + two code files (0.15) = 0.30, under the 0.5 floor.
	res := Validate(dir)
	assert.False(t, res.Valid)
	assert.InDelta(t, genericReadmeWeight+genericCodeFilesWeight, res.Confidence, 0.001)
}

func TestValidate_GenericAccumulatedSignalsAccepted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("package a"), 0o644))

	// .git (0.25) + src (0.20) + README (0.15) + code files (0.15) = 0.75.
	res := Validate(dir)
	assert.True(t, res.Valid)
	assert.Equal(t, "generic", res.Type)
	assert.GreaterOrEqual(t, res.Confidence, genericMinConfidence)
}

func TestValidate_DotPrefixedRejected(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, ".hidden")
	require.NoError(t, os.Mkdir(dir, 0o755))

	res := Validate(dir)
	assert.False(t, res.Valid)
}

func TestValidate_SystemDirRejected(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "node_modules")
	require.NoError(t, os.Mkdir(dir, 0o755))

	res := Validate(dir)
	assert.False(t, res.Valid)
}

func TestValidate_NotADirectory(t *testing.T) {
	parent := t.TempDir()
	file := filepath.Join(parent, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	res := Validate(file)
	assert.False(t, res.Valid)
}
