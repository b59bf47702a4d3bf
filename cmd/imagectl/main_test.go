package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATABASE_TYPE", "memory")
	t.Setenv("STORAGE_BACKEND", "fs")
	t.Setenv("STORAGE_FS_BASE_DIR", filepath.Join(dir, "objects"))
	t.Setenv("STORAGE_SIGNING_SECRET", "cli-test-secret")
	t.Setenv("EVENT_SINK", "none")
	t.Setenv("METRICS_ENABLED", "false")
	return dir
}

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for x := 0; x < 20; x++ {
		for y := 0; y < 10; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(y * 20), B: uint8(x * 10), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestIngestCommand(t *testing.T) {
	dir := setupEnv(t)
	path := writePNG(t, dir)

	out, err := run(t, "ingest", path, "--title", "cli upload", "--tags", "a,b")
	require.NoError(t, err)

	var image simpleimage.Image
	require.NoError(t, json.Unmarshal([]byte(out), &image))
	assert.Equal(t, simpleimage.StatusCompleted, image.Status)
	assert.Equal(t, "image/png", image.ContentType)
	assert.Equal(t, "imagectl", image.UploadedBy)
	assert.Equal(t, []string{"a", "b"}, image.Tags)
	assert.Equal(t, 20, image.Width)

	assert.FileExists(t, filepath.Join(dir, "objects", image.PhysicalKey))
}

func TestIngestCommandRejectsNonImage(t *testing.T) {
	dir := setupEnv(t)
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := run(t, "ingest", path)
	require.Error(t, err)
	assert.True(t, simpleimage.IsValidation(err))
}

func TestGetCommandRejectsBadID(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "get", "not-a-uuid")
	require.Error(t, err)
	assert.True(t, simpleimage.IsValidation(err))
}

func TestDeleteCommandUnknownID(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "delete", "4f1c2a9e-8a51-4b0e-9a57-2d7c3c2f6b10")
	require.NoError(t, err)

	var report simpleimage.DeletionReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Deleted, 1)
}

func TestEnvCommand(t *testing.T) {
	out, err := run(t, "env")
	require.NoError(t, err)
	assert.Contains(t, out, "STORAGE_BACKEND")
	assert.Contains(t, out, "IMAGE_RENDITION_SIZES")
}
