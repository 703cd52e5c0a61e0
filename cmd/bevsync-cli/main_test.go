package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bevsync/internal/auth"
	"bevsync/internal/database"
)

func TestAddCameraAndList(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "install.db")
	var out bytes.Buffer

	require.NoError(t, run([]string{"add-camera", "-db", dbPath, "-id", "0", "-name", "Lobby",
		"-x", "100", "-y", "200", "-theta", "-90", "-h", "[[1.2,0,50],[0,1.2,30],[0,0,1]]"}, &out))
	require.NoError(t, run([]string{"set-token", "-db", dbPath, "-id", "0", "-token", "dev-token-cam0"}, &out))
	require.NoError(t, run([]string{"set-token", "-db", dbPath, "-id", "9", "-token", "orphan"}, &out))

	out.Reset()
	require.NoError(t, run([]string{"list", "-db", dbPath}, &out))
	assert.Contains(t, out.String(), "Lobby")
	assert.Contains(t, out.String(), "dev-**********")
	assert.NotContains(t, out.String(), "dev-token-cam0")
	assert.Contains(t, out.String(), "orph**")

	db, err := database.New(dbPath)
	require.NoError(t, err)
	defer db.Close()
	cams, err := db.ListCameras()
	require.NoError(t, err)
	require.Len(t, cams, 1)
	assert.Equal(t, [][]float64{{1.2, 0, 50}, {0, 1.2, 30}, {0, 0, 1}}, cams[0].Homography)
}

func TestSetTokenHash(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "install.db")
	var out bytes.Buffer

	require.NoError(t, run([]string{"set-token", "-db", dbPath, "-id", "3", "-token", "edge-secret", "-hash"}, &out))

	db, err := database.New(dbPath)
	require.NoError(t, err)
	defer db.Close()
	toks, err := db.ListTokens()
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.NotEqual(t, "edge-secret", toks[0].Token)

	store := auth.NewTokenStore(map[int]string{3: toks[0].Token})
	assert.True(t, store.Verify(3, "edge-secret"))
	assert.False(t, store.Verify(3, "other"))
}

func TestRemoveAndRevoke(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "install.db")
	var out bytes.Buffer

	require.NoError(t, run([]string{"add-camera", "-db", dbPath, "-id", "2"}, &out))
	require.NoError(t, run([]string{"set-token", "-db", dbPath, "-id", "2", "-token", "abc"}, &out))
	require.NoError(t, run([]string{"remove-camera", "-db", dbPath, "-id", "2"}, &out))
	require.NoError(t, run([]string{"revoke-token", "-db", dbPath, "-id", "2"}, &out))

	out.Reset()
	require.NoError(t, run([]string{"list", "-db", dbPath}, &out))
	assert.NotContains(t, out.String(), "Camera 2")
}

func TestUsageErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "install.db")
	var out bytes.Buffer

	tests := [][]string{
		nil,
		{"frobnicate"},
		{"add-camera", "-db", dbPath},
		{"set-token", "-db", dbPath, "-id", "1"},
		{"add-camera", "-db", dbPath, "-id", "1", "-h", "[[1,0],[0,1]]"},
		{"list", "-bogus"},
	}
	for _, args := range tests {
		assert.ErrorIs(t, run(args, &out), errUsage, "args %v", args)
	}
}
