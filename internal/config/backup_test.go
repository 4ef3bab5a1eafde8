package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupFile_NoFile(t *testing.T) {
	backupPath, err := BackupFile(filepath.Join(t.TempDir(), "config.yaml"))

	require.NoError(t, err)
	assert.Empty(t, backupPath)
}

func TestBackupFile_CopiesContent(t *testing.T) {
	// Given: an existing config file
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "retrieval:\n  policy: prefer-local\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	// When: backing it up
	backupPath, err := BackupFile(path)

	// Then: the backup sits next to it with the same content
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	assert.Equal(t, filepath.Dir(path), filepath.Dir(backupPath))
	assert.Contains(t, filepath.Base(backupPath), "config.yaml"+BackupSuffix+".")
	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestListBackups_NewestFirstAndPruned(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o600))

	// Given: four older backups plus an unrelated file
	for _, ts := range []string{"20000101-100000.000", "20000101-110000.000", "20000101-120000.000", "20000101-130000.000"} {
		require.NoError(t, os.WriteFile(path+BackupSuffix+"."+ts, []byte("old"), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml.bak.20000101-100000.000"), []byte("x"), 0o600))

	backups, err := ListBackups(path)
	require.NoError(t, err)
	require.Len(t, backups, 4)
	assert.Equal(t, path+BackupSuffix+".20000101-130000.000", backups[0])

	// When: a new backup is taken
	newest, err := BackupFile(path)
	require.NoError(t, err)

	// Then: only MaxBackups remain, the new one first
	backups, err = ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
	assert.Equal(t, newest, backups[0])
}

func TestListBackups_MissingDir(t *testing.T) {
	backups, err := ListBackups(filepath.Join(t.TempDir(), "absent", "config.yaml"))

	require.NoError(t, err)
	assert.Empty(t, backups)
}
