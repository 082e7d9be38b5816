package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Basic(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zm.conf", `
# comment
ZM_DB_HOST=localhost
ZM_DB_NAME=zm
ZM_DB_USER=zmuser
ZM_DB_PASS="zmpass"
ZM_PATH_MAP=/dev/shm
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, "zm", cfg.DBName)
	assert.Equal(t, "zmuser", cfg.DBUser)
	assert.Equal(t, "zmpass", cfg.DBPass)
	assert.Equal(t, "/dev/shm", cfg.PathMap)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/zm.conf")
	assert.Error(t, err)
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zm.conf", `
ZM_DB_HOST=localhost
ZM_DB_NAME=zm
ZM_DB_USER=zmuser
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "ZM_DB_PASS")
	assert.ErrorContains(t, err, "ZM_PATH_MAP")
}

func TestLoad_MalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zm.conf", "this is not a key value line\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DropinOverridesBase(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zm.conf", `
ZM_DB_HOST=localhost
ZM_DB_NAME=zm
ZM_DB_USER=zmuser
ZM_DB_PASS=zmpass
ZM_PATH_MAP=/dev/shm
`)
	dropinDir := filepath.Join(dir, "conf.d")
	require.NoError(t, os.Mkdir(dropinDir, 0o755))
	writeFile(t, dropinDir, "01-base.conf", "ZM_DB_HOST=10.0.0.1\n")
	writeFile(t, dropinDir, "02-override.conf", "ZM_DB_HOST=10.0.0.2\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", cfg.DBHost, "later drop-in files, sorted lexically, must win")
}

func TestLoad_ExtraKeysPreserved(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zm.conf", `
ZM_DB_HOST=localhost
ZM_DB_NAME=zm
ZM_DB_USER=zmuser
ZM_DB_PASS=zmpass
ZM_PATH_MAP=/dev/shm
ZM_LANG=en_gb
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "en_gb", cfg.Extra["ZM_LANG"])
}

func TestShmPath(t *testing.T) {
	cfg := &Config{PathMap: "/dev/shm"}
	assert.Equal(t, "/dev/shm/zm.mmap.7", cfg.ShmPath(7))
}
