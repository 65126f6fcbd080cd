package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirOverrides(t *testing.T) {
	// 1. env overrides win over platform defaults
	t.Setenv("ANAVA_CONNECTOR_DATA_DIR", "/custom/data")
	t.Setenv("ANAVA_CONNECTOR_LOG_DIR", "/custom/logs")
	assert.Equal(t, "/custom/data", DataDir())
	assert.Equal(t, "/custom/logs", LogDir())

	// 2. derived file paths follow the overridden directories
	assert.Equal(t, filepath.Join("/custom/logs", LogFileName), LogFilePath())
	assert.Equal(t, filepath.Join("/custom/data", CertStoreFileName), CertStorePath())
}

func TestDirDefaultsUnderHome(t *testing.T) {
	t.Setenv("ANAVA_CONNECTOR_DATA_DIR", "")
	t.Setenv("ANAVA_CONNECTOR_LOG_DIR", "")
	os.Unsetenv("ANAVA_CONNECTOR_DATA_DIR")
	os.Unsetenv("ANAVA_CONNECTOR_LOG_DIR")

	home, err := os.UserHomeDir()
	require.NoError(t, err)

	// 3. defaults resolve somewhere under the user's home
	assert.True(t, filepath.IsAbs(DataDir()))
	assert.Contains(t, DataDir(), home)
	assert.True(t, filepath.IsAbs(LogDir()))
	assert.Contains(t, LogDir(), home)
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	// 4. rejects path traversal attempts
	cases := []struct {
		name     string
		elements []string
		valid    bool
	}{
		{"normal", []string{"logs", "app.log"}, true},
		{"parent", []string{"..", "other"}, false},
		{"nested_parent", []string{"logs", "..", "..", "secrets"}, false},
		{"absolute", []string{"/etc/passwd"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SafeJoin(base, tc.elements...)
			if tc.valid {
				assert.NoError(t, err)
				assert.Contains(t, res, base)
			} else {
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), "traversal")
				}
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	tmpRoot := t.TempDir()
	t.Setenv("ANAVA_CONNECTOR_DATA_DIR", filepath.Join(tmpRoot, "data"))
	t.Setenv("ANAVA_CONNECTOR_LOG_DIR", filepath.Join(tmpRoot, "logs"))

	// 5. creates data and log directories owner-only
	err := EnsureDirs()
	require.NoError(t, err)

	for _, dir := range []string{DataDir(), LogDir()} {
		info, err := os.Stat(dir)
		require.NoError(t, err, "directory %s should exist", dir)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	}
}
