package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appDirName  = "Anava"
	unixDirName = "anava"

	// LogFileName is the connector's single line-oriented log file.
	LogFileName = "anava-connector.log"

	// CertStoreFileName holds the pinned TLS fingerprints.
	CertStoreFileName = "certificate-fingerprints.json"
)

// DataDir returns the per-user directory holding connector state
// (certificate pins, optional config). The directory differs per platform;
// ANAVA_CONNECTOR_DATA_DIR overrides it.
func DataDir() string {
	if dir := os.Getenv("ANAVA_CONNECTOR_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appDirName)
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDirName)
		}
		return filepath.Join(home, "AppData", "Roaming", appDirName)
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, unixDirName)
		}
		return filepath.Join(home, ".config", unixDirName)
	}
}

// LogDir returns the per-user directory for connector logs.
// ANAVA_CONNECTOR_LOG_DIR overrides it.
func LogDir() string {
	if dir := os.Getenv("ANAVA_CONNECTOR_LOG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Logs", appDirName)
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appDirName, "Logs")
		}
		return filepath.Join(home, "AppData", "Local", appDirName, "Logs")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, unixDirName)
		}
		return filepath.Join(home, ".local", "state", unixDirName)
	}
}

// LogFilePath returns the absolute path of the connector log file.
func LogFilePath() string {
	return filepath.Join(LogDir(), LogFileName)
}

// CertStorePath returns the absolute path of the pinned-certificate store.
func CertStorePath() string {
	return filepath.Join(DataDir(), CertStoreFileName)
}

// EnsureDirs creates the data and log directories owner-only if missing.
// Both hold 0600 files (log, certificate store), so the directories
// themselves are 0700.
func EnsureDirs() error {
	for _, dir := range []string{DataDir(), LogDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SafeJoin joins path elements and ensures the result is within the base directory (no traversal).
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) || strings.HasPrefix(el, `\\`) {
			return "", fmt.Errorf("path traversal attempt detected: absolute path or UNC not allowed in elements: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if !strings.HasPrefix(absJoined, absBase) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}

	return absJoined, nil
}
