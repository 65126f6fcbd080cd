// Package logging opens the connector's line-oriented log file and provides
// the credential masking helpers every log call site must use. Passwords are
// never written to any sink; usernames only appear masked.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Open appends to the log file at path, creating it owner-read/write only.
// The returned closer flushes and closes the underlying file.
func Open(path string) (*log.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return log.New(f, "", log.LstdFlags), f, nil
}

// Multi logs to the file and mirrors to stderr, used while running in a
// terminal. File permissions are identical to Open.
func Multi(path string) (*log.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return log.New(io.MultiWriter(f, os.Stderr), "", log.LstdFlags), f, nil
}

// MaskUsername keeps the first and last character and stars the rest, always
// length-preserving so operators can still correlate accounts across lines.
// One-character names become "*", two-character names keep only the first.
func MaskUsername(s string) string {
	switch len(s) {
	case 0:
		return ""
	case 1:
		return "*"
	case 2:
		return s[:1] + "*"
	default:
		return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
	}
}
