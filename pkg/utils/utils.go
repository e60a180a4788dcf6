package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
)

// CacheDir is where sessions keep their counter database by default.
func CacheDir() string {
	tmpDir, err := os.UserCacheDir()
	if err != nil {
		tmpDir = os.TempDir()
	}
	return filepath.Join(tmpDir, "cvedb")
}

// MarshalJSON is json.Marshal without HTML escaping: "&", "<" and ">" are written
// as they are.
func MarshalJSON(v any) ([]byte, error) {
	return encodeJSON(v, "")
}

// MarshalIndentJSON indents with indent and ends the document with a newline.
func MarshalIndentJSON(v any, indent string) ([]byte, error) {
	b, err := encodeJSON(v, indent)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func encodeJSON(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
