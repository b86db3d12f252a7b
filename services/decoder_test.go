package services

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"testing"
)

func gzipBase64(t *testing.T, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// structuredPayload builds the nested-message layout observed in current
// captures: device path up front, start marker, caption text, message id
// pattern and lang id marker.
func structuredPayload(devicePath, text string, messageID uint32, version uint32) []byte {
	var data []byte
	data = append(data, 10, byte(len(devicePath)+2), 10, byte(len(devicePath)))
	data = append(data, devicePath...)
	data = append(data, 16, 1)
	data = append(data, 24, 5, 50, byte(len(text)))
	data = append(data, text...)
	data = append(data, 24, 0, 32, 1, 45, 0)
	data = append(data,
		byte(messageID), byte(messageID>>8), byte(messageID>>16), byte(messageID>>24),
		byte(version), byte(version>>8), byte(version>>16), byte(version>>24))
	data = append(data, 64, 0, 72, 3)
	return data
}

func TestDecodeStructuredPayload(t *testing.T) {
	devicePath := "spaces/j5ZV3BSRHZEB/devices/227"
	payload := structuredPayload(devicePath, "Hello world", 42, 2)

	decoder := NewDecoder()
	decoded, err := decoder.Decode(gzipBase64(t, payload))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.DeviceID != devicePath {
		t.Errorf("DeviceID = %q, expected %q", decoded.DeviceID, devicePath)
	}
	if decoded.Text != "Hello world" {
		t.Errorf("Text = %q, expected %q", decoded.Text, "Hello world")
	}
	if decoded.MessageID == nil || *decoded.MessageID != 42 {
		t.Errorf("MessageID = %v, expected 42", decoded.MessageID)
	}
	if decoded.Version != 2 {
		t.Errorf("Version = %d, expected 2", decoded.Version)
	}
	if decoded.LangID == nil || *decoded.LangID != 3 {
		t.Errorf("LangID = %v, expected 3", decoded.LangID)
	}
}

func TestDecodeGzipWithPrefix(t *testing.T) {
	payload := structuredPayload("spaces/j5ZV3BSRHZEB/devices/227", "prefixed payload", 7, 1)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(payload)
	zw.Close()

	// Some captures carry three junk bytes before the gzip magic
	raw := append([]byte{0, 1, 2}, buf.Bytes()...)

	decoder := NewDecoder()
	decoded, err := decoder.Decode(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Text != "prefixed payload" {
		t.Errorf("Text = %q, expected %q", decoded.Text, "prefixed payload")
	}
}

func TestDecodeTextWithoutDeviceID(t *testing.T) {
	// No recognizable device field, only the start marker and a text field
	payload := []byte{7, 7, 7, 7, 16, 1, 24, 3, 50, 5, 'H', 'e', 'l', 'l', 'o'}

	decoder := NewDecoder()
	decoded, err := decoder.Decode(gzipBase64(t, payload))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.DeviceID != "" {
		t.Errorf("DeviceID = %q, expected empty", decoded.DeviceID)
	}
	if decoded.Text != "Hello" {
		t.Errorf("Text = %q, expected %q", decoded.Text, "Hello")
	}
}

func TestDecodeErrors(t *testing.T) {
	decoder := NewDecoder()

	tests := []struct {
		name string
		raw  func(t *testing.T) string
	}{
		{
			name: "invalid base64",
			raw:  func(t *testing.T) string { return "!!! not base64 !!!" },
		},
		{
			name: "empty payload",
			raw:  func(t *testing.T) string { return "" },
		},
		{
			name: "too short after decompression",
			raw:  func(t *testing.T) string { return gzipBase64(t, []byte{1, 2, 3}) },
		},
		{
			name: "no start marker",
			raw:  func(t *testing.T) string { return gzipBase64(t, bytes.Repeat([]byte{7}, 12)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decoder.Decode(tt.raw(t)); err == nil {
				t.Error("Decode() expected error, got nil")
			}
		})
	}
}

func TestIsValidDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		expected bool
	}{
		{"device path", "spaces/j5ZV3BSRHZEB/devices/227", true},
		{"bare number", "227", true},
		{"empty", "", false},
		{"sentence-like text", "this is a long sentence that someone said.", false},
		{"repeated character noise", "aaaaaaaaaaaa", false},
		{"too long", string(bytes.Repeat([]byte{'x', '/'}, 150)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidDeviceID(tt.id); got != tt.expected {
				t.Errorf("isValidDeviceID(%q) = %v, expected %v", tt.id, got, tt.expected)
			}
		})
	}
}

func TestSanitizeDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		expected string
	}{
		{
			name:     "clean path unchanged",
			id:       "spaces/j5ZV3BSRHZEB/devices/227",
			expected: "spaces/j5ZV3BSRHZEB/devices/227",
		},
		{
			name:     "trailing caption text trimmed",
			id:       "spaces/j5ZV3BSRHZEB/devices/227/this leaked from the caption",
			expected: "spaces/j5ZV3BSRHZEB/devices/227",
		},
		{
			name:     "short trailing part kept",
			id:       "spaces/j5ZV3BSRHZEB/devices/227/ab",
			expected: "spaces/j5ZV3BSRHZEB/devices/227/ab",
		},
		{
			name:     "control bytes dropped",
			id:       "spaces/abc\x01\x02/devices/9",
			expected: "spaces/abc/devices/9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeDeviceID(tt.id); got != tt.expected {
				t.Errorf("sanitizeDeviceID(%q) = %q, expected %q", tt.id, got, tt.expected)
			}
		})
	}
}
