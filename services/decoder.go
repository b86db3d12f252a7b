package services

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"
)

// DecodedSegment holds the fields pulled out of one raw caption payload.
type DecodedSegment struct {
	DeviceID  string  `json:"device_id"`
	MessageID *uint32 `json:"message_id"`
	Text      string  `json:"text"`
	Version   uint32  `json:"version"`
	LangID    *int    `json:"lang_id"`
}

// Decoder unpacks the raw caption payloads pushed by the extension:
// base64, then gzip, then an ad-hoc tagged byte layout. The payload is
// protobuf-shaped but does not follow wire-format rules, so fields are
// located by tag bytes and known patterns rather than parsed.
type Decoder struct{}

// messageIDPatterns are the byte sequences that precede the
// little-endian message id in observed payloads.
var messageIDPatterns = [][]byte{
	{24, 0, 32, 1, 45, 0},
	{24, 0, 1, 32, 1, 45, 0},
	{24, 0, 45, 0},
	{24, 0, 1, 45, 0},
}

var langIDPatterns = [][]byte{
	{64, 0, 72},
	{64, 0, 80},
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode unpacks one base64 payload into its transcript fields.
func (d *Decoder) Decode(rawBase64 string) (*DecodedSegment, error) {
	raw, err := base64.StdEncoding.DecodeString(rawBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty data after base64 decoding")
	}

	data, err := d.decompress(raw)
	if err != nil {
		return nil, err
	}

	return d.extract(data)
}

// decompress handles the gzip layer. Some payloads carry a 3-byte
// prefix before the gzip magic; anything else passes through untouched.
func (d *Decoder) decompress(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("data too short for gzip")
	}

	if data[0] == 0x1f && data[1] == 0x8b {
		out, err := gunzip(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip: %w", err)
		}
		return out, nil
	}

	if len(data) > 4 && data[3] == 0x1f && data[4] == 0x8b {
		out, err := gunzip(data[3:])
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip (offset 3): %w", err)
		}
		return out, nil
	}

	slog.Warn("Payload does not appear to be gzip compressed, using as-is")
	return data, nil
}

func gunzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (d *Decoder) extract(data []byte) (*DecodedSegment, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("data too short for payload decoding")
	}

	startIdx, ok := findDataStart(data)
	if !ok {
		slog.Error("Could not find payload start marker", "length", len(data))
		return nil, fmt.Errorf("could not find payload data start marker")
	}

	deviceID, deviceEnd := d.extractDeviceID(data, startIdx)

	// Text stays extractable even when the device id is not
	textFrom := startIdx
	if deviceEnd > 0 {
		textFrom = deviceEnd
	}
	text := d.extractText(data, textFrom)

	searchFrom := startIdx
	if deviceEnd > startIdx {
		searchFrom = deviceEnd
	}
	messageID, version := d.extractMessageID(data, searchFrom)
	langID := d.extractLangID(data, searchFrom)

	return &DecodedSegment{
		DeviceID:  deviceID,
		MessageID: messageID,
		Text:      text,
		Version:   version,
		LangID:    langID,
	}, nil
}

// findDataStart locates the first byte 16 marker; a following 1 byte is
// part of the marker.
func findDataStart(data []byte) (int, bool) {
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 16 {
			if data[i+1] == 1 {
				return i + 2, true
			}
			return i + 1, true
		}
	}
	return 0, false
}

// extractDeviceID pulls the speaker's device path out of the payload.
// The reliable layout is a nested message at the buffer start:
// tag 10, varint length, tag 10, length 31, then a 31-byte path such as
// "spaces/j5ZV3BSRHZEB/devices/227". Older payload shapes are covered
// by tag scans and a raw string search before the start marker.
//
// Returns the id (empty when nothing plausible was found) and the index
// just past it, used as the search origin for the remaining fields.
func (d *Decoder) extractDeviceID(data []byte, startIdx int) (string, int) {
	if len(data) >= 35 && data[0] == 10 {
		if id, end, ok := extractStructuredDeviceID(data); ok {
			return id, end
		}
	}

	// Tag 3, the oldest observed shape
	limit := min(startIdx+100, len(data))
	for idx := startIdx; idx < limit; idx++ {
		if data[idx] != 3 {
			continue
		}
		if idx+1 >= len(data) {
			break
		}
		strLen := int(data[idx+1])
		strStart := idx + 2
		if strLen > 0 && strLen < 1000 && strStart+strLen <= len(data) {
			candidate := strings.Trim(decodeUTF8(data[strStart:strStart+strLen]), "\x00")
			if candidate != "" && isValidDeviceID(candidate) {
				return candidate, strStart + strLen
			}
		}
		break
	}

	// Tag 98 after the start marker
	if id, end, ok := scanTaggedString(data, 98, startIdx, min(startIdx+200, len(data)), 0); ok {
		return id, end
	}

	// Tag 10 after the start marker
	if id, end, ok := scanTaggedString(data, 10, startIdx, min(startIdx+150, len(data)), 2); ok {
		return id, end
	}

	if startIdx > 0 {
		if id, end, ok := d.searchDeviceIDBeforeStart(data, startIdx); ok {
			return id, end
		}
	}

	slog.Warn("Device id extraction failed", "start_idx", startIdx, "length", len(data))
	return "", startIdx
}

// extractStructuredDeviceID reads the nested-message layout at the
// buffer start. The device path is always 31 bytes in this shape.
func extractStructuredDeviceID(data []byte) (string, int, bool) {
	// Varint message length after the outer tag
	idx := 1
	for i := 0; i < 5 && idx < len(data); i++ {
		b := data[idx]
		idx++
		if b&0x80 == 0 {
			break
		}
	}

	if idx >= len(data) || data[idx] != 10 {
		return "", 0, false
	}
	lenIdx := idx + 1
	if lenIdx >= len(data) || data[lenIdx] != 31 {
		return "", 0, false
	}
	strStart := lenIdx + 1
	strEnd := strStart + 31
	if strEnd > len(data) {
		return "", 0, false
	}

	id := decodeUTF8(data[strStart:strEnd])
	if id == "" || (!strings.Contains(id, "spaces/") && !strings.Contains(id, "/devices/")) {
		return "", 0, false
	}
	return id, strEnd, true
}

// scanTaggedString scans for a tag byte followed by a one-byte length
// and a plausible device id.
func scanTaggedString(data []byte, tag byte, from, to, minLen int) (string, int, bool) {
	for idx := from; idx < to; idx++ {
		if data[idx] != tag {
			continue
		}
		lenIdx := idx + 1
		if lenIdx >= len(data) {
			break
		}
		strLen := int(data[lenIdx])
		if strLen == 0 || strLen > 200 {
			continue
		}
		strStart := lenIdx + 1
		if strStart+strLen > len(data) {
			continue
		}
		candidate := strings.TrimSpace(strings.Trim(decodeUTF8(data[strStart:strStart+strLen]), "\x00"))
		if candidate != "" && len(candidate) > minLen && isValidDeviceID(candidate) {
			return candidate, strStart + strLen, true
		}
	}
	return "", 0, false
}

// searchDeviceIDBeforeStart covers payloads where the device path sits
// before the start marker instead of inside a tagged field.
func (d *Decoder) searchDeviceIDBeforeStart(data []byte, startIdx int) (string, int, bool) {
	before := data[:startIdx]

	// Raw string search bounded by the byte 16 marker
	if strStart := bytes.Index(before, []byte("spaces/")); strStart >= 0 {
		var candidate string
		for boundary := strStart; boundary < startIdx; boundary++ {
			if data[boundary] == 16 {
				candidate = strings.TrimSpace(strings.Trim(decodeUTF8(data[strStart:boundary]), "\x00"))
				break
			}
		}
		if candidate == "" {
			// No marker; trim trailing bytes after the device number
			remaining := decodeUTF8(before[strStart:])
			if path, num, found := strings.Cut(remaining, "/devices/"); found {
				digits := leadingDigits(num)
				if digits != "" {
					candidate = path + "/devices/" + digits
				}
			}
		}
		if candidate != "" {
			cleaned := keepDeviceChars(candidate)
			if cleaned != "" && isValidDeviceID(cleaned) {
				return cleaned, startIdx, true
			}
		}
	}

	// Byte 16 boundaries from a handful of start positions
	positions := []int{0}
	for _, offset := range []int{10, 20, 30, 50, 100} {
		pos := max(0, startIdx-offset)
		if pos < startIdx && pos != 0 {
			positions = append(positions, pos)
		}
	}
	for _, strStart := range positions {
		for boundary := strStart; boundary < startIdx; boundary++ {
			if data[boundary] != 16 {
				continue
			}
			length := boundary - strStart
			if length <= 10 || length >= 300 {
				continue
			}
			candidate := strings.TrimSpace(strings.Trim(decodeUTF8(data[strStart:boundary]), "\x00"))
			if candidate == "" || (!strings.Contains(candidate, "spaces/") && !strings.Contains(candidate, "/devices/")) {
				continue
			}
			if isValidDeviceID(candidate) {
				return candidate, boundary, true
			}
			if path, num, found := strings.Cut(candidate, "/devices/"); found {
				digits := keepDeviceChars(num)
				if len(digits) > 20 {
					digits = digits[:20]
				}
				if digits != "" {
					cleaned := path + "/devices/" + digits
					if isValidDeviceID(cleaned) {
						return cleaned, boundary, true
					}
				}
			}
		}
	}

	// Tag scans before the start marker
	from := max(0, startIdx-100)
	for _, tag := range []byte{10, 98} {
		for idx := from; idx < startIdx; idx++ {
			if data[idx] != tag {
				continue
			}
			lenIdx := idx + 1
			if lenIdx >= len(data) {
				break
			}
			strLen := int(data[lenIdx])
			if strLen == 0 || strLen > 200 {
				continue
			}
			strStart := lenIdx + 1
			if strStart+strLen > len(data) || strStart+strLen > startIdx {
				continue
			}
			candidate := strings.TrimSpace(strings.Trim(decodeUTF8(data[strStart:strStart+strLen]), "\x00"))
			if candidate != "" && isValidDeviceID(candidate) {
				return candidate, strStart + strLen, true
			}
		}
	}

	return "", 0, false
}

// isValidDeviceID filters out candidates that look like caption text or
// binary garbage rather than a device path.
func isValidDeviceID(id string) bool {
	if id == "" {
		return false
	}

	runes := []rune(id)
	total := len(runes)

	printable := 0
	control := 0
	replacements := 0
	hasValidChars := false
	charCounts := make(map[rune]int)
	for _, r := range runes {
		if unicode.IsPrint(r) || strings.ContainsRune("/\\-_", r) {
			printable++
		}
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			control++
		}
		if r == '�' {
			replacements++
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("/\\-_@.", r) {
			hasValidChars = true
		}
		charCounts[r]++
	}

	if printable*10 < total*7 {
		return false
	}
	if replacements*10 > total*3 {
		return false
	}
	if control*10 > total*2 {
		return false
	}
	if total > 200 {
		return false
	}
	if !hasValidChars {
		return false
	}

	spaces := strings.Count(id, " ")
	if total > 20 && spaces > total/10 {
		return false
	}
	if total > 10 && spaces > 0 && strings.ContainsRune(".!?,;:@", runes[total-1]) {
		return false
	}
	if words := strings.Fields(id); len(words) > 3 && total < 100 {
		return false
	}

	// Runs of one repeated character are binary noise, not an id
	if total > 3 {
		maxCount := 0
		var maxChar rune
		for r, count := range charCounts {
			if count > maxCount {
				maxCount = count
				maxChar = r
			}
		}
		if maxCount*2 > total && maxCount > 3 && !strings.ContainsRune("/\\-_@.", maxChar) {
			return false
		}
	}

	return true
}

// extractMessageID finds the message id and version via the known byte
// patterns, falling back to the first bare tag 24.
func (d *Decoder) extractMessageID(data []byte, startIdx int) (*uint32, uint32) {
	for _, pattern := range messageIDPatterns {
		idx := indexPattern(data, pattern, startIdx)
		if idx < 0 {
			continue
		}
		end := idx + len(pattern)
		if end+4 > len(data) {
			continue
		}
		messageID := binary.LittleEndian.Uint32(data[end : end+4])
		version := uint32(1)
		if end+8 <= len(data) {
			version = binary.LittleEndian.Uint32(data[end+4 : end+8])
		}
		return &messageID, version
	}

	limit := min(startIdx+100, len(data))
	for i := startIdx; i < limit; i++ {
		if data[i] == 24 && i+5 <= len(data) {
			messageID := binary.LittleEndian.Uint32(data[i+1 : i+5])
			return &messageID, 1
		}
	}

	return nil, 1
}

// extractText finds the caption text. The reliable shape is tag 24
// (varint timestamp) followed by tag 50 within the next 10 bytes; the
// fallback is the first tag 50 with a sane length byte.
func (d *Decoder) extractText(data []byte, searchFrom int) string {
	textStart := -1

	for i := searchFrom; i < len(data)-1 && textStart < 0; i++ {
		if data[i] != 24 {
			continue
		}
		tsIdx := i + 1
		for j := 0; j < 5 && tsIdx < len(data); j++ {
			b := data[tsIdx]
			tsIdx++
			if b&0x80 == 0 {
				break
			}
		}
		for k := tsIdx; k < min(tsIdx+10, len(data)); k++ {
			if data[k] == 50 {
				textStart = k + 1
				break
			}
		}
	}

	if textStart < 0 {
		for i := searchFrom; i < len(data)-1; i++ {
			if data[i] == 50 {
				length := int(data[i+1])
				if length > 0 && length <= 200 {
					textStart = i + 1
					break
				}
			}
		}
	}

	if textStart < 0 || textStart >= len(data) {
		return ""
	}

	strLen := int(data[textStart])
	strStart := textStart + 1
	if strLen == 0 || strLen > 200 || strStart+strLen > len(data) {
		return ""
	}

	text := decodeUTF8(data[strStart : strStart+strLen])
	return strings.TrimSpace(stripNonPrintable(text))
}

// extractLangID returns the byte following one of the lang id patterns.
func (d *Decoder) extractLangID(data []byte, startIdx int) *int {
	for _, pattern := range langIDPatterns {
		idx := indexPattern(data, pattern, startIdx)
		if idx < 0 {
			continue
		}
		end := idx + len(pattern)
		if end < len(data) {
			langID := int(data[end])
			return &langID
		}
	}
	return nil
}

func indexPattern(data, pattern []byte, startIdx int) int {
	if startIdx >= len(data) {
		return -1
	}
	idx := bytes.Index(data[startIdx:], pattern)
	if idx < 0 {
		return -1
	}
	return startIdx + idx
}

// decodeUTF8 replaces invalid byte sequences with the replacement rune.
func decodeUTF8(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}

func stripNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		return -1
	}, s)
}

func leadingDigits(s string) string {
	for i, r := range s {
		if !unicode.IsDigit(r) {
			return s[:i]
		}
	}
	return s
}

// keepDeviceChars drops everything except printable characters and the
// separators a device path may contain.
func keepDeviceChars(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || strings.ContainsRune("/\\-_@.", r) {
			return r
		}
		return -1
	}, s)
}
