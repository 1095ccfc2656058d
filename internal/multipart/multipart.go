// Package multipart decodes multipart/form-data bodies without relying on
// a framework parser. The decoder is deliberately tolerant: anything it
// cannot make sense of yields no parts rather than an error.
package multipart

import (
	"bytes"
	"strings"
)

// Part is one named file extracted from an upload body. The payload lives
// only for the duration of the request.
type Part struct {
	Filename string
	Data     []byte
}

// Boundary extracts the boundary parameter from a multipart/form-data
// Content-Type header value.
func Boundary(contentType string) (string, bool) {
	if !strings.Contains(contentType, "multipart/form-data") {
		return "", false
	}
	_, after, found := strings.Cut(contentType, "boundary=")
	if !found {
		return "", false
	}
	b := strings.TrimSpace(after)
	if i := strings.IndexByte(b, ';'); i >= 0 {
		b = b[:i]
	}
	b = strings.Trim(strings.TrimSpace(b), `"`)
	if b == "" {
		return "", false
	}
	return b, true
}

// Parse scans body for every occurrence of the boundary delimiter and
// treats the span between consecutive occurrences as one part. Parts
// without a filename are form fields and are dropped. Malformed input
// degrades to an empty result.
func Parse(body []byte, boundary string) []Part {
	if boundary == "" {
		return nil
	}
	delim := []byte("--" + boundary)

	var starts []int
	for i := 0; i+len(delim) <= len(body); {
		if bytes.Equal(body[i:i+len(delim)], delim) {
			starts = append(starts, i+len(delim))
			i += len(delim)
		} else {
			i++
		}
	}

	var parts []Part
	for idx, start := range starts {
		end := len(body)
		if idx+1 < len(starts) {
			end = starts[idx+1] - len(delim)
		}
		if start >= end {
			continue
		}
		part := body[start:end]
		part = bytes.TrimPrefix(part, []byte("\r\n"))
		// closing marker: "--boundary--"
		if bytes.HasPrefix(part, []byte("--")) {
			continue
		}
		sep := bytes.Index(part, []byte("\r\n\r\n"))
		if sep < 0 {
			continue
		}
		headers := string(part[:sep])
		data := part[sep+4:]
		data = bytes.TrimSuffix(data, []byte("\r\n"))
		name, ok := filenameFrom(headers)
		if !ok || name == "" {
			continue
		}
		parts = append(parts, Part{Filename: name, Data: append([]byte(nil), data...)})
	}
	return parts
}

// filenameFrom pulls the filename out of a part's Content-Disposition
// header line. Windows-style paths keep only the final component.
func filenameFrom(headers string) (string, bool) {
	for _, line := range strings.Split(headers, "\r\n") {
		if !strings.Contains(strings.ToLower(line), "content-disposition") {
			continue
		}
		pos := strings.Index(line, `filename="`)
		if pos < 0 {
			continue
		}
		rest := line[pos+len(`filename="`):]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			continue
		}
		name := rest[:end]
		if i := strings.LastIndexAny(name, `/\`); i >= 0 {
			name = name[i+1:]
		}
		return name, true
	}
	return "", false
}
