package multipart

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func TestParseTwoFiles(t *testing.T) {
	b := body(
		"--X",
		`Content-Disposition: form-data; name="file"; filename="a.txt"`,
		"",
		"hello",
		"--X",
		`Content-Disposition: form-data; name="file"; filename="b.txt"`,
		"",
		"world",
		"--X--",
		"",
	)

	parts := Parse(b, "X")
	require.Len(t, parts, 2)
	assert.Equal(t, "a.txt", parts[0].Filename)
	assert.Equal(t, []byte("hello"), parts[0].Data)
	assert.Equal(t, "b.txt", parts[1].Filename)
	assert.Equal(t, []byte("world"), parts[1].Data)
}

func TestParseDropsFormFields(t *testing.T) {
	b := body(
		"--bnd",
		`Content-Disposition: form-data; name="comment"`,
		"",
		"not a file",
		"--bnd",
		`Content-Disposition: form-data; name="file"; filename="keep.bin"`,
		"Content-Type: application/octet-stream",
		"",
		"payload",
		"--bnd--",
		"",
	)

	parts := Parse(b, "bnd")
	require.Len(t, parts, 1)
	assert.Equal(t, "keep.bin", parts[0].Filename)
	assert.Equal(t, []byte("payload"), parts[0].Data)
}

func TestParseWindowsPathKeepsBase(t *testing.T) {
	b := body(
		"--X",
		`Content-Disposition: form-data; name="file"; filename="C:\Users\bob\notes.txt"`,
		"",
		"n",
		"--X--",
		"",
	)

	parts := Parse(b, "X")
	require.Len(t, parts, 1)
	assert.Equal(t, "notes.txt", parts[0].Filename)
}

func TestParseBinaryPayloadPreserved(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xff, '\r', '\n', 0x7f}
	raw := append(body(
		"--X",
		`Content-Disposition: form-data; name="file"; filename="bin.dat"`,
		"",
		""), payload...)
	raw = append(raw, []byte("\r\n--X--\r\n")...)

	parts := Parse(raw, "X")
	require.Len(t, parts, 1)
	assert.Equal(t, payload, parts[0].Data)
}

func TestParseMalformedDegradesToEmpty(t *testing.T) {
	cases := map[string][]byte{
		"empty body":        {},
		"no boundary match": []byte("random bytes with no delimiter"),
		"headers only":      body("--X", "Content-Disposition: junk", "--X--"),
		"no blank line":     body("--X", `Content-Disposition: form-data; filename="a"`, "data", "--X--"),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, Parse(b, "X"))
		})
	}
}

func TestParseEmptyBoundary(t *testing.T) {
	assert.Empty(t, Parse([]byte("--\r\n\r\nx\r\n----"), ""))
}

func TestBoundary(t *testing.T) {
	tests := []struct {
		name string
		ct   string
		want string
		ok   bool
	}{
		{"plain", "multipart/form-data; boundary=xyz", "xyz", true},
		{"quoted", `multipart/form-data; boundary="xyz"`, "xyz", true},
		{"trailing param", "multipart/form-data; boundary=xyz; charset=utf-8", "xyz", true},
		{"not multipart", "application/json", "", false},
		{"missing param", "multipart/form-data", "", false},
		{"empty value", "multipart/form-data; boundary=", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Boundary(tt.ct)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
