// Package textutil normalizes fragment text before it is compared.
package textutil

import "bytes"

// NormalizeUTF8LF converts CRLF and lone CR to LF and replaces invalid UTF-8
// with the Unicode replacement character.
func NormalizeUTF8LF(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	b = bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
	return bytes.ToValidUTF8(b, []byte("�"))
}

// EnsureTrailingLF appends a single \n if not already present.
func EnsureTrailingLF(b []byte) []byte {
	if len(b) == 0 || b[len(b)-1] == '\n' {
		return b
	}
	return append(b, '\n')
}

// ForDiff prepares fragment content for a line diff: normalized line ends
// and a final newline, so that the last record renders as a line of its own.
func ForDiff(b []byte) []byte {
	return EnsureTrailingLF(NormalizeUTF8LF(b))
}
