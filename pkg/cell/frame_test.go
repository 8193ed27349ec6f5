package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseChunk(t *testing.T) {
	tests := []struct {
		name   string
		chunk  []byte
		want   int64
		wantOK bool
	}{
		{"plain line", []byte("138300\r\n"), 138300, true},
		{"no terminator", []byte("42"), 42, true},
		{"leading noise", []byte("\x00\xffw=138304g"), 138304, true},
		{"first run wins", []byte("12 34 56"), 12, true},
		{"concatenated frames", []byte("138300\r\n138304\r\n"), 138300, true},
		{"zero", []byte("0\n"), 0, true},
		{"leading zeros", []byte("000123"), 123, true},
		{"minus sign ignored", []byte("-15"), 15, true},
		{"decimal point splits run", []byte("12.5"), 12, true},
		{"partial tail of split frame", []byte("04\r\n"), 4, true},
		{"empty", []byte{}, 0, false},
		{"nil", nil, 0, false},
		{"only line ending", []byte("\r\n"), 0, false},
		{"letters only", []byte("ready"), 0, false},
		{"invalid utf-8", []byte{0xc3, 0x28, 0xa0, 0xa1}, 0, false},
		{"non-ascii digits", []byte("٣٤٥"), 0, false},
		{"overflow", []byte("99999999999999999999"), 0, false},
		{"max int64", []byte("9223372036854775807"), 9223372036854775807, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseChunk(tt.chunk)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseChunk_NoDigits(t *testing.T) {
	for b := 0; b < 256; b++ {
		if b >= '0' && b <= '9' {
			continue
		}
		chunk := []byte{byte(b), byte(b), 'x', byte(b)}
		_, ok := ParseChunk(chunk)
		assert.False(t, ok, "byte %#x", b)
	}
}
