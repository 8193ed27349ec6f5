package cell

import "strconv"

// ParseChunk extracts a raw sample from a chunk of serial bytes.
// It returns the value of the first maximal run of ASCII decimal digits.
// ok is false when the chunk holds no digits or the run overflows int64;
// both are normal for split or garbled frames.
//
// Chunks are decoded independently: a run split across two reads yields two
// partial values rather than being reassembled.
func ParseChunk(chunk []byte) (value int64, ok bool) {
	// ASCII digits never occur inside multi-byte UTF-8 sequences, so scanning
	// bytes matches scanning the decoded text.
	start := -1
	for i, b := range chunk {
		if isDigit(b) {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}

	end := start
	for end < len(chunk) && isDigit(chunk[end]) {
		end++
	}

	v, err := strconv.ParseInt(string(chunk[start:end]), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
