package retrieval

import (
	"strings"
	"unicode"
)

// Chunk splits text into pieces of at most size runes, each overlapping the
// previous one by overlap runes. Cuts prefer the last whitespace in the
// second half of a window so words stay intact. Blank input yields nil.
func Chunk(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			for i := end; i > start+size/2; i-- {
				if unicode.IsSpace(runes[i]) {
					end = i
					break
				}
			}
		}

		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		// Start the overlap on a word boundary.
		for next < end && !unicode.IsSpace(runes[next-1]) {
			next++
		}
		start = next
	}
	return chunks
}
