package handler

// DefaultChunkSize is the chunk length in characters when none is configured
const DefaultChunkSize = 500

// SplitChunks partitions text into contiguous pieces of size characters.
// The last piece may be shorter. Empty text yields no pieces.
func SplitChunks(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if text == "" {
		return nil
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
