package assist

import (
	"log"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Global tiktoken tokenizer for accurate token counting
var (
	tokenizer     *tiktoken.Tiktoken
	tokenizerErr  error
	tokenizerOnce sync.Once
)

// initTokenizer initializes the tiktoken tokenizer (cl100k_base)
func initTokenizer() {
	tokenizerOnce.Do(func() {
		tokenizer, tokenizerErr = tiktoken.GetEncoding("cl100k_base")
		if tokenizerErr != nil {
			log.Printf("[WARN] Failed to load tiktoken tokenizer: %v", tokenizerErr)
		} else {
			log.Printf("[OK] Tiktoken tokenizer loaded (cl100k_base)")
		}
	})
}

// countTokens counts BPE tokens, falling back to a fast estimation when
// the tokenizer is unavailable (e.g. no encoding files offline)
func countTokens(text string) int {
	if len(text) == 0 {
		return 0
	}

	initTokenizer()

	if tokenizer != nil {
		count := len(tokenizer.Encode(text, nil, nil))
		if count == 0 {
			return 1
		}
		return count
	}

	// Fallback: ~4 chars per token for ASCII, ~1.5 bytes for the rest
	asciiCount := 0
	nonAsciiCount := 0
	for _, b := range []byte(text) {
		if b <= 0x7f {
			asciiCount++
		} else {
			nonAsciiCount++
		}
	}
	est := asciiCount/4 + nonAsciiCount*2/3
	if est == 0 {
		return 1
	}
	return est
}
