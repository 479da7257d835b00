package process

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// cl100k_base approximates how current LLM crawlers budget page text
var loadCodec = sync.OnceValues(func() (tokenizer.Codec, error) {
	return tokenizer.Get(tokenizer.Cl100kBase)
})

// CountTokens returns the token count for the given text.
// Returns -1 if the codec failed to load or encoding fails,
// so callers can distinguish "not available" from a real zero count.
func CountTokens(text string) int {
	codec, err := loadCodec()
	if err != nil || codec == nil {
		return -1
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return -1
	}
	return len(ids)
}
