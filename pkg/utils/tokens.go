// Package utils holds small helpers shared across packages.
package utils

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the tokenizer used for history budgets and chunk windows.
// The supported models are all close enough to cl100k_base for sizing.
const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

// Tokenizer returns the shared cl100k_base encoding. The first call loads
// the rank table; later calls reuse it.
func Tokenizer() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// CountTokens returns the cl100k_base token count of text, falling back to
// EstimateTokens when the encoding cannot be loaded.
func CountTokens(text string) int {
	tk, err := Tokenizer()
	if err != nil {
		return EstimateTokens(text)
	}
	return len(tk.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count at four bytes per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}
