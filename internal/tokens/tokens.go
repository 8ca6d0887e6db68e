// Package tokens provides token counting using tiktoken-go.
// Used to keep composed prompts inside the model's context budget.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// The encodings ship with the binary; counting never touches the network.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Counter provides token counting for text.
// Uses cl100k_base encoding; when the encoding cannot be loaded it falls
// back to a four-characters-per-token estimate.
type Counter struct {
	enc  *tiktoken.Tiktoken
	once sync.Once
	err  error
}

// Global counter instance
var defaultCounter = &Counter{}

// Default returns the shared counter.
func Default() *Counter {
	return defaultCounter
}

// Count returns the number of tokens in the given text.
func (c *Counter) Count(text string) int {
	c.init()
	if c.err != nil || c.enc == nil {
		// Fallback: rough estimate (4 chars per token)
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *Counter) init() {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding("cl100k_base")
	})
}

// Estimate is a Counter that never loads an encoding. Useful where
// determinism across machines matters more than accuracy.
type Estimate struct{}

// Count estimates token count (4 chars per token average).
func (Estimate) Count(text string) int {
	return len(text) / 4
}
