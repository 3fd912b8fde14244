package reasoning

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// perMessageOverhead approximates the role framing of a chat message.
const perMessageOverhead = 4

// TokenCounter estimates prompt sizes. When no BPE encoding can be loaded it
// falls back to four characters per token.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func NewTokenCounter() *TokenCounter {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Debug("Token encoding unavailable, using length estimate", "error", err)
			return
		}
		encoding = enc
	})
	return &TokenCounter{encoding: encoding}
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	return (len([]rune(text)) + 3) / 4
}

// CountMessage includes the role overhead.
func (c *TokenCounter) CountMessage(role, content string) int {
	return perMessageOverhead + c.Count(role) + c.Count(content)
}

// FitTail returns the start index of the longest suffix of contents whose total
// stays within budget. The last item is always kept. A non-positive budget
// keeps everything.
func (c *TokenCounter) FitTail(roles, contents []string, budget int) int {
	if budget <= 0 || len(contents) == 0 {
		return 0
	}
	used := 0
	for i := len(contents) - 1; i >= 0; i-- {
		used += c.CountMessage(roles[i], contents[i])
		if used > budget && i < len(contents)-1 {
			return i + 1
		}
	}
	return 0
}
