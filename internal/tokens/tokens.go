// Package tokens provides the cheap length-based token estimate used in
// responses, plus an optional tiktoken counter for diagnostics.
package tokens

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const charsPerToken = 4

// Estimate returns ceil(characters/4).
func Estimate(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateJSON estimates over the compact serialization of raw. Absent input
// counts as an empty array.
func EstimateJSON(raw json.RawMessage) int {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return Estimate("[]")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return Estimate(string(raw))
	}
	return Estimate(buf.String())
}

// EstimateValue estimates over the JSON encoding of v.
func EstimateValue(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return Estimate(string(data))
}

// TiktokenCounter counts cl100k_base tokens. The encoding is loaded on first
// use; it may need network access, so failures only disable the counter.
type TiktokenCounter struct {
	logger *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTiktokenCounter(logger *slog.Logger) *TiktokenCounter {
	return &TiktokenCounter{logger: logger}
}

// Count returns the token count of text, or 0 when the encoding is
// unavailable.
func (c *TiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding("cl100k_base")
		if c.err != nil {
			c.logger.Error("Failed to get tiktoken encoding", "error", c.err)
		}
	})
	if c.err != nil {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
