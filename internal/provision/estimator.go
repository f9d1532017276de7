package provision

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts the tokens a text will occupy in an agent's window.
type Estimator interface {
	Count(text string) int
}

// HeuristicEstimator approximates tokens as ceil(chars/4), which tracks
// BPE tokenizers closely enough for budget enforcement.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Count(text string) int {
	return (len(text) + 3) / 4
}

// TiktokenEstimator counts exactly with a BPE encoding.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding, defaulting to cl100k_base.
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (e *TiktokenEstimator) Count(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}
