package llm

import (
	"sync"
	"time"
)

// Interaction is one logged provider call.
type Interaction struct {
	Seq       uint64
	Timestamp time.Time
	Provider  string
	Model     string
	Tokens    TokenUsage
	Duration  time.Duration
	Success   bool
	Error     string
}

type interactionLog struct {
	mu      sync.Mutex
	seq     uint64
	records []Interaction
}

func newInteractionLog() *interactionLog {
	return &interactionLog{}
}

func (l *interactionLog) append(p Provider, tokens TokenUsage, d time.Duration, success bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	entry := Interaction{
		Seq:       l.seq,
		Timestamp: time.Now(),
		Provider:  p.Name(),
		Model:     p.Model(),
		Tokens:    tokens,
		Duration:  d,
		Success:   success,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	l.records = append(l.records, entry)
}

func (l *interactionLog) entries() []Interaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Interaction, len(l.records))
	copy(out, l.records)
	return out
}
