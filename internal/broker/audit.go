package broker

import (
	"sync"
	"time"

	"github.com/project-aether/aetheros/internal/access"
	"github.com/project-aether/aetheros/internal/orchestrator"
)

// AuditEntry is one append-only access record. Entries carry strictly
// increasing sequence numbers and live for the process lifetime.
type AuditEntry struct {
	Seq          uint64
	Timestamp    time.Time
	AgentID      string
	AgentRole    string
	Category     access.Category
	Phase        orchestrator.Phase
	QuerySummary string
	Decision     string
	AccessLevel  access.Level
	Sanitized    bool
}

type auditLog struct {
	mu      sync.RWMutex
	seq     uint64
	records []AuditEntry
}

func newAuditLog() *auditLog {
	return &auditLog{}
}

func (l *auditLog) append(at time.Time, profile access.Profile, category access.Category, phase orchestrator.Phase, summary, decision string, sanitized bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.records = append(l.records, AuditEntry{
		Seq:          l.seq,
		Timestamp:    at,
		AgentID:      profile.ID,
		AgentRole:    profile.Role,
		Category:     category,
		Phase:        phase,
		QuerySummary: summary,
		Decision:     decision,
		AccessLevel:  profile.AccessLevel,
		Sanitized:    sanitized,
	})
}

func (l *auditLog) entries(agentID string, category access.Category) []AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []AuditEntry
	for _, e := range l.records {
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		out = append(out, e)
	}
	return out
}
