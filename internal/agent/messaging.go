package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotActive indicates a sender or recipient outside its active
	// phase. Messages are never buffered for inactive agents.
	ErrNotActive = errors.New("agent not active")

	// ErrUnknownAgent indicates an unregistered agent ID.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Message is one point-to-point request.
type Message struct {
	ID      string
	From    string
	To      string
	Type    string
	Payload map[string]any
	SentAt  time.Time
}

// Reply is the response envelope: OK with a payload, or an error string.
type Reply struct {
	OK      bool
	Payload map[string]any
	Err     string
}

// Handler processes one inbound message for an agent.
type Handler func(ctx context.Context, msg Message) (Reply, error)

type pairKey struct {
	from string
	to   string
}

// Send delivers a request to one agent and waits for its reply. Both ends
// must be active in the current phase. Delivery per (sender, receiver) pair
// is FIFO; a handler error comes back inside the reply envelope.
func (r *Runtime) Send(ctx context.Context, from, to, msgType string, payload map[string]any) (Reply, error) {
	sender, ok := r.agent(from)
	if !ok {
		return Reply{}, errorf(ErrUnknownAgent, "sender %s", from)
	}
	recipient, ok := r.agent(to)
	if !ok {
		return Reply{}, errorf(ErrUnknownAgent, "recipient %s", to)
	}

	if !r.activation.IsAgentActive(sender.ID()) {
		return Reply{}, errorf(ErrNotActive, "sender %s", from)
	}
	if !r.activation.IsAgentActive(recipient.ID()) {
		return Reply{}, errorf(ErrNotActive, "recipient %s", to)
	}

	msg := Message{
		ID:      uuid.NewString(),
		From:    from,
		To:      to,
		Type:    msgType,
		Payload: payload,
		SentAt:  r.clock(),
	}

	lock := r.pairLock(pairKey{from: from, to: to})
	lock.Lock()
	defer lock.Unlock()

	r.noteCoordination(ctx, from, to, msgType)

	reply, err := recipient.handle(ctx, msg)
	if err != nil {
		return Reply{OK: false, Err: err.Error()}, nil
	}
	return reply, nil
}

// Broadcast sends the message to every active agent except the sender and
// aggregates replies best-effort within the timeout. Agents that miss the
// deadline are simply absent from the result.
func (r *Runtime) Broadcast(ctx context.Context, from, msgType string, payload map[string]any, timeout time.Duration) (map[string]Reply, error) {
	if _, ok := r.agent(from); !ok {
		return nil, errorf(ErrUnknownAgent, "sender %s", from)
	}
	if !r.activation.IsAgentActive(from) {
		return nil, errorf(ErrNotActive, "sender %s", from)
	}

	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		replies = make(map[string]Reply)
	)
	g, gctx := errgroup.WithContext(bctx)
	for _, id := range r.activation.ActiveAgents() {
		if id == from {
			continue
		}
		id := id
		g.Go(func() error {
			reply, err := r.Send(gctx, from, id, msgType, payload)
			if err != nil || gctx.Err() != nil {
				return nil // best effort
			}
			mu.Lock()
			replies[id] = reply
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return replies, err
	}
	return replies, nil
}

func (r *Runtime) pairLock(key pairKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.pairLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.pairLocks[key] = lock
	}
	return lock
}
