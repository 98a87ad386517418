package margin

import (
	"fmt"
	"sync"
)

// MessageLog is the ordered, append-only record of a conversation. At most
// one message is incomplete at any time, and it is always the last one.
//
// Mutations are atomic with respect to observers: subscribers receive a
// snapshot taken after each mutation completes. A log has a single writer,
// so snapshots reach observers in mutation order.
type MessageLog struct {
	mu        sync.Mutex
	msgs      []Message
	observers map[int]func([]Message)
	nextID    int
}

// NewMessageLog creates an empty MessageLog.
func NewMessageLog() *MessageLog {
	return &MessageLog{observers: make(map[int]func([]Message))}
}

// AppendNew opens a new message. It fails with ErrOpenMessage if the last
// message is still incomplete.
func (l *MessageLog) AppendNew(author Author, text string) error {
	l.mu.Lock()
	if n := len(l.msgs); n > 0 && !l.msgs[n-1].Complete {
		l.mu.Unlock()
		return fmt.Errorf("append %s message: %w", author, ErrOpenMessage)
	}
	l.msgs = append(l.msgs, Message{Author: author, Text: text})
	l.unlockAndNotify()
	return nil
}

// AppendToLast concatenates fragment onto the open message. It fails with
// ErrNoOpenMessage if no message is open.
func (l *MessageLog) AppendToLast(fragment string) error {
	l.mu.Lock()
	n := len(l.msgs)
	if n == 0 || l.msgs[n-1].Complete {
		l.mu.Unlock()
		return ErrNoOpenMessage
	}
	l.msgs[n-1].Text += fragment
	l.unlockAndNotify()
	return nil
}

// CompleteLast marks the last message complete. Calling it on an empty log
// or an already complete message is a no-op.
func (l *MessageLog) CompleteLast() {
	l.mu.Lock()
	n := len(l.msgs)
	if n == 0 || l.msgs[n-1].Complete {
		l.mu.Unlock()
		return
	}
	l.msgs[n-1].Complete = true
	l.unlockAndNotify()
}

// InterruptLast seals a dangling partial message so a new turn can open.
// The text received so far is kept. No-op when nothing is open.
func (l *MessageLog) InterruptLast() {
	l.mu.Lock()
	n := len(l.msgs)
	if n == 0 || l.msgs[n-1].Complete {
		l.mu.Unlock()
		return
	}
	l.msgs[n-1].Complete = true
	l.msgs[n-1].Interrupted = true
	l.unlockAndNotify()
}

// Messages returns a snapshot of the log in insertion order.
func (l *MessageLog) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

// Last returns the last message and whether the log is non-empty.
func (l *MessageLog) Last() (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.msgs) == 0 {
		return Message{}, false
	}
	return l.msgs[len(l.msgs)-1], true
}

// Len returns the number of messages.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// Subscribe registers fn to receive a snapshot after every mutation.
// The returned function removes the subscription.
func (l *MessageLog) Subscribe(fn func([]Message)) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.observers[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.observers, id)
		l.mu.Unlock()
	}
}

func (l *MessageLog) snapshot() []Message {
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// unlockAndNotify must be called with mu held. Observers run on the
// mutating goroutine outside mu, so they may read the log back.
func (l *MessageLog) unlockAndNotify() {
	snap := l.snapshot()
	fns := make([]func([]Message), 0, len(l.observers))
	for _, fn := range l.observers {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
