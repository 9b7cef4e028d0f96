// Package session holds the operator's transient conversation state.
//
// There is exactly one operator, so there is exactly one Operator record.
// It carries two mutually exclusive slots (a pending reply and a broadcast
// draft) plus the sending flag of a running fan-out. Slots are overwritten,
// never queued.
package session

import "sync"

// ReplyMode is the content type a pending reply expects.
type ReplyMode string

const (
	AwaitText  ReplyMode = "text"
	AwaitImage ReplyMode = "image"
)

// Reply is an open reply slot.
type Reply struct {
	Mode         ReplyMode
	TargetChatID int64
	// MessageID is the stored message being answered; 0 when unknown.
	MessageID int64
}

type DraftPhase string

const (
	Collecting DraftPhase = "collecting"
	Confirming DraftPhase = "confirming"
)

// Draft is a broadcast being composed.
type Draft struct {
	Phase  DraftPhase
	Photo  bool
	Body   string // text, or photo caption
	FileID string
	// Recipients is the active count snapshotted when the draft was filled.
	Recipients int
}

// Operator is safe for concurrent use. The fan-out goroutine only touches
// the sending flag; everything else is mutated on the operator queue.
type Operator struct {
	mu      sync.Mutex
	reply   *Reply
	draft   *Draft
	sending bool
}

func New() *Operator { return &Operator{} }

// OpenReply replaces any pending reply and discards a draft.
func (o *Operator) OpenReply(r Reply) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reply = &r
	o.draft = nil
}

// Reply returns a copy of the pending reply.
func (o *Operator) Reply() (Reply, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reply == nil {
		return Reply{}, false
	}
	return *o.reply, true
}

// ClearReply reports whether a reply was pending.
func (o *Operator) ClearReply() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	had := o.reply != nil
	o.reply = nil
	return had
}

// StartDraft opens an empty draft in the collecting phase and discards a
// pending reply.
func (o *Operator) StartDraft() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.draft = &Draft{Phase: Collecting}
	o.reply = nil
}

func (o *Operator) Draft() (Draft, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draft == nil {
		return Draft{}, false
	}
	return *o.draft, true
}

// SetDraft stores d only if a draft is open.
func (o *Operator) SetDraft(d Draft) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draft == nil {
		return false
	}
	o.draft = &d
	return true
}

func (o *Operator) ClearDraft() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	had := o.draft != nil
	o.draft = nil
	return had
}

// BeginSending sets the sending flag. It returns false when a fan-out is
// already running.
func (o *Operator) BeginSending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sending {
		return false
	}
	o.sending = true
	return true
}

func (o *Operator) EndSending() {
	o.mu.Lock()
	o.sending = false
	o.mu.Unlock()
}

func (o *Operator) Sending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sending
}
