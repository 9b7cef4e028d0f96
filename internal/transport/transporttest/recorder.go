// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	"relaybot/internal/transport"
)

// Sent is one recorded outbound message.
type Sent struct {
	ChatID   int64
	Text     string // text body or photo caption
	FileID   string // set for photos
	Options  transport.SendOptions
	Accepted bool
}

type Answer struct {
	CallbackID string
	Text       string
}

// Recorder records outbound traffic. Failures can be programmed per chat.
type Recorder struct {
	mu      sync.Mutex
	nextID  int
	sent    []Sent
	answers []Answer
	fail    map[int64]error
}

func New() *Recorder { return &Recorder{fail: map[int64]error{}} }

// FailChat makes every send to chatID return err. A nil err clears it.
func (r *Recorder) FailChat(chatID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, chatID)
		return
	}
	r.fail[chatID] = err
}

func (r *Recorder) Start(ctx context.Context, out chan<- transport.Update) error { return nil }
func (r *Recorder) Stop(ctx context.Context) error                               { return nil }

func (r *Recorder) SendText(ctx context.Context, chatID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return r.record(chatID, text, "", opt)
}

func (r *Recorder) SendPhoto(ctx context.Context, chatID int64, fileID, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return r.record(chatID, caption, fileID, opt)
}

func (r *Recorder) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	r.mu.Lock()
	r.answers = append(r.answers, Answer{CallbackID: callbackID, Text: text})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) record(chatID int64, text, fileID string, opt *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Sent{ChatID: chatID, Text: text, FileID: fileID}
	if opt != nil {
		s.Options = *opt
	}
	if err := r.fail[chatID]; err != nil {
		r.sent = append(r.sent, s)
		return transport.MessageRef{}, err
	}
	r.nextID++
	s.Accepted = true
	r.sent = append(r.sent, s)
	return transport.MessageRef{ChatID: chatID, MessageID: r.nextID}, nil
}

// Sent returns every recorded send, including failed attempts.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// SentTo returns accepted sends addressed to chatID.
func (r *Recorder) SentTo(chatID int64) []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sent
	for _, s := range r.sent {
		if s.ChatID == chatID && s.Accepted {
			out = append(out, s)
		}
	}
	return out
}

func (r *Recorder) Answers() []Answer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Answer(nil), r.answers...)
}

// Reset forgets recorded traffic but keeps programmed failures.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.answers = nil
	r.mu.Unlock()
}
