package session

import "testing"

func TestReplySlotIsSingleton(t *testing.T) {
	t.Parallel()
	o := New()
	o.OpenReply(Reply{Mode: AwaitText, TargetChatID: 1, MessageID: 10})
	o.OpenReply(Reply{Mode: AwaitImage, TargetChatID: 2, MessageID: 20})

	r, ok := o.Reply()
	if !ok {
		t.Fatalf("expected pending reply")
	}
	if r.TargetChatID != 2 || r.Mode != AwaitImage || r.MessageID != 20 {
		t.Fatalf("second reply must replace the first, got %+v", r)
	}
	if !o.ClearReply() {
		t.Fatalf("ClearReply should report a pending reply")
	}
	if o.ClearReply() {
		t.Fatalf("second ClearReply should report nothing pending")
	}
}

func TestSlotsAreMutuallyExclusive(t *testing.T) {
	t.Parallel()
	o := New()
	o.OpenReply(Reply{Mode: AwaitText, TargetChatID: 1})
	o.StartDraft()
	if _, ok := o.Reply(); ok {
		t.Fatalf("starting a draft must discard the reply")
	}
	d, ok := o.Draft()
	if !ok || d.Phase != Collecting {
		t.Fatalf("draft = %+v ok=%v", d, ok)
	}

	o.OpenReply(Reply{Mode: AwaitText, TargetChatID: 1})
	if _, ok := o.Draft(); ok {
		t.Fatalf("opening a reply must discard the draft")
	}
}

func TestSetDraftRequiresOpenDraft(t *testing.T) {
	t.Parallel()
	o := New()
	if o.SetDraft(Draft{Phase: Confirming}) {
		t.Fatalf("SetDraft without an open draft must fail")
	}
	o.StartDraft()
	if !o.SetDraft(Draft{Phase: Confirming, Body: "hi", Recipients: 3}) {
		t.Fatalf("SetDraft failed")
	}
	d, _ := o.Draft()
	if d.Phase != Confirming || d.Recipients != 3 {
		t.Fatalf("draft = %+v", d)
	}
}

func TestSendingFlag(t *testing.T) {
	t.Parallel()
	o := New()
	if !o.BeginSending() {
		t.Fatalf("first BeginSending must succeed")
	}
	if o.BeginSending() {
		t.Fatalf("fan-out is not re-entrant")
	}
	if !o.Sending() {
		t.Fatalf("Sending should be true")
	}
	o.EndSending()
	if o.Sending() {
		t.Fatalf("Sending should be false after EndSending")
	}
}
