package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		ok   bool
		cmd  string
		args []string
	}{
		{name: "plain", in: "/status", ok: true, cmd: "status"},
		{name: "bot suffix", in: "/History@relay_bot 20", ok: true, cmd: "history", args: []string{"20"}},
		{name: "quoted", in: `/cmd a "b c"`, ok: true, cmd: "cmd", args: []string{"a", "b c"}},
		{name: "not command", in: "hello /status", ok: false},
		{name: "bare slash", in: "/", ok: false},
		{name: "empty", in: "   ", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseCommand(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseCommand(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Name != tt.cmd {
				t.Fatalf("Name = %q, want %q", got.Name, tt.cmd)
			}
			if len(got.Args) != len(tt.args) {
				t.Fatalf("Args = %q, want %q", got.Args, tt.args)
			}
			for i := range tt.args {
				if got.Args[i] != tt.args[i] {
					t.Fatalf("Args[%d] = %q, want %q", i, got.Args[i], tt.args[i])
				}
			}
		})
	}
}

func TestClassifyDelivery(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want DeliveryClass
	}{
		{err: nil, want: DeliveryOK},
		{err: errors.New("telegram: Forbidden: bot was blocked by the user (403)"), want: DeliveryUnreachable},
		{err: errors.New("blocked"), want: DeliveryUnreachable},
		{err: errors.New("telegram: Forbidden: user is deactivated (403)"), want: DeliveryUnreachable},
		{err: errors.New("telegram: Bad Request: chat not found (400)"), want: DeliveryUnreachable},
		{err: errors.New("telegram: retry after 3 (429)"), want: DeliveryTransient},
		{err: errors.New("telegram: Too Many Requests: retry after 403 (429)"), want: DeliveryTransient},
		{err: errors.New("telegram: Bad Request: message 4031 not found (400)"), want: DeliveryTransient},
		{err: errors.New("telegram: unknown error (403)"), want: DeliveryUnreachable},
		{err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: DeliveryTransient},
	}
	for _, tt := range tests {
		if got := ClassifyDelivery(tt.err); got != tt.want {
			t.Fatalf("ClassifyDelivery(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestSenderDisplayName(t *testing.T) {
	t.Parallel()
	if got := (Sender{FirstName: "Ann", LastName: "Lee"}).DisplayName(); got != "Ann Lee" {
		t.Fatalf("DisplayName = %q", got)
	}
	if got := (Sender{Username: "ann"}).DisplayName(); got != "@ann" {
		t.Fatalf("DisplayName = %q", got)
	}
	if got := (Sender{}).DisplayName(); got != "Unknown" {
		t.Fatalf("DisplayName = %q", got)
	}
}
