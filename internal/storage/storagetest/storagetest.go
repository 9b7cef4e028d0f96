// Package storagetest opens throwaway stores and injects storage failures.
package storagetest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// Open returns a migrated SQLite store under t.TempDir.
func Open(t testing.TB) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "relay.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// Faulty wraps a Store and fails selected operations with ErrUnavailable.
// Operations are named after the Store method, e.g. "SaveMessage".
type Faulty struct {
	storage.Store

	mu   sync.Mutex
	fail map[string]bool
}

func NewFaulty(s storage.Store) *Faulty { return &Faulty{Store: s, fail: map[string]bool{}} }

// Fail toggles failure injection for op.
func (f *Faulty) Fail(op string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = on
}

func (f *Faulty) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[op] {
		return fmt.Errorf("%s: %w", op, storage.ErrUnavailable)
	}
	return nil
}

func (f *Faulty) UpsertUser(ctx context.Context, p storage.Profile) (storage.User, error) {
	if err := f.check("UpsertUser"); err != nil {
		return storage.User{}, err
	}
	return f.Store.UpsertUser(ctx, p)
}

func (f *Faulty) GetUserByExternalID(ctx context.Context, id int64) (storage.User, error) {
	if err := f.check("GetUserByExternalID"); err != nil {
		return storage.User{}, err
	}
	return f.Store.GetUserByExternalID(ctx, id)
}

func (f *Faulty) ListActiveUsers(ctx context.Context) ([]storage.User, error) {
	if err := f.check("ListActiveUsers"); err != nil {
		return nil, err
	}
	return f.Store.ListActiveUsers(ctx)
}

func (f *Faulty) SaveMessage(ctx context.Context, m storage.Message) (int64, error) {
	if err := f.check("SaveMessage"); err != nil {
		return 0, err
	}
	return f.Store.SaveMessage(ctx, m)
}

func (f *Faulty) MarkReplied(ctx context.Context, id int64) error {
	if err := f.check("MarkReplied"); err != nil {
		return err
	}
	return f.Store.MarkReplied(ctx, id)
}

func (f *Faulty) CreateBroadcast(ctx context.Context, b storage.Broadcast) (int64, error) {
	if err := f.check("CreateBroadcast"); err != nil {
		return 0, err
	}
	return f.Store.CreateBroadcast(ctx, b)
}

func (f *Faulty) UpdateBroadcastStats(ctx context.Context, id int64, sent, failed int) error {
	if err := f.check("UpdateBroadcastStats"); err != nil {
		return err
	}
	return f.Store.UpdateBroadcastStats(ctx, id, sent, failed)
}

func (f *Faulty) GetAggregateStats(ctx context.Context) (storage.Stats, error) {
	if err := f.check("GetAggregateStats"); err != nil {
		return storage.Stats{}, err
	}
	return f.Store.GetAggregateStats(ctx)
}

func (f *Faulty) Ping(ctx context.Context) error {
	if err := f.check("Ping"); err != nil {
		return err
	}
	return f.Store.Ping(ctx)
}
