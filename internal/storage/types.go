package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnavailable wraps every driver-level failure.
	ErrUnavailable = errors.New("storage unavailable")
	ErrNotFound    = errors.New("not found")
)

// Config configures storage.
//
// Driver values: "sqlite" (Path), "mysql" and "postgres" (DSN).
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // mysql/postgres; 0 means driver default
}

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleOperator  Role = "operator"
	RoleBroadcast Role = "broadcast"
)

type MediaKind string

const (
	MediaText  MediaKind = "text"
	MediaPhoto MediaKind = "photo"
)

// Profile carries the mutable identity fields applied by UpsertUser.
type Profile struct {
	ExternalID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

type User struct {
	ID           int64
	ExternalID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	Active       bool
	Blocked      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return "Unknown"
}

type Message struct {
	ID            int64
	UserID        int64
	ChatID        int64
	Body          string // empty is stored as NULL
	Role          Role
	Media         MediaKind
	MediaRef      string
	ExternalMsgID int64
	Forwarded     bool
	Replied       bool
	CreatedAt     time.Time
}

// RecentMessage is a Message joined with its owner's display fields.
type RecentMessage struct {
	Message
	FirstName string
	Username  string
}

type Broadcast struct {
	ID        int64
	AuthorID  int64
	Body      string
	Media     MediaKind
	MediaRef  string
	Target    int
	Sent      int
	Failed    int
	CreatedAt time.Time
}

// Stats aggregates counters for /stats and the digest.
type Stats struct {
	TotalUsers          int64
	ActiveUsers         int64
	NewUsers7d          int64
	NewUsers30d         int64
	TotalMessages       int64
	CustomerMessages    int64
	OperatorMessages    int64
	BroadcastMessages   int64
	RepliedMessages     int64
	Messages24h         int64
	TotalBroadcasts     int64
	BroadcastRecipients int64
	BroadcastDelivered  int64
}

// Store is the persistence API used by the relay, reply and broadcast flows.
type Store interface {
	UpsertUser(ctx context.Context, p Profile) (User, error)
	GetUserByExternalID(ctx context.Context, externalID int64) (User, error)
	ListActiveUsers(ctx context.Context) ([]User, error)
	SetUserActive(ctx context.Context, externalID int64, active bool) error

	SaveMessage(ctx context.Context, m Message) (int64, error)
	MarkForwarded(ctx context.Context, messageID int64) error
	MarkReplied(ctx context.Context, messageID int64) error
	ListRecentMessages(ctx context.Context, limit int) ([]RecentMessage, error)

	CreateBroadcast(ctx context.Context, b Broadcast) (int64, error)
	UpdateBroadcastStats(ctx context.Context, id int64, sent, failed int) error
	ListBroadcasts(ctx context.Context, limit int) ([]Broadcast, error)

	GetAggregateStats(ctx context.Context) (Stats, error)

	Ping(ctx context.Context) error
	Close() error
}
