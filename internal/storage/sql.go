package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "relaybot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger

	now func() time.Time
}

func (s *sqlStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile(s.d.schema)
	if err != nil {
		return err
	}
	// Drivers differ on multi-statement Exec; run statements one by one.
	for _, stmt := range strings.Split(string(b), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.d.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.d.rebind(q), args...)
}

// insert runs an INSERT and returns the new row id.
func (s *sqlStore) insert(ctx context.Context, q string, args ...any) (int64, error) {
	if s.d.returning {
		var id int64
		err := s.queryRow(ctx, q+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

const userColumns = `id, external_id, username, first_name, last_name, language_code, active, blocked, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(r rowScanner) (User, error) {
	var (
		u                           User
		username, first, last, lang sql.NullString
		createdMS, updatedMS        int64
	)
	if err := r.Scan(&u.ID, &u.ExternalID, &username, &first, &last, &lang, &u.Active, &u.Blocked, &createdMS, &updatedMS); err != nil {
		return User{}, err
	}
	u.Username = username.String
	u.FirstName = first.String
	u.LastName = last.String
	u.LanguageCode = lang.String
	u.CreatedAt = time.UnixMilli(createdMS)
	u.UpdatedAt = time.UnixMilli(updatedMS)
	return u, nil
}

// UpsertUser creates the user or refreshes its display fields. The active
// flag of an existing row is left untouched.
func (s *sqlStore) UpsertUser(ctx context.Context, p Profile) (User, error) {
	if p.ExternalID == 0 {
		return User{}, errors.New("upsert user: external id is required")
	}
	now := s.clock().UnixMilli()
	if _, err := s.exec(ctx, s.d.upsertUser,
		p.ExternalID, p.Username, p.FirstName, p.LastName, p.LanguageCode, true, false, now, now,
	); err != nil {
		return User{}, unavailable("upsert user", err)
	}
	return s.GetUserByExternalID(ctx, p.ExternalID)
}

func (s *sqlStore) GetUserByExternalID(ctx context.Context, externalID int64) (User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %d: %w", externalID, ErrNotFound)
	}
	if err != nil {
		return User{}, unavailable("get user", err)
	}
	return u, nil
}

// ListActiveUsers returns reachable users in storage order.
func (s *sqlStore) ListActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users WHERE active = ? AND blocked = ? ORDER BY id`, true, false)
	if err != nil {
		return nil, unavailable("list active users", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, unavailable("list active users", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list active users", err)
	}
	return out, nil
}

func (s *sqlStore) SetUserActive(ctx context.Context, externalID int64, active bool) error {
	if _, err := s.exec(ctx, `UPDATE users SET active = ?, updated_at = ? WHERE external_id = ?`,
		active, s.clock().UnixMilli(), externalID); err != nil {
		return unavailable("set user active", err)
	}
	return nil
}

// ---- messages ----

func (s *sqlStore) SaveMessage(ctx context.Context, m Message) (int64, error) {
	if m.UserID == 0 {
		return 0, errors.New("save message: user id is required")
	}
	if m.Media == "" {
		m.Media = MediaText
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = s.clock()
	}
	id, err := s.insert(ctx,
		`INSERT INTO messages(user_id, chat_id, body, role, media_kind, media_ref, external_msg_id, forwarded, replied, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		m.UserID, m.ChatID, nullStr(m.Body), string(m.Role), string(m.Media), nullStr(m.MediaRef),
		nullInt(m.ExternalMsgID), m.Forwarded, m.Replied, created.UnixMilli(),
	)
	if err != nil {
		return 0, unavailable("save message", err)
	}
	return id, nil
}

func (s *sqlStore) MarkForwarded(ctx context.Context, messageID int64) error {
	if _, err := s.exec(ctx, `UPDATE messages SET forwarded = ? WHERE id = ?`, true, messageID); err != nil {
		return unavailable("mark forwarded", err)
	}
	return nil
}

func (s *sqlStore) MarkReplied(ctx context.Context, messageID int64) error {
	if _, err := s.exec(ctx, `UPDATE messages SET replied = ? WHERE id = ?`, true, messageID); err != nil {
		return unavailable("mark replied", err)
	}
	return nil
}

// ListRecentMessages returns the newest messages first.
func (s *sqlStore) ListRecentMessages(ctx context.Context, limit int) ([]RecentMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.query(ctx,
		`SELECT m.id, m.user_id, m.chat_id, m.body, m.role, m.media_kind, m.media_ref, m.external_msg_id,
		        m.forwarded, m.replied, m.created_at, u.first_name, u.username
		 FROM messages m JOIN users u ON u.id = m.user_id
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	defer rows.Close()

	var out []RecentMessage
	for rows.Next() {
		var (
			m                          RecentMessage
			body, ref, first, username sql.NullString
			extID                      sql.NullInt64
			role, media                string
			createdMS                  int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.ChatID, &body, &role, &media, &ref, &extID,
			&m.Forwarded, &m.Replied, &createdMS, &first, &username); err != nil {
			return nil, unavailable("list messages", err)
		}
		m.Body = body.String
		m.Role = Role(role)
		m.Media = MediaKind(media)
		m.MediaRef = ref.String
		m.ExternalMsgID = extID.Int64
		m.CreatedAt = time.UnixMilli(createdMS)
		m.FirstName = first.String
		m.Username = username.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list messages", err)
	}
	return out, nil
}

// ---- broadcasts ----

func (s *sqlStore) CreateBroadcast(ctx context.Context, b Broadcast) (int64, error) {
	if b.Media == "" {
		b.Media = MediaText
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = s.clock()
	}
	id, err := s.insert(ctx,
		`INSERT INTO broadcasts(author_id, body, media_kind, media_ref, target_count, sent_count, failed_count, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		b.AuthorID, nullStr(b.Body), string(b.Media), nullStr(b.MediaRef), b.Target, 0, 0, created.UnixMilli(),
	)
	if err != nil {
		return 0, unavailable("create broadcast", err)
	}
	return id, nil
}

// UpdateBroadcastStats writes the final counters in one statement.
func (s *sqlStore) UpdateBroadcastStats(ctx context.Context, id int64, sent, failed int) error {
	if sent < 0 || failed < 0 {
		return fmt.Errorf("update broadcast %d: negative counters", id)
	}
	if _, err := s.exec(ctx, `UPDATE broadcasts SET sent_count = ?, failed_count = ? WHERE id = ?`, sent, failed, id); err != nil {
		return unavailable("update broadcast", err)
	}
	return nil
}

func (s *sqlStore) ListBroadcasts(ctx context.Context, limit int) ([]Broadcast, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.query(ctx,
		`SELECT id, author_id, body, media_kind, media_ref, target_count, sent_count, failed_count, created_at
		 FROM broadcasts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("list broadcasts", err)
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		var (
			b         Broadcast
			body, ref sql.NullString
			media     string
			createdMS int64
		)
		if err := rows.Scan(&b.ID, &b.AuthorID, &body, &media, &ref, &b.Target, &b.Sent, &b.Failed, &createdMS); err != nil {
			return nil, unavailable("list broadcasts", err)
		}
		b.Body = body.String
		b.Media = MediaKind(media)
		b.MediaRef = ref.String
		b.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list broadcasts", err)
	}
	return out, nil
}

// ---- stats ----

func (s *sqlStore) GetAggregateStats(ctx context.Context) (Stats, error) {
	now := s.clock()
	day := now.Add(-24 * time.Hour).UnixMilli()
	week := now.Add(-7 * 24 * time.Hour).UnixMilli()
	month := now.Add(-30 * 24 * time.Hour).UnixMilli()

	var st Stats
	err := s.queryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN active = ? AND blocked = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		 FROM users`, true, false, week, month,
	).Scan(&st.TotalUsers, &st.ActiveUsers, &st.NewUsers7d, &st.NewUsers30d)
	if err != nil {
		return Stats{}, unavailable("user stats", err)
	}

	err = s.queryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN role = 'customer' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN role = 'operator' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN role = 'broadcast' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN replied = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		 FROM messages`, true, day,
	).Scan(&st.TotalMessages, &st.CustomerMessages, &st.OperatorMessages, &st.BroadcastMessages, &st.RepliedMessages, &st.Messages24h)
	if err != nil {
		return Stats{}, unavailable("message stats", err)
	}

	err = s.queryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(target_count), 0), COALESCE(SUM(sent_count), 0) FROM broadcasts`,
	).Scan(&st.TotalBroadcasts, &st.BroadcastRecipients, &st.BroadcastDelivered)
	if err != nil {
		return Stats{}, unavailable("broadcast stats", err)
	}
	return st, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
