// HiveCore - AI agent orchestration core
// License: MIT
//
// Copyright (c) 2026 HiveCore contributors

// Package bus is the persisted agent message bus: channels, direct messages,
// broadcast signals and shared context, with per-agent read cursors.
package bus

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message types.
const (
	TypeData    = "data"
	TypeSignal  = "signal"
	TypeContext = "context"
	TypeError   = "error"
)

// Fixed TTLs for the convenience posters.
const (
	signalTTLMinutes  = 60
	contextTTLMinutes = 120
)

// timeLayout is fixed-width so lexicographic comparison in SQL matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Message is one bus entry. ExpiresAt is zero for messages that never expire.
type Message struct {
	ID        int64
	Channel   string
	Sender    string
	Recipient string
	Type      string
	Payload   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Bus stores messages and read cursors. It shares the swarm store's database
// handle so one file carries all swarm state.
type Bus struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	channel TEXT NOT NULL,
	sender TEXT NOT NULL,
	recipient TEXT,
	type TEXT NOT NULL DEFAULT 'data',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
CREATE TABLE IF NOT EXISTS read_cursors (
	agent_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	last_read_id INTEGER NOT NULL DEFAULT 0,
	last_read_at TEXT,
	PRIMARY KEY (agent_id, channel)
);
`

// New attaches the bus tables to an open database handle.
func New(db *sql.DB) (*Bus, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating bus schema: %w", err)
	}
	return &Bus{db: db}, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// serialize stores strings verbatim and JSON-encodes everything else.
func serialize(payload any) (string, error) {
	if s, ok := payload.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serializing payload: %w", err)
	}
	return string(data), nil
}

var validTypes = map[string]bool{
	TypeData:    true,
	TypeSignal:  true,
	TypeContext: true,
	TypeError:   true,
}

// PostOptions describes one message. TTLMinutes nil means the message never
// expires; zero means expired on creation (never visible).
type PostOptions struct {
	Channel    string
	Sender     string
	Recipient  string
	Type       string
	Payload    any
	TTLMinutes *int
}

// PostMessage validates and inserts one message, returning its id.
func (b *Bus) PostMessage(opts PostOptions) (int64, error) {
	if opts.Channel == "" {
		return 0, fmt.Errorf("message channel is required")
	}
	if opts.Sender == "" {
		return 0, fmt.Errorf("message sender is required")
	}
	typ := opts.Type
	if typ == "" {
		typ = TypeData
	}
	if !validTypes[typ] {
		return 0, fmt.Errorf("invalid message type %q", typ)
	}

	payload, err := serialize(opts.Payload)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var recipient, expiresAt any
	if opts.Recipient != "" {
		recipient = opts.Recipient
	}
	if opts.TTLMinutes != nil {
		expiresAt = stamp(now.Add(time.Duration(*opts.TTLMinutes) * time.Minute))
	}

	res, err := b.db.Exec(
		`INSERT INTO messages (channel, sender, recipient, type, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		opts.Channel, opts.Sender, recipient, typ, payload, stamp(now), expiresAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ReadOptions filters a read.
type ReadOptions struct {
	// AgentID enables the per-agent cursor: only messages after the agent's
	// bookmark are returned, and the bookmark advances past them.
	AgentID string
	Type    string
	Since   time.Time
	Limit   int
}

// ReadMessages returns channel messages in insertion order, honoring expiry,
// recipient targeting and the per-agent cursor.
func (b *Bus) ReadMessages(channel string, opts ReadOptions) ([]Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	now := stamp(time.Now())

	var sb strings.Builder
	sb.WriteString(`SELECT id, channel, sender, recipient, type, payload, created_at, expires_at
		FROM messages
		WHERE channel = ? AND (expires_at IS NULL OR expires_at > ?)`)
	args := []any{channel, now}

	if opts.AgentID != "" {
		cursor, err := b.cursor(opts.AgentID, channel)
		if err != nil {
			return nil, err
		}
		sb.WriteString(` AND (recipient IS NULL OR recipient = ?) AND id > ?`)
		args = append(args, opts.AgentID, cursor)
	}
	if opts.Type != "" {
		sb.WriteString(` AND type = ?`)
		args = append(args, opts.Type)
	}
	if !opts.Since.IsZero() {
		sb.WriteString(` AND created_at > ?`)
		args = append(args, stamp(opts.Since))
	}
	sb.WriteString(` ORDER BY id ASC LIMIT ?`)
	args = append(args, limit)

	msgs, err := b.query(sb.String(), args...)
	if err != nil {
		return nil, err
	}

	if opts.AgentID != "" && len(msgs) > 0 {
		last := msgs[len(msgs)-1].ID
		if err := b.advanceCursor(opts.AgentID, channel, last); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func (b *Bus) cursor(agentID, channel string) (int64, error) {
	var id int64
	err := b.db.QueryRow(
		`SELECT last_read_id FROM read_cursors WHERE agent_id = ? AND channel = ?`,
		agentID, channel,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return id, err
}

func (b *Bus) advanceCursor(agentID, channel string, lastID int64) error {
	_, err := b.db.Exec(
		`INSERT INTO read_cursors (agent_id, channel, last_read_id, last_read_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(agent_id, channel) DO UPDATE SET
			last_read_id = excluded.last_read_id,
			last_read_at = excluded.last_read_at`,
		agentID, channel, lastID, stamp(time.Now()),
	)
	return err
}

// DirectChannel is the canonical channel name for a pair of agents.
func DirectChannel(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// SendDirect posts a targeted message on the pair's direct channel.
func (b *Bus) SendDirect(sender, recipient string, payload any, ttlMinutes *int) (int64, error) {
	return b.PostMessage(PostOptions{
		Channel:    DirectChannel(sender, recipient),
		Sender:     sender,
		Recipient:  recipient,
		Payload:    payload,
		TTLMinutes: ttlMinutes,
	})
}

// ReadDirect returns unread messages addressed to agentID. With fromAgent it
// reads that pair's channel; without, it scans all direct channels.
func (b *Bus) ReadDirect(agentID, fromAgent string, opts ReadOptions) ([]Message, error) {
	opts.AgentID = agentID
	if fromAgent != "" {
		return b.ReadMessages(DirectChannel(agentID, fromAgent), opts)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := b.query(
		`SELECT m.id, m.channel, m.sender, m.recipient, m.type, m.payload, m.created_at, m.expires_at
		 FROM messages m
		 LEFT JOIN read_cursors c ON c.agent_id = ? AND c.channel = m.channel
		 WHERE m.recipient = ? AND m.channel LIKE 'dm:%'
		   AND (m.expires_at IS NULL OR m.expires_at > ?)
		   AND m.id > COALESCE(c.last_read_id, 0)
		 ORDER BY m.id ASC LIMIT ?`,
		agentID, agentID, stamp(time.Now()), limit,
	)
	if err != nil {
		return nil, err
	}

	// Advance one cursor per channel touched.
	lastByChannel := map[string]int64{}
	for _, m := range rows {
		if m.ID > lastByChannel[m.Channel] {
			lastByChannel[m.Channel] = m.ID
		}
	}
	for channel, last := range lastByChannel {
		if err := b.advanceCursor(agentID, channel, last); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// BroadcastSignal posts a short-lived signal message to a channel.
func (b *Bus) BroadcastSignal(channel, sender, signal string, data any) (int64, error) {
	payload, err := serialize(map[string]any{"signal": signal, "data": data})
	if err != nil {
		return 0, err
	}
	ttl := signalTTLMinutes
	return b.PostMessage(PostOptions{
		Channel:    channel,
		Sender:     sender,
		Type:       TypeSignal,
		Payload:    payload,
		TTLMinutes: &ttl,
	})
}

// ShareContext publishes a keyed value on a channel for other agents to look
// up.
func (b *Bus) ShareContext(channel, sender, key string, value any) (int64, error) {
	payload, err := serialize(map[string]any{"key": key, "value": value})
	if err != nil {
		return 0, err
	}
	ttl := contextTTLMinutes
	return b.PostMessage(PostOptions{
		Channel:    channel,
		Sender:     sender,
		Type:       TypeContext,
		Payload:    payload,
		TTLMinutes: &ttl,
	})
}

// GetContext returns the newest non-expired value shared under key on the
// channel. The key match happens in SQL, not by scanning history.
func (b *Bus) GetContext(channel, key string) (any, bool, error) {
	var payload string
	err := b.db.QueryRow(
		`SELECT payload FROM messages
		 WHERE channel = ? AND type = 'context'
		   AND (expires_at IS NULL OR expires_at > ?)
		   AND json_extract(payload, '$.key') = ?
		 ORDER BY id DESC LIMIT 1`,
		channel, stamp(time.Now()), key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var decoded struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, false, fmt.Errorf("parsing context payload: %w", err)
	}
	return decoded.Value, true, nil
}

// CleanExpired deletes every expired message and reports the count.
func (b *Bus) CleanExpired() (int64, error) {
	res, err := b.db.Exec(
		`DELETE FROM messages WHERE expires_at IS NOT NULL AND expires_at < ?`,
		stamp(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *Bus) query(q string, args ...any) ([]Message, error) {
	rows, err := b.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var recipient, expiresAt sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Channel, &m.Sender, &recipient, &m.Type, &m.Payload, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		m.Recipient = recipient.String
		m.CreatedAt = parseTime(sql.NullString{String: createdAt, Valid: true})
		m.ExpiresAt = parseTime(expiresAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
