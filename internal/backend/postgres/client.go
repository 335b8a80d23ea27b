// Package postgres implements the backend surface against a Postgres
// database: row queries through a pgx pool and change notifications
// through LISTEN/NOTIFY (see notify.go).
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatview/internal/backend"
	"github.com/chatview/internal/logger"
	"github.com/chatview/internal/model"
)

type Client struct {
	pool *pgxpool.Pool
}

func NewClient(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

func (c *Client) QueryMemberships(ctx context.Context, userID string) ([]model.Membership, error) {
	defer logger.DeferLogDuration("pg.QueryMemberships", time.Now())()
	rows, err := c.pool.Query(ctx,
		`SELECT chat_id, user_id, last_read_at FROM chat_members WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, &backend.NetworkError{Op: "pg.QueryMemberships", Err: err}
	}
	defer rows.Close()

	members := make([]model.Membership, 0, 16)
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.LastReadAt); err != nil {
			return nil, &backend.NetworkError{Op: "pg.QueryMemberships scan", Err: err}
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &backend.NetworkError{Op: "pg.QueryMemberships rows", Err: err}
	}
	return members, nil
}

func (c *Client) QueryChats(ctx context.Context, chatIDs []string, viewerID string) ([]model.ChatRow, error) {
	defer logger.DeferLogDuration("pg.QueryChats", time.Now())()
	if len(chatIDs) == 0 {
		return nil, nil
	}
	rows, err := c.pool.Query(ctx,
		`SELECT id, chat_type, name, created_by, created_at, updated_at
		 FROM chats WHERE id = ANY($1)
		 ORDER BY updated_at DESC`, chatIDs,
	)
	if err != nil {
		return nil, &backend.NetworkError{Op: "pg.QueryChats", Err: err}
	}
	defer rows.Close()

	result := make([]model.ChatRow, 0, len(chatIDs))
	for rows.Next() {
		var row model.ChatRow
		ch := &row.Chat
		if err := rows.Scan(&ch.ID, &ch.ChatType, &ch.Name, &ch.CreatedBy, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, &backend.NetworkError{Op: "pg.QueryChats scan", Err: err}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &backend.NetworkError{Op: "pg.QueryChats rows", Err: err}
	}

	for i := range result {
		chatID := result[i].Chat.ID
		members, err := c.queryChatMembers(ctx, chatID)
		if err != nil {
			return nil, err
		}
		result[i].Members = members

		last, err := c.queryLastMessage(ctx, chatID)
		if err != nil {
			return nil, err
		}
		result[i].LastMessage = last

		unread, err := c.queryUnreadCount(ctx, chatID, viewerID)
		if err != nil {
			return nil, err
		}
		result[i].UnreadCount = unread
	}
	return result, nil
}

func (c *Client) QueryMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("pg.QueryMessages", time.Now())()
	rows, err := c.pool.Query(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at,
		        u.id, u.username, COALESCE(u.avatar_url,''), u.created_at
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at, m.id`, chatID,
	)
	if err != nil {
		return nil, &backend.NetworkError{Op: "pg.QueryMessages", Err: err}
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		var senderID, username, avatarURL *string
		var senderCreated *time.Time
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt,
			&senderID, &username, &avatarURL, &senderCreated); err != nil {
			return nil, &backend.NetworkError{Op: "pg.QueryMessages scan", Err: err}
		}
		if senderID != nil {
			m.Sender = &model.User{ID: *senderID, Username: *username, AvatarURL: *avatarURL, CreatedAt: *senderCreated}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &backend.NetworkError{Op: "pg.QueryMessages rows", Err: err}
	}
	return messages, nil
}

func (c *Client) queryChatMembers(ctx context.Context, chatID string) ([]model.Membership, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT cm.chat_id, cm.user_id, cm.last_read_at,
		        u.id, u.username, COALESCE(u.avatar_url,''), u.created_at
		 FROM chat_members cm
		 LEFT JOIN users u ON u.id = cm.user_id
		 WHERE cm.chat_id = $1`, chatID,
	)
	if err != nil {
		return nil, &backend.NetworkError{Op: "pg.queryChatMembers", Err: err}
	}
	defer rows.Close()

	members := make([]model.Membership, 0, 8)
	for rows.Next() {
		var m model.Membership
		var userID, username, avatarURL *string
		var userCreated *time.Time
		if err := rows.Scan(&m.ChatID, &m.UserID, &m.LastReadAt,
			&userID, &username, &avatarURL, &userCreated); err != nil {
			return nil, &backend.NetworkError{Op: "pg.queryChatMembers scan", Err: err}
		}
		if userID != nil {
			m.User = &model.User{ID: *userID, Username: *username, AvatarURL: *avatarURL, CreatedAt: *userCreated}
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &backend.NetworkError{Op: "pg.queryChatMembers rows", Err: err}
	}
	return members, nil
}

func (c *Client) queryLastMessage(ctx context.Context, chatID string) (*model.Message, error) {
	rows, err := c.QueryMessagesPage(ctx, chatID, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// QueryMessagesPage returns the newest messages of a chat, newest first.
func (c *Client) QueryMessagesPage(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at,
		        u.id, u.username, COALESCE(u.avatar_url,''), u.created_at
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.sender_id
		 WHERE m.chat_id = $1
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT $2`, chatID, limit,
	)
	if err != nil {
		return nil, &backend.NetworkError{Op: "pg.QueryMessagesPage", Err: err}
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		var senderID, username, avatarURL *string
		var senderCreated *time.Time
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt,
			&senderID, &username, &avatarURL, &senderCreated); err != nil {
			return nil, &backend.NetworkError{Op: "pg.QueryMessagesPage scan", Err: err}
		}
		if senderID != nil {
			m.Sender = &model.User{ID: *senderID, Username: *username, AvatarURL: *avatarURL, CreatedAt: *senderCreated}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &backend.NetworkError{Op: "pg.QueryMessagesPage rows", Err: err}
	}
	return messages, nil
}

func (c *Client) queryUnreadCount(ctx context.Context, chatID, viewerID string) (int, error) {
	var count int
	err := c.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages m
		 JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.user_id = $2
		 WHERE m.chat_id = $1 AND m.sender_id != $2 AND m.created_at > cm.last_read_at`,
		chatID, viewerID,
	).Scan(&count)
	if err != nil {
		return 0, &backend.NetworkError{Op: "pg.queryUnreadCount", Err: err}
	}
	return count, nil
}
