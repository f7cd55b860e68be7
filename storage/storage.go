// Storage module - SQLite message log
//
// The Bot API has no history call, so the transport records every
// message it sees (inbound, outbound, auto-replies) and serves recent
// history from this log.

package storage

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB

	// Prepared statements for the hot paths
	stmtAddMessage *sql.Stmt
	stmtRecent     *sql.Stmt
}

// Message is one observed chat message
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path required")
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection failed: %v", err)
	}

	s := &Storage{db: db}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to set WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous: %v", err)
	}

	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}

	if err := s.initPreparedStmts(); err != nil {
		log.Printf("[WARN] Failed to prepare statements: %v (continuing without prepared statements)", err)
	}

	log.Printf("[OK] Storage: database %s", dbPath)
	return s, nil
}

func (s *Storage) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);
	`)
	return err
}

func (s *Storage) initPreparedStmts() error {
	var err error
	s.stmtAddMessage, err = s.db.Prepare(
		"INSERT INTO messages (chat_id, sender_id, text) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	s.stmtRecent, err = s.db.Prepare(
		"SELECT id, chat_id, sender_id, text, created_at FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?")
	return err
}

// AddMessage records one observed message
func (s *Storage) AddMessage(chatID, senderID int64, text string) error {
	if s.stmtAddMessage != nil {
		_, err := s.stmtAddMessage.Exec(chatID, senderID, text)
		return err
	}
	_, err := s.db.Exec(
		"INSERT INTO messages (chat_id, sender_id, text) VALUES (?, ?, ?)",
		chatID, senderID, text,
	)
	return err
}

// Recent returns up to limit messages for a chat, newest first
func (s *Storage) Recent(chatID int64, limit int) ([]Message, error) {
	var rows *sql.Rows
	var err error

	if s.stmtRecent != nil {
		rows, err = s.stmtRecent.Query(chatID, limit)
	} else {
		rows, err = s.db.Query(
			"SELECT id, chat_id, sender_id, text, created_at FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?",
			chatID, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Ping reports whether the database is reachable
func (s *Storage) Ping() error {
	return s.db.Ping()
}

func (s *Storage) Close() error {
	if s.stmtAddMessage != nil {
		s.stmtAddMessage.Close()
	}
	if s.stmtRecent != nil {
		s.stmtRecent.Close()
	}
	return s.db.Close()
}
