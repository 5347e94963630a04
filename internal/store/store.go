package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MediSynth-io/messagely/internal/database"
	"github.com/MediSynth-io/messagely/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Store handles all database operations
type Store struct {
	db  *database.DB
	now func() time.Time
}

// New creates a new store instance
func New(db *database.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser inserts a user. The password must already be hashed.
func (s *Store) CreateUser(ctx context.Context, nu models.NewUser) (*models.User, error) {
	user := &models.User{
		Username:  nu.Username,
		Password:  nu.Password,
		FirstName: nu.FirstName,
		LastName:  nu.LastName,
		Phone:     nu.Phone,
		JoinedAt:  s.now(),
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO users (username, password, first_name, last_name, phone, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		user.Username, user.Password, user.FirstName, user.LastName, user.Phone, user.JoinedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// FindUser retrieves a user, including the password hash, by username.
func (s *Store) FindUser(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT username, password, first_name, last_name, phone, joined_at, last_login_at
		 FROM users
		 WHERE username = ?`), username,
	).Scan(&user.Username, &user.Password, &user.FirstName, &user.LastName, &user.Phone, &user.JoinedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	user.LastLoginAt = nullTime(lastLogin)
	return user, nil
}

// TouchLastLogin sets last_login_at to the current time.
func (s *Store) TouchLastLogin(ctx context.Context, username string) (time.Time, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE users SET last_login_at = ? WHERE username = ?"), now, username)
	if err != nil {
		return time.Time{}, fmt.Errorf("update last login: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return time.Time{}, err
	}
	if rows == 0 {
		return time.Time{}, models.ErrNotFound
	}
	return now, nil
}

// ListUsers returns the public summary of every user ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]models.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT username, first_name, last_name FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	users := []models.UserSummary{}
	for rows.Next() {
		var u models.UserSummary
		if err := rows.Scan(&u.Username, &u.FirstName, &u.LastName); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateMessage stores a new message with a generated id and the current time.
func (s *Store) CreateMessage(ctx context.Context, from, to, body string) (*models.Message, error) {
	msg := &models.Message{
		ID:           uuid.NewString(),
		FromUsername: from,
		ToUsername:   to,
		Body:         body,
		SentAt:       s.now(),
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO messages (id, from_username, to_username, body, sent_at)
		 VALUES (?, ?, ?, ?, ?)`),
		msg.ID, msg.FromUsername, msg.ToUsername, msg.Body, msg.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// FindMessage retrieves a message with both parties' contact details.
func (s *Store) FindMessage(ctx context.Context, id string) (*models.Message, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	var (
		msg      models.Message
		from, to models.User
		readAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT m.id, m.body, m.sent_at, m.read_at,
		        f.username, f.first_name, f.last_name, f.phone,
		        t.username, t.first_name, t.last_name, t.phone
		 FROM messages AS m
		 JOIN users AS f ON m.from_username = f.username
		 JOIN users AS t ON m.to_username = t.username
		 WHERE m.id = ?`), id,
	).Scan(&msg.ID, &msg.Body, &msg.SentAt, &readAt,
		&from.Username, &from.FirstName, &from.LastName, &from.Phone,
		&to.Username, &to.FirstName, &to.LastName, &to.Phone,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("select message: %w", err)
	}
	fromContact, toContact := from.Contact(), to.Contact()
	msg.FromUsername = from.Username
	msg.ToUsername = to.Username
	msg.FromUser = &fromContact
	msg.ToUser = &toContact
	msg.ReadAt = nullTime(readAt)
	return &msg, nil
}

// MarkMessageRead sets read_at if it is still unset and returns the message.
// A message that is already read keeps its original read_at.
func (s *Store) MarkMessageRead(ctx context.Context, id string) (*models.Message, error) {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE messages SET read_at = ? WHERE id = ? AND read_at IS NULL"), s.now(), id); err != nil {
		return nil, fmt.Errorf("update read_at: %w", err)
	}
	return s.FindMessage(ctx, id)
}

// MessagesFrom returns messages sent by username, oldest first, with the
// recipient's contact details. Postgres stores sent_at with microsecond
// resolution, so messages sent within the same microsecond fall back to id
// order, which for random uuids is arbitrary but stable.
func (s *Store) MessagesFrom(ctx context.Context, username string) ([]models.Message, error) {
	return s.listMessages(ctx,
		`SELECT m.id, m.from_username, m.to_username, m.body, m.sent_at, m.read_at,
		        u.username, u.first_name, u.last_name, u.phone
		 FROM messages AS m
		 JOIN users AS u ON m.to_username = u.username
		 WHERE m.from_username = ?
		 ORDER BY m.sent_at, m.id`, username, false)
}

// MessagesTo returns messages received by username, oldest first, with the
// sender's contact details. Ties on sent_at are broken as in MessagesFrom.
func (s *Store) MessagesTo(ctx context.Context, username string) ([]models.Message, error) {
	return s.listMessages(ctx,
		`SELECT m.id, m.from_username, m.to_username, m.body, m.sent_at, m.read_at,
		        u.username, u.first_name, u.last_name, u.phone
		 FROM messages AS m
		 JOIN users AS u ON m.from_username = u.username
		 WHERE m.to_username = ?
		 ORDER BY m.sent_at, m.id`, username, true)
}

func (s *Store) listMessages(ctx context.Context, query, username string, sender bool) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), username)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			m      models.Message
			other  models.User
			readAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.FromUsername, &m.ToUsername, &m.Body, &m.SentAt, &readAt,
			&other.Username, &other.FirstName, &other.LastName, &other.Phone); err != nil {
			return nil, err
		}
		m.ReadAt = nullTime(readAt)
		c := other.Contact()
		if sender {
			m.FromUser = &c
		} else {
			m.ToUser = &c
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// isUniqueViolation reports whether err is a primary key or unique constraint
// failure from either supported driver.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
