package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentforum/agentforum/internal/core"
)

// ForumStore exposes the forum read models plus the two writes the agent
// engine needs (create post, create thread).
type ForumStore struct {
	db    *DB
	clock core.Clock
}

// NewForumStore creates a new forum store stamped by the system clock
func NewForumStore(db *DB) *ForumStore {
	return &ForumStore{db: db, clock: core.SystemClock{}}
}

// WithClock returns a copy of the store stamped by clock
func (s *ForumStore) WithClock(clock core.Clock) *ForumStore {
	return &ForumStore{db: s.db, clock: clock}
}

// ThreadOrder selects how candidate threads are sorted
type ThreadOrder string

const (
	OrderUpdatedAsc  ThreadOrder = "updated_asc"
	OrderUpdatedDesc ThreadOrder = "updated_desc"
	OrderCreatedDesc ThreadOrder = "created_desc"
)

// ThreadFilter narrows ListCandidateThreads
type ThreadFilter struct {
	ExcludeLocked        bool
	ExcludeAuthorPersona core.PersonaID
	CategoryID           string
	OrderBy              ThreadOrder
	Limit                int
}

// NewThread describes a thread to create
type NewThread struct {
	Title      string
	Content    string
	CategoryID string
	Author     core.AuthorRef
	Tags       []string
	IsPinned   bool
}

const threadSelect = `
	SELECT t.id, t.title, t.content, t.category_id, c.slug,
	       t.author_user_id, t.author_persona_id, t.author_name, t.tags,
	       t.is_pinned, t.is_locked,
	       (SELECT COUNT(*) FROM posts p WHERE p.thread_id = t.id),
	       t.created_at, t.updated_at
	FROM threads t
	JOIN categories c ON c.id = t.category_id`

// GetThread returns a thread by ID
func (s *ForumStore) GetThread(ctx context.Context, id string) (*core.Thread, error) {
	row := s.db.conn.QueryRowContext(ctx, threadSelect+` WHERE t.id = ?`, id)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrThreadNotFound
	}
	return t, err
}

// ListCandidateThreads returns threads matching filter
func (s *ForumStore) ListCandidateThreads(ctx context.Context, f ThreadFilter) ([]*core.Thread, error) {
	query := threadSelect + ` WHERE 1=1`
	var args []interface{}

	if f.ExcludeLocked {
		query += ` AND t.is_locked = 0`
	}
	if f.ExcludeAuthorPersona != "" {
		query += ` AND (t.author_persona_id IS NULL OR t.author_persona_id != ?)`
		args = append(args, f.ExcludeAuthorPersona)
	}
	if f.CategoryID != "" {
		query += ` AND t.category_id = ?`
		args = append(args, f.CategoryID)
	}

	switch f.OrderBy {
	case OrderUpdatedDesc:
		query += ` ORDER BY t.updated_at DESC, t.id ASC`
	case OrderCreatedDesc:
		query += ` ORDER BY t.created_at DESC, t.id ASC`
	default:
		query += ` ORDER BY t.updated_at ASC, t.id ASC`
	}

	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	defer rows.Close()

	var threads []*core.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// ListThreadPosts returns a thread's posts oldest first
func (s *ForumStore) ListThreadPosts(ctx context.Context, threadID string) ([]*core.Post, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, thread_id, content, author_user_id, author_persona_id, author_name, metadata, created_at
		FROM posts
		WHERE thread_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*core.Post
	for rows.Next() {
		p := &core.Post{}
		var userID, personaID, metadata sql.NullString
		if err := rows.Scan(&p.ID, &p.ThreadID, &p.Content, &userID, &personaID, &p.AuthorName, &metadata, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.AuthorUserID = userID.String
		p.AuthorPersonaID = core.PersonaID(personaID.String)
		if metadata.Valid && metadata.String != "" {
			p.Metadata = json.RawMessage(metadata.String)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// LastPersonaPostAt returns when personaID last posted in threadID
func (s *ForumStore) LastPersonaPostAt(ctx context.Context, threadID string, personaID core.PersonaID) (time.Time, bool, error) {
	var last sql.NullTime
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT created_at FROM posts
		WHERE thread_id = ? AND author_persona_id = ?
		ORDER BY created_at DESC LIMIT 1
	`, threadID, personaID).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return last.Time, last.Valid, nil
}

// CountPersonaPostsSince counts posts authored by personaID at or after since
func (s *ForumStore) CountPersonaPostsSince(ctx context.Context, personaID core.PersonaID, since time.Time) (int, error) {
	var count int
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM posts WHERE author_persona_id = ? AND created_at >= ?
	`, personaID, dbTime(since)).Scan(&count)
	return count, err
}

// CreatePost appends a post to a thread
func (s *ForumStore) CreatePost(ctx context.Context, threadID string, author core.AuthorRef, content string, metadata map[string]interface{}) (*core.Post, error) {
	post := &core.Post{
		ID:              uuid.New().String(),
		ThreadID:        threadID,
		Content:         content,
		AuthorUserID:    author.UserID,
		AuthorPersonaID: author.PersonaID,
		AuthorName:      author.Name,
		CreatedAt:       dbTime(s.clock.Now()),
	}

	var meta sql.NullString
	if metadata != nil {
		if data, err := json.Marshal(metadata); err == nil {
			meta = sql.NullString{String: string(data), Valid: true}
			post.Metadata = data
		}
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO posts (id, thread_id, content, author_user_id, author_persona_id, author_name, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, post.ID, post.ThreadID, post.Content, nullString(author.UserID), nullString(string(author.PersonaID)),
		post.AuthorName, meta, post.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}
	return post, nil
}

// CreateThread creates a thread and bumps its category
func (s *ForumStore) CreateThread(ctx context.Context, nt NewThread) (*core.Thread, error) {
	if strings.TrimSpace(nt.Title) == "" {
		return nil, fmt.Errorf("%w: title", core.ErrMissingRequired)
	}

	now := dbTime(s.clock.Now())
	tags := nt.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)

	t := &core.Thread{
		ID:              uuid.New().String(),
		Title:           nt.Title,
		Content:         nt.Content,
		CategoryID:      nt.CategoryID,
		AuthorUserID:    nt.Author.UserID,
		AuthorPersonaID: nt.Author.PersonaID,
		AuthorName:      nt.Author.Name,
		Tags:            tags,
		IsPinned:        nt.IsPinned,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.Transaction(func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT slug FROM categories WHERE id = ?`, nt.CategoryID).Scan(&t.CategorySlug); err != nil {
			if err == sql.ErrNoRows {
				return core.ErrCategoryNotFound
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO threads (
			    id, title, content, category_id, author_user_id, author_persona_id,
			    author_name, tags, is_pinned, is_locked, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		`, t.ID, t.Title, t.Content, t.CategoryID, nullString(t.AuthorUserID), nullString(string(t.AuthorPersonaID)),
			t.AuthorName, string(tagsJSON), t.IsPinned, now, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE categories SET updated_at = ? WHERE id = ?`, now, nt.CategoryID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// TouchThread sets a thread's updated_at to the store clock
func (s *ForumStore) TouchThread(ctx context.Context, threadID string) error {
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`, dbTime(s.clock.Now()), threadID)
	return err
}

// SetThreadFlags pins or locks a thread
func (s *ForumStore) SetThreadFlags(ctx context.Context, threadID string, pinned, locked bool) error {
	_, err := s.db.conn.ExecContext(ctx,
		`UPDATE threads SET is_pinned = ?, is_locked = ? WHERE id = ?`, pinned, locked, threadID)
	return err
}

// ListRecentThreadTitles returns the newest thread titles in a category
func (s *ForumStore) ListRecentThreadTitles(ctx context.Context, categoryID string, limit int) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT title FROM threads WHERE category_id = ? ORDER BY created_at DESC, id ASC LIMIT ?
	`, categoryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// CreateCategory creates a category
func (s *ForumStore) CreateCategory(ctx context.Context, slug, name string) (*core.Category, error) {
	now := dbTime(s.clock.Now())
	c := &core.Category{
		ID:        uuid.New().String(),
		Slug:      strings.ToLower(strings.TrimSpace(slug)),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO categories (id, slug, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.Slug, c.Name, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

// ListCategoriesBySlugs returns categories whose slug is in slugs,
// most recently updated first
func (s *ForumStore) ListCategoriesBySlugs(ctx context.Context, slugs []string, limit int) ([]*core.Category, error) {
	if len(slugs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(slugs)), ",")
	args := make([]interface{}, 0, len(slugs)+1)
	for _, slug := range slugs {
		args = append(args, slug)
	}
	query := `SELECT id, slug, name, created_at, updated_at FROM categories
		WHERE slug IN (` + placeholders + `) ORDER BY updated_at DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []*core.Category
	for rows.Next() {
		c := &core.Category{}
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func scanThread(row rowScanner) (*core.Thread, error) {
	t := &core.Thread{}
	var userID, personaID sql.NullString
	var tags string

	err := row.Scan(
		&t.ID, &t.Title, &t.Content, &t.CategoryID, &t.CategorySlug,
		&userID, &personaID, &t.AuthorName, &tags,
		&t.IsPinned, &t.IsLocked, &t.PostCount,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.AuthorUserID = userID.String
	t.AuthorPersonaID = core.PersonaID(personaID.String)
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil || t.Tags == nil {
		t.Tags = []string{}
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
