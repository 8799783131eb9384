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

// PersonaStore handles persona persistence. JSON columns are decoded here,
// through the core parse-with-defaults helpers, and nowhere else.
type PersonaStore struct {
	db *DB
}

// NewPersonaStore creates a new persona store
func NewPersonaStore(db *DB) *PersonaStore {
	return &PersonaStore{db: db}
}

const personaColumns = `
	id, slug, display_name, description, role, domains, activity_config,
	system_prompt, style_guide, is_active, created_at, updated_at`

// FindBySlug returns a persona and its schedules by slug
func (s *PersonaStore) FindBySlug(ctx context.Context, slug string) (*core.Persona, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE slug = ?`, strings.TrimSpace(slug))
	return s.loadOne(ctx, row)
}

// GetByID returns a persona and its schedules by ID
func (s *PersonaStore) GetByID(ctx context.Context, id core.PersonaID) (*core.Persona, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT `+personaColumns+` FROM personas WHERE id = ?`, id)
	return s.loadOne(ctx, row)
}

func (s *PersonaStore) loadOne(ctx context.Context, row *sql.Row) (*core.Persona, error) {
	p, err := scanPersona(row)
	if err == sql.ErrNoRows {
		return nil, core.ErrPersonaNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Schedules, err = s.schedules(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns personas ordered by slug, optionally only active ones
func (s *PersonaStore) List(ctx context.Context, activeOnly bool) ([]*core.Persona, error) {
	query := `SELECT ` + personaColumns + ` FROM personas`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY slug ASC`

	rows, err := s.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	var personas []*core.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// The pool has a single connection: release it before loading schedules
	rows.Close()

	for _, p := range personas {
		if p.Schedules, err = s.schedules(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return personas, nil
}

// Upsert inserts or replaces a persona (matched by slug) and its schedules
func (s *PersonaStore) Upsert(ctx context.Context, p *core.Persona) error {
	if strings.TrimSpace(p.Slug) == "" {
		return fmt.Errorf("%w: slug", core.ErrMissingRequired)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Slug
	}
	if !p.Role.Valid() {
		p.Role = core.RoleGeneralist
	}
	p.Activity = p.Activity.Normalize()

	domains, _ := json.Marshal(p.Domains)
	activity, _ := json.Marshal(p.Activity)
	now := dbTime(time.Now())

	return s.db.Transaction(func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM personas WHERE slug = ?`, p.Slug).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			if p.ID == "" {
				p.ID = core.PersonaID(uuid.New().String())
			}
			p.CreatedAt = now
			_, err = tx.ExecContext(ctx, `
				INSERT INTO personas (`+personaColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, p.ID, p.Slug, p.DisplayName, p.Description, p.Role, string(domains), string(activity),
				p.SystemPrompt, p.StyleGuide, p.IsActive, now, now)
		case err != nil:
			return err
		default:
			p.ID = core.PersonaID(existing)
			_, err = tx.ExecContext(ctx, `
				UPDATE personas SET
				    display_name = ?, description = ?, role = ?, domains = ?, activity_config = ?,
				    system_prompt = ?, style_guide = ?, is_active = ?, updated_at = ?
				WHERE id = ?
			`, p.DisplayName, p.Description, p.Role, string(domains), string(activity),
				p.SystemPrompt, p.StyleGuide, p.IsActive, now, p.ID)
		}
		if err != nil {
			return err
		}
		p.UpdatedAt = now

		if _, err := tx.ExecContext(ctx, `DELETE FROM persona_schedules WHERE persona_id = ?`, p.ID); err != nil {
			return err
		}
		for i := range p.Schedules {
			sch := &p.Schedules[i]
			sch.PersonaID = p.ID
			res, err := tx.ExecContext(ctx, `
				INSERT INTO persona_schedules (
				    persona_id, position, label, timezone, active_days,
				    window_start, window_end, max_posts, cooldown_mins
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, p.ID, i, sch.Label, sch.Timezone, sch.ActiveDays,
				sch.WindowStart, sch.WindowEnd, sch.MaxPosts, sch.CooldownMins)
			if err != nil {
				return err
			}
			sch.ID, _ = res.LastInsertId()
		}
		return nil
	})
}

// SetActive toggles a persona's active flag
func (s *PersonaStore) SetActive(ctx context.Context, id core.PersonaID, active bool) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE personas SET is_active = ?, updated_at = ? WHERE id = ?`, active, dbTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrPersonaNotFound
	}
	return nil
}

func (s *PersonaStore) schedules(ctx context.Context, id core.PersonaID) ([]core.Schedule, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, persona_id, label, timezone, active_days,
		       window_start, window_end, max_posts, cooldown_mins
		FROM persona_schedules
		WHERE persona_id = ?
		ORDER BY position ASC, id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []core.Schedule
	for rows.Next() {
		var sch core.Schedule
		if err := rows.Scan(
			&sch.ID, &sch.PersonaID, &sch.Label, &sch.Timezone, &sch.ActiveDays,
			&sch.WindowStart, &sch.WindowEnd, &sch.MaxPosts, &sch.CooldownMins,
		); err != nil {
			return nil, err
		}
		schedules = append(schedules, sch)
	}
	return schedules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPersona(row rowScanner) (*core.Persona, error) {
	p := &core.Persona{}
	var domains, activity string
	var role string

	err := row.Scan(
		&p.ID, &p.Slug, &p.DisplayName, &p.Description, &role, &domains, &activity,
		&p.SystemPrompt, &p.StyleGuide, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Role = core.Role(role)
	if !p.Role.Valid() {
		p.Role = core.RoleGeneralist
	}
	p.Domains = core.ParseDomains([]byte(domains))
	p.Activity = core.ParseActivityConfig([]byte(activity))
	return p, nil
}
