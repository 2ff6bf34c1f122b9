package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"contentforge/internal/domain"
)

// ReferenceStore persists reusable generation-context inputs
type ReferenceStore struct {
	db *DB
}

func (s *ReferenceStore) CreateStyleGuide(ctx context.Context, guide *domain.StyleGuide) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO style_guides (id, name, vertical, content, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		guide.ID, guide.Name, nullIfEmpty(guide.Vertical), guide.Content, guide.Active).
		Scan(&guide.CreatedAt, &guide.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create style guide: %w", err)
	}
	return nil
}

func (s *ReferenceStore) UpdateStyleGuide(ctx context.Context, guide *domain.StyleGuide) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE style_guides
		SET name = $2, vertical = $3, content = $4, active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		guide.ID, guide.Name, nullIfEmpty(guide.Vertical), guide.Content, guide.Active).
		Scan(&guide.CreatedAt, &guide.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("style guide %s: %w", guide.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update style guide: %w", err)
	}
	return nil
}

// ListStyleGuides returns guides for a vertical; an empty vertical lists all
func (s *ReferenceStore) ListStyleGuides(ctx context.Context, vertical string) ([]*domain.StyleGuide, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, vertical, content, active, created_at, updated_at
		FROM style_guides
		WHERE $1 = '' OR vertical = $1
		ORDER BY name`, vertical)
	if err != nil {
		return nil, fmt.Errorf("failed to list style guides: %w", err)
	}
	defer rows.Close()
	return scanStyleGuides(rows)
}

func (s *ReferenceStore) GetStyleGuides(ctx context.Context, ids []string) ([]*domain.StyleGuide, error) {
	if len(ids) == 0 {
		return []*domain.StyleGuide{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, vertical, content, active, created_at, updated_at
		FROM style_guides
		WHERE id = ANY($1)
		ORDER BY name`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load style guides: %w", err)
	}
	defer rows.Close()
	return scanStyleGuides(rows)
}

func (s *ReferenceStore) DeleteStyleGuide(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM style_guides WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete style guide: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("style guide %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *ReferenceStore) CreateTemplate(ctx context.Context, tmpl *domain.ContextTemplate) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO context_templates (id, name, task_type, template, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		tmpl.ID, tmpl.Name, tmpl.TaskType, tmpl.Template, tmpl.Active).
		Scan(&tmpl.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (s *ReferenceStore) ListTemplates(ctx context.Context, task domain.TaskType) ([]*domain.ContextTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, task_type, template, active, created_at
		FROM context_templates
		WHERE $1 = '' OR task_type = $1
		ORDER BY name`, task)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	result := []*domain.ContextTemplate{}
	for rows.Next() {
		var t domain.ContextTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.TaskType, &t.Template, &t.Active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		result = append(result, &t)
	}
	return result, rows.Err()
}

func (s *ReferenceStore) CreateCharacter(ctx context.Context, ch *domain.Character) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO characters (id, name, description, image_url, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		ch.ID, ch.Name, ch.Description, nullIfEmpty(ch.ImageURL), ch.Active).
		Scan(&ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create character: %w", err)
	}
	return nil
}

func (s *ReferenceStore) ListCharacters(ctx context.Context) ([]*domain.Character, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, image_url, active, created_at, updated_at
		FROM characters
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	defer rows.Close()

	result := []*domain.Character{}
	for rows.Next() {
		var ch domain.Character
		var imageURL sql.NullString
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &imageURL, &ch.Active, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan character: %w", err)
		}
		ch.ImageURL = imageURL.String
		result = append(result, &ch)
	}
	return result, rows.Err()
}

func (s *ReferenceStore) CreateReferenceImage(ctx context.Context, img *domain.ReferenceImage) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reference_images (id, name, url, vertical, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		img.ID, img.Name, img.URL, nullIfEmpty(img.Vertical), img.Active).
		Scan(&img.CreatedAt, &img.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reference image: %w", err)
	}
	return nil
}

func (s *ReferenceStore) ListReferenceImages(ctx context.Context, vertical string) ([]*domain.ReferenceImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url, vertical, active, created_at, updated_at
		FROM reference_images
		WHERE $1 = '' OR vertical = $1
		ORDER BY name`, vertical)
	if err != nil {
		return nil, fmt.Errorf("failed to list reference images: %w", err)
	}
	defer rows.Close()

	result := []*domain.ReferenceImage{}
	for rows.Next() {
		var img domain.ReferenceImage
		var v sql.NullString
		if err := rows.Scan(&img.ID, &img.Name, &img.URL, &v, &img.Active, &img.CreatedAt, &img.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reference image: %w", err)
		}
		img.Vertical = v.String
		result = append(result, &img)
	}
	return result, rows.Err()
}

func scanStyleGuides(rows *sql.Rows) ([]*domain.StyleGuide, error) {
	result := []*domain.StyleGuide{}
	for rows.Next() {
		var g domain.StyleGuide
		var vertical sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &vertical, &g.Content, &g.Active, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan style guide: %w", err)
		}
		g.Vertical = vertical.String
		result = append(result, &g)
	}
	return result, rows.Err()
}
