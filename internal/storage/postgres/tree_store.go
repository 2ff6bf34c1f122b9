package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"contentforge/internal/domain"
)

// TreeStore persists the generation tree. Rows are soft-deleted only and
// selection changes run in a single transaction so the one-winner
// invariant holds under concurrent writers.
type TreeStore struct {
	db *DB
}

const nodeColumns = `id, type, mode, content, structured_content, parent_id, root_id,
	selected, visible, deleted, vertical, provider, model, prompt, context_snapshot,
	tokens_in, tokens_out, cost, status, created_at`

// CreateNode inserts a node, resolving the denormalized root pointer from
// the parent when the caller did not supply one.
func (s *TreeStore) CreateNode(ctx context.Context, node *domain.GenerationNode) error {
	if node.ParentID != nil && node.RootID == nil {
		var parentRoot sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT root_id FROM generation_nodes WHERE id = $1`, *node.ParentID).Scan(&parentRoot)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("parent node %s: %w", *node.ParentID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve parent root: %w", err)
		}
		if parentRoot.Valid {
			node.RootID = &parentRoot.String
		} else {
			node.RootID = node.ParentID
		}
	}

	snapshot, err := json.Marshal(node.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generation_nodes (
			id, type, mode, content, structured_content, parent_id, root_id,
			selected, visible, deleted, vertical, provider, model, prompt,
			context_snapshot, tokens_in, tokens_out, cost, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		node.ID, node.Type, node.Mode, node.Content, nullIfEmpty(node.StructuredContent),
		node.ParentID, node.RootID, node.Selected, node.Visible, node.Deleted,
		node.Vertical, node.Provider, node.Model, node.Prompt, snapshot,
		node.TokensIn, node.TokensOut, node.Cost, node.Status, node.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

// GetNode returns the node plus parent, children, same-type siblings, and
// ordered image prompts. Deleted nodes stay directly addressable but never
// appear in the neighborhood lists.
func (s *TreeStore) GetNode(ctx context.Context, id string) (*domain.NodeDetail, error) {
	node, err := s.getNode(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &domain.NodeDetail{
		Node:         node,
		Children:     []*domain.GenerationNode{},
		Alternatives: []*domain.GenerationNode{},
		ImagePrompts: []*domain.ImagePrompt{},
	}

	if node.ParentID != nil {
		parent, err := s.getNode(ctx, *node.ParentID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		detail.Parent = parent
	}

	detail.Children, err = s.queryNodes(ctx, `
		SELECT `+nodeColumns+` FROM generation_nodes
		WHERE parent_id = $1 AND NOT deleted
		ORDER BY created_at`, id)
	if err != nil {
		return nil, err
	}

	if node.ParentID != nil {
		detail.Alternatives, err = s.queryNodes(ctx, `
			SELECT `+nodeColumns+` FROM generation_nodes
			WHERE parent_id = $1 AND type = $2 AND id <> $3 AND NOT deleted
			ORDER BY created_at`, *node.ParentID, node.Type, id)
		if err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, node_id, original_text, edited_text, final_text, position, type, created_at
		FROM image_prompts
		WHERE node_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load image prompts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.ImagePrompt
		var edited, ptype sql.NullString
		if err := rows.Scan(&p.ID, &p.NodeID, &p.OriginalText, &edited, &p.FinalText, &p.Position, &ptype, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image prompt: %w", err)
		}
		p.EditedText = edited.String
		p.Type = ptype.String
		detail.ImagePrompts = append(detail.ImagePrompts, &p)
	}
	return detail, rows.Err()
}

// GetTree returns every live node sharing rootID, the root included
func (s *TreeStore) GetTree(ctx context.Context, rootID string) ([]*domain.GenerationNode, error) {
	return s.queryNodes(ctx, `
		SELECT `+nodeColumns+` FROM generation_nodes
		WHERE (id = $1 OR root_id = $1) AND NOT deleted
		ORDER BY created_at`, rootID)
}

// SetSelected deselects the whole tree and selects one node in a single
// transaction. The root row is locked first: under read committed, two
// concurrent selections would otherwise each deselect against a snapshot
// that predates the other's new winner and both would commit selected.
func (s *TreeStore) SetSelected(ctx context.Context, nodeID, rootID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin selection tx: %w", err)
	}
	defer tx.Rollback()

	var lockedRoot string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM generation_nodes WHERE id = $1 FOR UPDATE`, rootID).Scan(&lockedRoot)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("root node %s: %w", rootID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock root node: %w", err)
	}

	var belongs bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM generation_nodes
			WHERE id = $1 AND (id = $2 OR root_id = $2)
		)`, nodeID, rootID).Scan(&belongs)
	if err != nil {
		return fmt.Errorf("failed to check tree membership: %w", err)
	}
	if !belongs {
		return fmt.Errorf("node %s does not belong to root %s", nodeID, rootID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE generation_nodes SET selected = FALSE
		WHERE (id = $1 OR root_id = $1) AND selected`, rootID); err != nil {
		return fmt.Errorf("failed to deselect tree: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE generation_nodes SET selected = TRUE WHERE id = $1`, nodeID); err != nil {
		return fmt.Errorf("failed to select node: %w", err)
	}

	return tx.Commit()
}

// SoftDelete marks a node deleted without touching its descendants
func (s *TreeStore) SoftDelete(ctx context.Context, nodeID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE generation_nodes SET deleted = TRUE WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete node: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	return nil
}

func (s *TreeStore) CreateImagePrompts(ctx context.Context, prompts []*domain.ImagePrompt) error {
	if len(prompts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin prompt tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("image_prompts",
		"id", "node_id", "original_text", "edited_text", "final_text", "position", "type", "created_at"))
	if err != nil {
		return fmt.Errorf("failed to prepare prompt copy: %w", err)
	}

	for _, p := range prompts {
		if _, err := stmt.ExecContext(ctx, p.ID, p.NodeID, p.OriginalText,
			nullIfEmpty(p.EditedText), p.FinalText, p.Position, nullIfEmpty(p.Type), p.CreatedAt); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy image prompt: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush image prompts: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close prompt copy: %w", err)
	}

	return tx.Commit()
}

func (s *TreeStore) ClearImagePrompts(ctx context.Context, nodeID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM image_prompts WHERE node_id = $1`, nodeID); err != nil {
		return fmt.Errorf("failed to clear image prompts: %w", err)
	}
	return nil
}

func (s *TreeStore) getNode(ctx context.Context, id string) (*domain.GenerationNode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM generation_nodes WHERE id = $1`, id)

	node, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return node, nil
}

func (s *TreeStore) queryNodes(ctx context.Context, query string, args ...any) ([]*domain.GenerationNode, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*domain.GenerationNode{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func scanNode(row rowScanner) (*domain.GenerationNode, error) {
	var node domain.GenerationNode
	var structured, parentID, rootID, vertical, prompt sql.NullString
	var snapshot []byte

	err := row.Scan(
		&node.ID, &node.Type, &node.Mode, &node.Content, &structured, &parentID, &rootID,
		&node.Selected, &node.Visible, &node.Deleted, &vertical, &node.Provider, &node.Model,
		&prompt, &snapshot, &node.TokensIn, &node.TokensOut, &node.Cost, &node.Status, &node.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}

	node.StructuredContent = structured.String
	node.Vertical = vertical.String
	node.Prompt = prompt.String
	if parentID.Valid {
		node.ParentID = &parentID.String
	}
	if rootID.Valid {
		node.RootID = &rootID.String
	}
	if len(snapshot) > 0 && string(snapshot) != "null" {
		if err := json.Unmarshal(snapshot, &node.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context snapshot: %w", err)
		}
	}
	return &node, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
