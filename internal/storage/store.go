// Package storage provides data storage implementations.
package storage

import (
	"context"
	"time"

	"contentforge/internal/domain"
)

// CredentialStore persists per-provider credentials. Implementations never
// return decrypted key material; decryption happens in the selector.
type CredentialStore interface {
	ListCredentials(ctx context.Context) ([]*domain.ProviderCredential, error)
	GetCredential(ctx context.Context, provider domain.Provider) (*domain.ProviderCredential, error)
	UpsertCredential(ctx context.Context, cred *domain.ProviderCredential) error
	DeleteCredential(ctx context.Context, provider domain.Provider) error
	RecordTest(ctx context.Context, provider domain.Provider, ok bool, at time.Time) error
	AddUsage(ctx context.Context, provider domain.Provider, cost float64) error
}

// TreeStore persists the generation tree. Nodes are soft-deleted only;
// parent/root pointers must stay valid for every live descendant.
type TreeStore interface {
	// CreateNode inserts a node. When ParentID is set and RootID is not,
	// the store resolves RootID from the parent (ancestor root, or the
	// parent itself when the parent is a root).
	CreateNode(ctx context.Context, node *domain.GenerationNode) error

	// GetNode returns the node plus parent, children (by creation time),
	// alternatives (same parent and type, excluding itself), and ordered
	// image prompts.
	GetNode(ctx context.Context, id string) (*domain.NodeDetail, error)

	// GetTree returns every non-deleted node sharing rootID
	GetTree(ctx context.Context, rootID string) ([]*domain.GenerationNode, error)

	// SetSelected deselects every node under rootID and selects nodeID,
	// atomically with respect to concurrent selections on the same root.
	SetSelected(ctx context.Context, nodeID, rootID string) error

	// SoftDelete marks a node deleted without touching its children
	SoftDelete(ctx context.Context, nodeID string) error

	CreateImagePrompts(ctx context.Context, prompts []*domain.ImagePrompt) error
	ClearImagePrompts(ctx context.Context, nodeID string) error
}

// UsageStore persists append-only usage logs and their analytics rollups
type UsageStore interface {
	InsertUsageLog(ctx context.Context, log *domain.UsageLog) error

	// UpsertAnalytics increments the rollup row keyed by
	// (date, vertical, provider, model). Increment-on-conflict, so
	// repeated contributions are commutative.
	UpsertAnalytics(ctx context.Context, log *domain.UsageLog, date time.Time) error

	UsageStats(ctx context.Context, since time.Time) (*domain.UsageStats, error)
	AnalyticsRows(ctx context.Context, since time.Time) ([]*domain.AnalyticsRow, error)

	// CleanupOldLogs hard-deletes usage logs older than cutoff and returns
	// the count removed. This is the only hard-delete path in the subsystem.
	CleanupOldLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReferenceStore persists reusable generation-context inputs. These are
// referenced by id from node context snapshots, never embedded by value.
type ReferenceStore interface {
	CreateStyleGuide(ctx context.Context, guide *domain.StyleGuide) error
	UpdateStyleGuide(ctx context.Context, guide *domain.StyleGuide) error
	ListStyleGuides(ctx context.Context, vertical string) ([]*domain.StyleGuide, error)
	GetStyleGuides(ctx context.Context, ids []string) ([]*domain.StyleGuide, error)
	DeleteStyleGuide(ctx context.Context, id string) error

	CreateTemplate(ctx context.Context, tmpl *domain.ContextTemplate) error
	ListTemplates(ctx context.Context, task domain.TaskType) ([]*domain.ContextTemplate, error)

	CreateCharacter(ctx context.Context, ch *domain.Character) error
	ListCharacters(ctx context.Context) ([]*domain.Character, error)

	CreateReferenceImage(ctx context.Context, img *domain.ReferenceImage) error
	ListReferenceImages(ctx context.Context, vertical string) ([]*domain.ReferenceImage, error)
}

// Store bundles every storage concern behind one handle
type Store interface {
	CredentialStore
	TreeStore
	UsageStore
	ReferenceStore
	Close() error
}
