package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"contentforge/internal/domain"
)

// MemoryStore provides in-memory storage for development/testing
type MemoryStore struct {
	credentials  map[domain.Provider]*domain.ProviderCredential
	nodes        map[string]*domain.GenerationNode
	imagePrompts map[string][]*domain.ImagePrompt // node id -> prompts
	usageLogs    []*domain.UsageLog
	analytics    map[string]*domain.AnalyticsRow // date|vertical|provider|model
	styleGuides  map[string]*domain.StyleGuide
	templates    map[string]*domain.ContextTemplate
	characters   map[string]*domain.Character
	refImages    map[string]*domain.ReferenceImage
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials:  make(map[domain.Provider]*domain.ProviderCredential),
		nodes:        make(map[string]*domain.GenerationNode),
		imagePrompts: make(map[string][]*domain.ImagePrompt),
		usageLogs:    []*domain.UsageLog{},
		analytics:    make(map[string]*domain.AnalyticsRow),
		styleGuides:  make(map[string]*domain.StyleGuide),
		templates:    make(map[string]*domain.ContextTemplate),
		characters:   make(map[string]*domain.Character),
		refImages:    make(map[string]*domain.ReferenceImage),
	}
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }

// =============================================================================
// CredentialStore Implementation
// =============================================================================

func (s *MemoryStore) ListCredentials(ctx context.Context) ([]*domain.ProviderCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ProviderCredential, 0, len(s.credentials))
	for _, c := range s.credentials {
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Provider < result[j].Provider })
	return result, nil
}

func (s *MemoryStore) GetCredential(ctx context.Context, provider domain.Provider) (*domain.ProviderCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[provider]
	if !ok {
		return nil, fmt.Errorf("credential for %s: %w", provider, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpsertCredential(ctx context.Context, cred *domain.ProviderCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.credentials[cred.Provider]; ok {
		cred.CreatedAt = existing.CreatedAt
	} else {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	cp := *cred
	s.credentials[cred.Provider] = &cp
	return nil
}

func (s *MemoryStore) DeleteCredential(ctx context.Context, provider domain.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[provider]; !ok {
		return fmt.Errorf("credential for %s: %w", provider, domain.ErrNotFound)
	}
	delete(s.credentials, provider)
	return nil
}

func (s *MemoryStore) RecordTest(ctx context.Context, provider domain.Provider, ok bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.credentials[provider]
	if !exists {
		return fmt.Errorf("credential for %s: %w", provider, domain.ErrNotFound)
	}
	c.LastTestedAt = &at
	c.LastTestOK = &ok
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AddUsage(ctx context.Context, provider domain.Provider, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.credentials[provider]
	if !exists {
		return fmt.Errorf("credential for %s: %w", provider, domain.ErrNotFound)
	}
	c.CurrentUsage += cost
	c.UpdatedAt = time.Now()
	return nil
}

// =============================================================================
// TreeStore Implementation
// =============================================================================

func (s *MemoryStore) CreateNode(ctx context.Context, node *domain.GenerationNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[node.ID]; exists {
		return fmt.Errorf("node %s already exists", node.ID)
	}

	if node.ParentID != nil && node.RootID == nil {
		parent, ok := s.nodes[*node.ParentID]
		if !ok {
			return fmt.Errorf("parent node %s: %w", *node.ParentID, domain.ErrNotFound)
		}
		if parent.RootID != nil {
			node.RootID = parent.RootID
		} else {
			rootID := parent.ID
			node.RootID = &rootID
		}
	}

	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}

	cp := *node
	s.nodes[node.ID] = &cp
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, id string) (*domain.NodeDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}

	detail := &domain.NodeDetail{
		Node:         copyNode(node),
		Children:     []*domain.GenerationNode{},
		Alternatives: []*domain.GenerationNode{},
		ImagePrompts: []*domain.ImagePrompt{},
	}

	if node.ParentID != nil {
		if parent, ok := s.nodes[*node.ParentID]; ok {
			detail.Parent = copyNode(parent)
		}
	}

	for _, n := range s.nodes {
		if n.Deleted {
			continue
		}
		if n.ParentID != nil && *n.ParentID == id {
			detail.Children = append(detail.Children, copyNode(n))
		}
		if n.ID != id && node.ParentID != nil && n.ParentID != nil &&
			*n.ParentID == *node.ParentID && n.Type == node.Type {
			detail.Alternatives = append(detail.Alternatives, copyNode(n))
		}
	}
	sortNodesByCreation(detail.Children)
	sortNodesByCreation(detail.Alternatives)

	for _, p := range s.imagePrompts[id] {
		cp := *p
		detail.ImagePrompts = append(detail.ImagePrompts, &cp)
	}
	sort.Slice(detail.ImagePrompts, func(i, j int) bool {
		return detail.ImagePrompts[i].Position < detail.ImagePrompts[j].Position
	})

	return detail, nil
}

func (s *MemoryStore) GetTree(ctx context.Context, rootID string) ([]*domain.GenerationNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.GenerationNode
	for _, n := range s.nodes {
		if n.Deleted {
			continue
		}
		if n.ID == rootID || (n.RootID != nil && *n.RootID == rootID) {
			result = append(result, copyNode(n))
		}
	}
	sortNodesByCreation(result)
	return result, nil
}

// SetSelected holds the write lock across the deselect-then-select pair so
// concurrent selections on one root cannot interleave.
func (s *MemoryStore) SetSelected(ctx context.Context, nodeID, rootID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	if !nodeBelongsToRoot(target, rootID) {
		return fmt.Errorf("node %s does not belong to root %s", nodeID, rootID)
	}

	for _, n := range s.nodes {
		if nodeBelongsToRoot(n, rootID) {
			n.Selected = false
		}
	}
	target.Selected = true
	return nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	n.Deleted = true
	return nil
}

func (s *MemoryStore) CreateImagePrompts(ctx context.Context, prompts []*domain.ImagePrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range prompts {
		if _, ok := s.nodes[p.NodeID]; !ok {
			return fmt.Errorf("node %s: %w", p.NodeID, domain.ErrNotFound)
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
		cp := *p
		s.imagePrompts[p.NodeID] = append(s.imagePrompts[p.NodeID], &cp)
	}
	return nil
}

func (s *MemoryStore) ClearImagePrompts(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.imagePrompts, nodeID)
	return nil
}

func copyNode(n *domain.GenerationNode) *domain.GenerationNode {
	cp := *n
	return &cp
}

func sortNodesByCreation(nodes []*domain.GenerationNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].ID < nodes[j].ID
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
}

func nodeBelongsToRoot(n *domain.GenerationNode, rootID string) bool {
	return n.ID == rootID || (n.RootID != nil && *n.RootID == rootID)
}

// =============================================================================
// UsageStore Implementation
// =============================================================================

func (s *MemoryStore) InsertUsageLog(ctx context.Context, log *domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *log
	s.usageLogs = append(s.usageLogs, &cp)
	return nil
}

func (s *MemoryStore) UpsertAnalytics(ctx context.Context, log *domain.UsageLog, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s|%s|%s|%s", date.Format("2006-01-02"), log.Vertical, log.Provider, log.Model)
	row, ok := s.analytics[key]
	if !ok {
		row = &domain.AnalyticsRow{
			Date:     date,
			Vertical: log.Vertical,
			Provider: log.Provider,
			Model:    log.Model,
		}
		s.analytics[key] = row
	}

	// Running average over the previous total
	row.AvgDurationMS = (row.AvgDurationMS*float64(row.TotalCount) + float64(log.DurationMS)) / float64(row.TotalCount+1)

	row.TotalCount++
	if log.Success {
		row.SuccessCount++
	} else {
		row.FailCount++
	}
	row.TokensIn += int64(log.TokensIn)
	row.TokensOut += int64(log.TokensOut)
	row.TotalCost += log.Cost
	row.TotalContentLength += int64(log.ContentLength)
	return nil
}

func (s *MemoryStore) UsageStats(ctx context.Context, since time.Time) (*domain.UsageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.UsageStats{}
	var successes int
	var totalDuration int64

	for _, l := range s.usageLogs {
		if l.RequestedAt.Before(since) {
			continue
		}
		stats.TotalGenerations++
		stats.TotalCost += l.Cost
		totalDuration += l.DurationMS
		if l.Success {
			successes++
		}
	}

	if stats.TotalGenerations > 0 {
		stats.AverageDuration = float64(totalDuration) / float64(stats.TotalGenerations)
		stats.SuccessRate = float64(successes) / float64(stats.TotalGenerations) * 100
	}
	return stats, nil
}

func (s *MemoryStore) AnalyticsRows(ctx context.Context, since time.Time) ([]*domain.AnalyticsRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AnalyticsRow
	for _, row := range s.analytics {
		if row.Date.Before(since) {
			continue
		}
		cp := *row
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

func (s *MemoryStore) CleanupOldLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.usageLogs[:0]
	var removed int64
	for _, l := range s.usageLogs {
		if l.RequestedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	s.usageLogs = kept
	return removed, nil
}

// =============================================================================
// ReferenceStore Implementation
// =============================================================================

func (s *MemoryStore) CreateStyleGuide(ctx context.Context, guide *domain.StyleGuide) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	guide.CreatedAt = now
	guide.UpdatedAt = now
	cp := *guide
	s.styleGuides[guide.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateStyleGuide(ctx context.Context, guide *domain.StyleGuide) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.styleGuides[guide.ID]
	if !ok {
		return fmt.Errorf("style guide %s: %w", guide.ID, domain.ErrNotFound)
	}
	guide.CreatedAt = existing.CreatedAt
	guide.UpdatedAt = time.Now()
	cp := *guide
	s.styleGuides[guide.ID] = &cp
	return nil
}

func (s *MemoryStore) ListStyleGuides(ctx context.Context, vertical string) ([]*domain.StyleGuide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StyleGuide
	for _, g := range s.styleGuides {
		if vertical != "" && g.Vertical != vertical {
			continue
		}
		cp := *g
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *MemoryStore) GetStyleGuides(ctx context.Context, ids []string) ([]*domain.StyleGuide, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StyleGuide
	for _, id := range ids {
		if g, ok := s.styleGuides[id]; ok {
			cp := *g
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) DeleteStyleGuide(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.styleGuides[id]; !ok {
		return fmt.Errorf("style guide %s: %w", id, domain.ErrNotFound)
	}
	delete(s.styleGuides, id)
	return nil
}

func (s *MemoryStore) CreateTemplate(ctx context.Context, tmpl *domain.ContextTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	cp := *tmpl
	s.templates[tmpl.ID] = &cp
	return nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context, task domain.TaskType) ([]*domain.ContextTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ContextTemplate
	for _, t := range s.templates {
		if task != "" && t.TaskType != task {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *MemoryStore) CreateCharacter(ctx context.Context, ch *domain.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	cp := *ch
	s.characters[ch.ID] = &cp
	return nil
}

func (s *MemoryStore) ListCharacters(ctx context.Context) ([]*domain.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Character
	for _, c := range s.characters {
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *MemoryStore) CreateReferenceImage(ctx context.Context, img *domain.ReferenceImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	img.CreatedAt = now
	img.UpdatedAt = now
	cp := *img
	s.refImages[img.ID] = &cp
	return nil
}

func (s *MemoryStore) ListReferenceImages(ctx context.Context, vertical string) ([]*domain.ReferenceImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ReferenceImage
	for _, img := range s.refImages {
		if vertical != "" && img.Vertical != vertical {
			continue
		}
		cp := *img
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
