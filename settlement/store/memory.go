// Package store provides an in-memory implementation of the settlement
// persistence interfaces, for tests and local development. Honors the same
// error contract as the SQLite store, including ErrDuplicateSettlement on
// the (author, month) uniqueness rule.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pagestream/revenue-engine/settlement"
)

// Memory implements settlement.Store with mutex-guarded maps.
type Memory struct {
	mu          sync.RWMutex
	documents   map[string]settlement.Document
	impressions []settlement.AdImpression
	sessions    map[string]settlement.ReadingSession
	profiles    map[string]settlement.Profile
	tiers       map[string]settlement.AuthorTier
	revenue     map[string]settlement.RevenueRecord // keyed author|month
	runs        []settlement.RunRecord
}

var _ settlement.Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]settlement.Document),
		sessions:  make(map[string]settlement.ReadingSession),
		profiles:  make(map[string]settlement.Profile),
		tiers:     make(map[string]settlement.AuthorTier),
		revenue:   make(map[string]settlement.RevenueRecord),
	}
}

func revenueKey(authorID, month string) string { return authorID + "|" + month }

// =============================================================================
// DOCUMENTS
// =============================================================================

func (m *Memory) SaveDocument(_ context.Context, doc settlement.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.ID] = doc
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*settlement.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return nil, settlement.ErrNotFound
	}
	return &doc, nil
}

func (m *Memory) ListDocuments(_ context.Context) ([]settlement.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]settlement.Document, 0, len(m.documents))
	for _, d := range m.documents {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (m *Memory) ListDocumentsByAuthor(_ context.Context, authorID string) ([]settlement.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []settlement.Document
	for _, d := range m.documents {
		if d.AuthorID == authorID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (m *Memory) AddReadingTime(_ context.Context, docID string, deltaSecs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[docID]
	if !ok {
		return settlement.ErrNotFound
	}
	doc.TotalReadingSecs += deltaSecs
	m.documents[docID] = doc
	return nil
}

func (m *Memory) TotalReadingSecsByAuthor(_ context.Context, authorID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, d := range m.documents {
		if d.AuthorID == authorID {
			total += d.TotalReadingSecs
		}
	}
	return total, nil
}

// =============================================================================
// IMPRESSIONS
// =============================================================================

func (m *Memory) RecordImpression(_ context.Context, imp settlement.AdImpression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.impressions = append(m.impressions, imp)
	return nil
}

func (m *Memory) CountImpressions(_ context.Context, docIDs []string, positions []settlement.AdPosition, from, to time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docSet := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		docSet[id] = true
	}
	posSet := make(map[settlement.AdPosition]bool, len(positions))
	for _, p := range positions {
		posSet[p] = true
	}

	var count int64
	for _, imp := range m.impressions {
		if !docSet[imp.DocumentID] || !posSet[imp.AdPosition] {
			continue
		}
		if imp.CreatedAt.Before(from) || !imp.CreatedAt.Before(to) {
			continue
		}
		count++
	}
	return count, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (m *Memory) CreateSession(_ context.Context, s settlement.ReadingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*settlement.ReadingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, settlement.ErrNotFound
	}
	return &s, nil
}

func (m *Memory) UpdateSession(_ context.Context, s settlement.ReadingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return settlement.ErrNotFound
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) SessionsForDocuments(_ context.Context, docIDs []string, from, to time.Time) ([]settlement.ReadingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docSet := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		docSet[id] = true
	}

	var out []settlement.ReadingSession
	for _, s := range m.sessions {
		if !docSet[s.DocumentID] {
			continue
		}
		if s.LastReadAt.Before(from) || !s.LastReadAt.Before(to) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) TotalReadingMinutes(_ context.Context, from, to time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var minutes int64
	for _, s := range m.sessions {
		if s.LastReadAt.Before(from) || !s.LastReadAt.Before(to) {
			continue
		}
		minutes += s.Minutes()
	}
	return minutes, nil
}

// =============================================================================
// PROFILES
// =============================================================================

func (m *Memory) SaveProfile(_ context.Context, p settlement.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
	return nil
}

func (m *Memory) GetProfile(_ context.Context, id string) (*settlement.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, settlement.ErrNotFound
	}
	return &p, nil
}

func (m *Memory) CountActivePremium(_ context.Context, at time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, p := range m.profiles {
		if p.PremiumActiveAt(at) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) FilterActivePremium(_ context.Context, ids []string, at time.Time) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok && p.PremiumActiveAt(at) {
			out[id] = true
		}
	}
	return out, nil
}

func (m *Memory) UpdatePendingPayout(_ context.Context, id string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return settlement.ErrNotFound
	}
	p.PendingPayout = balance
	m.profiles[id] = p
	return nil
}

func (m *Memory) SetAuthorTier(_ context.Context, id string, tier int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return settlement.ErrNotFound
	}
	p.AuthorTier = tier
	m.profiles[id] = p
	return nil
}

// =============================================================================
// TIERS
// =============================================================================

func (m *Memory) SaveAuthorTier(_ context.Context, t settlement.AuthorTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[t.AuthorID] = t
	return nil
}

func (m *Memory) GetAuthorTier(_ context.Context, authorID string) (*settlement.AuthorTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tiers[authorID]
	if !ok {
		return nil, settlement.ErrNotFound
	}
	return &t, nil
}

func (m *Memory) ListEligibleAuthors(_ context.Context, minTier int) ([]settlement.AuthorTier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []settlement.AuthorTier
	for _, t := range m.tiers {
		if t.Tier >= minTier {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AuthorID < out[j].AuthorID })
	return out, nil
}

// =============================================================================
// REVENUE RECORDS
// =============================================================================

func (m *Memory) InsertRevenueRecord(_ context.Context, rec settlement.RevenueRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := revenueKey(rec.AuthorID, rec.Month)
	if _, exists := m.revenue[key]; exists {
		return settlement.ErrDuplicateSettlement
	}
	m.revenue[key] = rec
	return nil
}

func (m *Memory) ExistsForMonth(_ context.Context, month string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.revenue {
		if rec.Month == month {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListRevenueByAuthor(_ context.Context, authorID string, limit int) ([]settlement.RevenueRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []settlement.RevenueRecord
	for _, rec := range m.revenue {
		if rec.AuthorID == authorID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month > out[j].Month })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run settlement.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.runs {
		if existing.ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]settlement.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]settlement.RunRecord, len(m.runs))
	copy(out, m.runs)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
