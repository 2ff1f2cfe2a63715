// Package memstore is the in-memory Store used by tests and local tooling.
// It mirrors pgstore behavior, including the additive merchant upsert and the
// (mid, month) assignment uniqueness once installed.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"IsoHubResiduals/internal/residuals"
)

type Store struct {
	mu sync.RWMutex

	processors  []residuals.Processor
	mappings    map[int64]map[string]string
	merchants   map[string]residuals.Merchant
	monthly     map[int64]residuals.MonthlyDataRecord // by row id
	masters     map[string]residuals.MasterDatasetRecord
	assignments map[int64]residuals.RoleAssignment // by row id
	issues      map[string]residuals.AuditIssue
	progress    map[string]residuals.UploadProgress

	nextID           int64
	uniqueAssignment bool
}

func New() *Store {
	return &Store{
		mappings:    make(map[int64]map[string]string),
		merchants:   make(map[string]residuals.Merchant),
		monthly:     make(map[int64]residuals.MonthlyDataRecord),
		masters:     make(map[string]residuals.MasterDatasetRecord),
		assignments: make(map[int64]residuals.RoleAssignment),
		issues:      make(map[string]residuals.AuditIssue),
		progress:    make(map[string]residuals.UploadProgress),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// SeedProcessor registers reference data for tests.
func (s *Store) SeedProcessor(p residuals.Processor, mapping map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors = append(s.processors, p)
	if mapping != nil {
		s.mappings[p.ID] = mapping
	}
}

// InsertAssignmentRaw bypasses uniqueness for duplicate-cleanup tests.
func (s *Store) InsertAssignmentRaw(a residuals.RoleAssignment) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	s.assignments[a.ID] = a
	return a.ID
}

// InsertMonthlyRaw bypasses the upsert for duplicate-cleanup tests.
func (s *Store) InsertMonthlyRaw(rec residuals.MonthlyDataRecord) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = s.id()
	s.monthly[rec.ID] = rec
	return rec.ID
}

// WithTx runs fn directly; the in-memory store has no transactional rollback
// and tests exercise compound operations through the engine anyway.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) ListProcessors(_ context.Context, activeOnly bool) ([]residuals.Processor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]residuals.Processor, 0, len(s.processors))
	for _, p := range s.processors {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProcessor(_ context.Context, id int64) (*residuals.Processor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.processors {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, residuals.ErrNotFound
}

func (s *Store) FieldMappings(_ context.Context) (map[int64]map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]map[string]string, len(s.mappings))
	for id, m := range s.mappings {
		cp := make(map[string]string, len(m))
		for k, v := range m {
			cp[k] = v
		}
		out[id] = cp
	}
	return out, nil
}

func (s *Store) GetMerchant(_ context.Context, mid string) (*residuals.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.merchants[mid]
	if !ok {
		return nil, residuals.ErrNotFound
	}
	cp := m
	return &cp, nil
}

func (s *Store) UpsertMerchant(_ context.Context, m residuals.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.merchants[m.MID]
	if !ok {
		s.merchants[m.MID] = m
		return nil
	}
	// Additive: incoming blanks never erase known values.
	if m.LegalName != "" {
		existing.LegalName = m.LegalName
	}
	if m.DBA != "" {
		existing.DBA = m.DBA
	}
	if m.ProcessorOfRecord != "" {
		existing.ProcessorOfRecord = m.ProcessorOfRecord
	}
	if m.BranchID != "" {
		existing.BranchID = m.BranchID
	}
	if m.PartnerType != "" {
		existing.PartnerType = m.PartnerType
	}
	existing.UpdatedAt = time.Now()
	s.merchants[m.MID] = existing
	return nil
}

func (s *Store) SetMerchantBranch(_ context.Context, mid, branchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[mid]
	if !ok {
		return residuals.ErrNotFound
	}
	if m.BranchID == "" {
		m.BranchID = branchID
		m.UpdatedAt = time.Now()
		s.merchants[mid] = m
	}
	return nil
}

func (s *Store) UpsertMonthlyData(_ context.Context, rec residuals.MonthlyDataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.monthly {
		if existing.MID == rec.MID && existing.ProcessorID == rec.ProcessorID && existing.Month == rec.Month {
			rec.ID = id
			rec.CreatedAt = existing.CreatedAt
			rec.UpdatedAt = time.Now()
			s.monthly[id] = rec
			return nil
		}
	}
	rec.ID = s.id()
	s.monthly[rec.ID] = rec
	return nil
}

func (s *Store) ListMonthlyData(_ context.Context, month string) ([]residuals.MonthlyDataRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []residuals.MonthlyDataRecord
	for _, rec := range s.monthly {
		if rec.Month == month {
			out = append(out, rec)
		}
	}
	// Stable order: MID, then processor, then insertion id. The compiler's
	// last-writer-wins therefore resolves to the highest processor id.
	sort.Slice(out, func(i, j int) bool {
		if out[i].MID != out[j].MID {
			return out[i].MID < out[j].MID
		}
		if out[i].ProcessorID != out[j].ProcessorID {
			return out[i].ProcessorID < out[j].ProcessorID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CountMonthlyData(_ context.Context, month string, processorID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.monthly {
		if rec.Month == month && rec.ProcessorID == processorID {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteMonthlyData(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.monthly[id]; !ok {
		return residuals.ErrNotFound
	}
	delete(s.monthly, id)
	return nil
}

func masterKey(mid, month string) string { return mid + "|" + month }

func (s *Store) UpsertMasterRecord(_ context.Context, rec residuals.MasterDatasetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masters[masterKey(rec.MID, rec.Month)] = rec
	return nil
}

func (s *Store) ListMasterRecords(_ context.Context, month string) ([]residuals.MasterDatasetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []residuals.MasterDatasetRecord
	for _, rec := range s.masters {
		if rec.Month == month {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MID < out[j].MID })
	return out, nil
}

func (s *Store) SetMasterStatus(_ context.Context, mid, month, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.masters[masterKey(mid, month)]
	if !ok {
		return residuals.ErrNotFound
	}
	rec.AssignmentStatus = status
	s.masters[masterKey(mid, month)] = rec
	return nil
}

func (s *Store) SetMasterStatusForMonth(_ context.Context, month, status string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, rec := range s.masters {
		if rec.Month == month {
			rec.AssignmentStatus = status
			s.masters[key] = rec
			n++
		}
	}
	return n, nil
}

func (s *Store) GetAssignment(_ context.Context, mid, month string) (*residuals.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *residuals.RoleAssignment
	for id := range s.assignments {
		a := s.assignments[id]
		if a.MID == mid && a.Month == month {
			if best == nil || a.ID > best.ID {
				cp := a
				best = &cp
			}
		}
	}
	if best == nil {
		return nil, residuals.ErrNotFound
	}
	return best, nil
}

func (s *Store) ListAssignments(_ context.Context, month string) ([]residuals.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []residuals.RoleAssignment
	for _, a := range s.assignments {
		if a.Month == month {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (s *Store) ListAllAssignments(_ context.Context) ([]residuals.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]residuals.RoleAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sortAssignments(out)
	return out, nil
}

func sortAssignments(out []residuals.RoleAssignment) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].MID != out[j].MID {
			return out[i].MID < out[j].MID
		}
		if out[i].Month != out[j].Month {
			return out[i].Month < out[j].Month
		}
		return out[i].ID < out[j].ID
	})
}

func (s *Store) CreateAssignment(_ context.Context, a residuals.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uniqueAssignment {
		for _, existing := range s.assignments {
			if existing.MID == a.MID && existing.Month == a.Month {
				return residuals.ErrDuplicate
			}
		}
	}
	a.ID = s.id()
	s.assignments[a.ID] = a
	return nil
}

func (s *Store) SetAssignmentStatus(_ context.Context, mid, month, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for id, a := range s.assignments {
		if a.MID == mid && a.Month == month {
			a.AssignmentStatus = status
			a.LastUpdated = time.Now()
			s.assignments[id] = a
			found = true
		}
	}
	if !found {
		return residuals.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAssignment(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[id]; !ok {
		return residuals.ErrNotFound
	}
	delete(s.assignments, id)
	return nil
}

func (s *Store) EnsureAssignmentUniqueness(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uniqueAssignment = true
	return nil
}

func issueKey(month, entityID, issueType string) string {
	return month + "|" + entityID + "|" + issueType
}

func (s *Store) GetAuditIssue(_ context.Context, month, entityID, issueType string) (*residuals.AuditIssue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issue, ok := s.issues[issueKey(month, entityID, issueType)]
	if !ok {
		return nil, residuals.ErrNotFound
	}
	cp := issue
	return &cp, nil
}

func (s *Store) CreateAuditIssue(_ context.Context, issue residuals.AuditIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := issueKey(issue.Month, issue.EntityID, issue.IssueType)
	if _, ok := s.issues[key]; ok {
		return residuals.ErrDuplicate
	}
	s.issues[key] = issue
	return nil
}

func (s *Store) DeleteAuditIssue(_ context.Context, month, entityID, issueType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := issueKey(month, entityID, issueType)
	if _, ok := s.issues[key]; !ok {
		return residuals.ErrNotFound
	}
	delete(s.issues, key)
	return nil
}

func progressKey(month string, processorID int64) string {
	return fmt.Sprintf("%s|%d", month, processorID)
}

func (s *Store) GetProgress(_ context.Context, month string, processorID int64) (*residuals.UploadProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[progressKey(month, processorID)]
	if !ok {
		return nil, residuals.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (s *Store) UpsertProgress(_ context.Context, p residuals.UploadProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[progressKey(p.Month, p.ProcessorID)] = p
	return nil
}

func (s *Store) ListProgress(_ context.Context, month string) ([]residuals.UploadProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []residuals.UploadProgress
	for _, p := range s.progress {
		if p.Month == month {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessorID < out[j].ProcessorID })
	return out, nil
}
