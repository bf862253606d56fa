package database

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ortelius/cvefeed-backend/internal/search"
	"github.com/ortelius/cvefeed-backend/model"
)

// MemoryStore is an in-process CVE store that evaluates search plans with
// the same semantics as the AQL rendering: missing fields compare lowest,
// list-nested predicates match when any element matches.
type MemoryStore struct {
	mu     sync.RWMutex
	cves   map[string]model.CVE
	report *model.IngestReport
	commit time.Time
}

// NewMemoryStore returns a store seeded with cves
func NewMemoryStore(cves ...model.CVE) *MemoryStore {
	s := &MemoryStore{cves: make(map[string]model.CVE, len(cves))}
	for _, c := range cves {
		s.cves[c.CveID] = c
	}
	return s
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cves)
}

// FindCVEs evaluates plan over the stored records
func (s *MemoryStore) FindCVEs(_ context.Context, plan search.Plan, page search.Page) ([]model.CVE, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type row struct {
		cve model.CVE
		doc map[string]interface{}
	}

	rows := []row{}
	for _, c := range s.cves {
		doc, err := toMap(c)
		if err != nil {
			return nil, err
		}
		if matchesAll(doc, plan.Predicates) {
			rows = append(rows, row{cve: c, doc: doc})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, key := range plan.Sort {
			c := compareSortKey(key, lookup(rows[i].doc, key.Path), lookup(rows[j].doc, key.Path))
			if c == 0 {
				continue
			}
			if key.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	results := []model.CVE{}
	for i := page.Offset; i < len(rows) && len(results) < page.Limit; i++ {
		results = append(results, rows[i].cve)
	}
	return results, nil
}

// GetCVE returns one record by identity, or nil when it is not stored
func (s *MemoryStore) GetCVE(_ context.Context, id string) (*model.CVE, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cves[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// LatestDatePublic returns the newest stored date_public
func (s *MemoryStore) LatestDatePublic(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := ""
	for _, c := range s.cves {
		if c.DatePublic > latest {
			latest = c.DatePublic
		}
	}
	return latest, nil
}

// InsertCVEs stores records, replacing any with the same identity
func (s *MemoryStore) InsertCVEs(_ context.Context, cves []model.CVE) (inserted, replaced int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cves {
		if _, ok := s.cves[c.CveID]; ok {
			replaced++
		} else {
			inserted++
		}
		s.cves[c.CveID] = c
	}
	return inserted, replaced, nil
}

// ReplaceCVEs replaces stored records by identity and skips unknown ones
func (s *MemoryStore) ReplaceCVEs(_ context.Context, cves []model.CVE) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := 0
	for _, c := range cves {
		if _, ok := s.cves[c.CveID]; ok {
			s.cves[c.CveID] = c
			matched++
		}
	}
	return matched, nil
}

// SaveIngestReport keeps the latest ingestion report
func (s *MemoryStore) SaveIngestReport(_ context.Context, report model.IngestReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = &report
	return nil
}

// LoadIngestReport returns the latest ingestion report, or nil
func (s *MemoryStore) LoadIngestReport(_ context.Context) (*model.IngestReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.report == nil {
		return nil, nil
	}
	r := *s.report
	return &r, nil
}

// LoadCommitCheckpoint returns the saved commit checkpoint
func (s *MemoryStore) LoadCommitCheckpoint(_ context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commit, nil
}

// SaveCommitCheckpoint records the commit checkpoint
func (s *MemoryStore) SaveCommitCheckpoint(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit = t
	return nil
}

func toMap(c model.CVE) (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	err = json.Unmarshal(data, &doc)
	return doc, err
}

func lookup(doc map[string]interface{}, path string) interface{} {
	var cur interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

func matchesAll(doc map[string]interface{}, preds []search.Predicate) bool {
	for _, pred := range preds {
		if pred.Within == "" {
			if !matches(lookup(doc, pred.Path), pred) {
				return false
			}
			continue
		}
		elems, _ := doc[pred.Within].([]interface{})
		found := false
		for _, e := range elems {
			m, ok := e.(map[string]interface{})
			if ok && matches(lookup(m, pred.Path), pred) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matches(field interface{}, pred search.Predicate) bool {
	switch pred.Kind {
	case search.KindRange:
		if field == nil {
			return false
		}
		if pred.Min != nil && compareValues(field, pred.Min) < 0 {
			return false
		}
		if pred.Max != nil && compareValues(field, pred.Max) > 0 {
			return false
		}
		return true
	case search.KindContains:
		s, ok := field.(string)
		if !ok {
			return false
		}
		s = strings.ToLower(s)
		for _, v := range pred.Values {
			if sub, ok := v.(string); ok && strings.Contains(s, sub) {
				return true
			}
		}
		return false
	default:
		for _, v := range pred.Values {
			if field != nil && compareValues(field, v) == 0 {
				return true
			}
		}
		return false
	}
}

func compareSortKey(key search.SortKey, a, b interface{}) int {
	if len(key.Ranks) == 0 {
		return compareValues(a, b)
	}
	sa, _ := a.(string)
	sb, _ := b.(string)
	ra, rb := key.RankOf(sa), key.RankOf(sb)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return 0
}

// typeRank follows the AQL type order: null < bool < number < string.
func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func compareValues(a, b interface{}) int {
	ta, tb := typeRank(a), typeRank(b)
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case string:
		return strings.Compare(av, b.(string))
	case bool:
		bv := b.(bool)
		switch {
		case !av && bv:
			return -1
		case av && !bv:
			return 1
		}
	}
	return 0
}
