package engine

import (
	"sort"
	"strings"

	"github.com/kartikbazzad/peacedb/internal/document"
	"github.com/kartikbazzad/peacedb/internal/index"
)

// page applies skip/limit to a lexicographically sorted id slice.
func page(ids []string, skip, limit int) []string {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(ids) {
		return nil
	}
	end := len(ids)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	if limit == 0 {
		return nil
	}
	return ids[skip:end]
}

func (db *Database) headsFor(ids []string) []*document.Document {
	out := make([]*document.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := db.heads[id]; ok {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (db *Database) sortedLiveIDs(includeDeleted bool) []string {
	ids := make([]string, 0, len(db.heads))
	for id, d := range db.heads {
		if !includeDeleted && d.Deleted {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllDocs returns a stable-ordered page of heads, sorted by id.
func (db *Database) AllDocs(skip, limit int, includeDeleted bool) []*document.Document {
	db.mu.RLock()
	defer db.mu.RUnlock()

	ids := db.sortedLiveIDs(includeDeleted)
	return db.headsFor(page(ids, skip, limit))
}

// FindByFields intersects equality postings for equalsMap with the union
// of numeric-range postings for numericRange, then pages the result. With
// both empty, it behaves like AllDocs(includeDeleted=false).
func (db *Database) FindByFields(equalsMap map[string]string, numericRange map[string]index.NumericRange, skip, limit int) []*document.Document {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if len(equalsMap) == 0 && len(numericRange) == 0 {
		ids := db.sortedLiveIDs(false)
		return db.headsFor(page(ids, skip, limit))
	}

	var sets []index.Set
	for path, val := range equalsMap {
		s := index.NewSet()
		if byVal, ok := db.idx.Equality[path]; ok {
			if ids, ok := byVal[val]; ok {
				s = ids
			}
		}
		sets = append(sets, s)
	}
	for path, r := range numericRange {
		sets = append(sets, db.idx.Numeric.Range(path, r))
	}

	result := index.Intersect(sets...)
	return db.headsFor(page(result.Ids(), skip, limit))
}

// FindByTags computes allOf ∩ anyOf \ noneOf over the tag index. Empty
// allOf/anyOf treat that clause as "everything" (all live ids).
func (db *Database) FindByTags(allOf, anyOf, noneOf []string, skip, limit int) []*document.Document {
	db.mu.RLock()
	defer db.mu.RUnlock()

	allLive := index.NewSet(db.sortedLiveIDs(false)...)

	allOfSet := allLive
	if len(allOf) > 0 {
		sets := make([]index.Set, 0, len(allOf))
		for _, tag := range allOf {
			sets = append(sets, db.idx.Tag[normalizeTag(tag)])
		}
		allOfSet = index.Intersect(sets...)
	}

	anyOfSet := allLive
	if len(anyOf) > 0 {
		sets := make([]index.Set, 0, len(anyOf))
		for _, tag := range anyOf {
			sets = append(sets, db.idx.Tag[normalizeTag(tag)])
		}
		anyOfSet = index.Union(sets...)
	}

	var noneOfSet index.Set
	if len(noneOf) > 0 {
		sets := make([]index.Set, 0, len(noneOf))
		for _, tag := range noneOf {
			sets = append(sets, db.idx.Tag[normalizeTag(tag)])
		}
		noneOfSet = index.Union(sets...)
	} else {
		noneOfSet = index.NewSet()
	}

	result := index.Subtract(index.Intersect(allOfSet, anyOfSet), noneOfSet)
	return db.headsFor(page(result.Ids(), skip, limit))
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// FullTextSearch intersects token postings for every non-empty token
// extracted from query (AND semantics). An empty token set yields an
// empty result, not "everything".
func (db *Database) FullTextSearch(query string, skip, limit int) []*document.Document {
	db.mu.RLock()
	defer db.mu.RUnlock()

	tokens := index.Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	sets := make([]index.Set, 0, len(tokens))
	for _, tok := range tokens {
		s, ok := db.idx.FullText[tok]
		if !ok {
			s = index.NewSet()
		}
		sets = append(sets, s)
	}
	result := index.Intersect(sets...)
	return db.headsFor(page(result.Ids(), skip, limit))
}
