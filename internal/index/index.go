package index

import (
	"strconv"
	"strings"

	"github.com/kartikbazzad/peacedb/internal/document"
)

// EqualityIndex is field path -> string value -> id set. Strings index
// verbatim and booleans as "true"/"false"; numbers get only a numeric
// posting, not an equality one. Comparison is ordinal.
type EqualityIndex map[string]map[string]Set

func (e EqualityIndex) add(path, value, id string) {
	vals, ok := e[path]
	if !ok {
		vals = make(map[string]Set)
		e[path] = vals
	}
	s, ok := vals[value]
	if !ok {
		s = make(Set)
		vals[value] = s
	}
	s.Add(id)
}

func (e EqualityIndex) remove(path, value, id string) {
	vals, ok := e[path]
	if !ok {
		return
	}
	s, ok := vals[value]
	if !ok {
		return
	}
	s.Remove(id)
	if s.Len() == 0 {
		delete(vals, value)
	}
	if len(vals) == 0 {
		delete(e, path)
	}
}

// TagIndex is lower-cased tag -> id set.
type TagIndex map[string]Set

func (t TagIndex) add(tag, id string) {
	s, ok := t[tag]
	if !ok {
		s = make(Set)
		t[tag] = s
	}
	s.Add(id)
}

func (t TagIndex) remove(tag, id string) {
	s, ok := t[tag]
	if !ok {
		return
	}
	s.Remove(id)
	if s.Len() == 0 {
		delete(t, tag)
	}
}

// FullTextIndex is lower-cased token -> id set.
type FullTextIndex map[string]Set

func (f FullTextIndex) add(token, id string) {
	s, ok := f[token]
	if !ok {
		s = make(Set)
		f[token] = s
	}
	s.Add(id)
}

func (f FullTextIndex) remove(token, id string) {
	s, ok := f[token]
	if !ok {
		return
	}
	s.Remove(id)
	if s.Len() == 0 {
		delete(f, token)
	}
}

// Indexes bundles the four derived posting structures for one database.
type Indexes struct {
	Equality EqualityIndex
	Numeric  NumericIndex
	Tag      TagIndex
	FullText FullTextIndex
}

func NewIndexes() *Indexes {
	return &Indexes{
		Equality: make(EqualityIndex),
		Numeric:  NewNumericIndex(),
		Tag:      make(TagIndex),
		FullText: make(FullTextIndex),
	}
}

// postings holds every derived fact about one document: equality
// (path, string value) pairs, numeric (path, float value) pairs, tags, and
// full-text tokens.
type postings struct {
	equality [][2]string
	numeric  []numericPosting
	tags     []string
	tokens   []string
}

type numericPosting struct {
	path  string
	value float64
}

// compute derives every posting a live (non-deleted) head should carry. A
// tombstoned document carries none, matching the invariant that no stale
// postings survive a delete.
func compute(doc *document.Document) postings {
	var p postings
	if doc.Deleted {
		return p
	}

	visit := func(path string, leaf document.Value) {
		switch v := leaf.(type) {
		case nil:
			return
		case bool:
			p.equality = append(p.equality, [2]string{path, strconv.FormatBool(v)})
		case float64:
			p.numeric = append(p.numeric, numericPosting{path, v})
		case string:
			p.equality = append(p.equality, [2]string{path, v})
			p.tokens = append(p.tokens, Tokenize(v)...)
		}
	}

	document.WalkLeaves(doc.Data, "data", visit)
	if doc.Content != "" {
		visit("content", doc.Content)
	}
	for _, tag := range doc.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		p.tags = append(p.tags, strings.ToLower(tag))
	}
	return p
}

// Index adds every posting derived from doc's current body.
func (ix *Indexes) Index(doc *document.Document) {
	p := compute(doc)
	for _, e := range p.equality {
		ix.Equality.add(e[0], e[1], doc.ID)
	}
	for _, n := range p.numeric {
		ix.Numeric.Add(n.path, n.value, doc.ID)
	}
	for _, tag := range p.tags {
		ix.Tag.add(tag, doc.ID)
	}
	for _, tok := range p.tokens {
		ix.FullText.add(tok, doc.ID)
	}
}

// Unindex removes every posting doc's current body contributed.
func (ix *Indexes) Unindex(doc *document.Document) {
	p := compute(doc)
	for _, e := range p.equality {
		ix.Equality.remove(e[0], e[1], doc.ID)
	}
	for _, n := range p.numeric {
		ix.Numeric.Remove(n.path, n.value, doc.ID)
	}
	for _, tag := range p.tags {
		ix.Tag.remove(tag, doc.ID)
	}
	for _, tok := range p.tokens {
		ix.FullText.remove(tok, doc.ID)
	}
}

// Reindex swaps old's postings for new's: unindex(old) then index(new).
func (ix *Indexes) Reindex(old, update *document.Document) {
	if old != nil {
		ix.Unindex(old)
	}
	if update != nil {
		ix.Index(update)
	}
}
