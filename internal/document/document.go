// Package document defines PeaceDatabase's document model: the tagged
// value type stored under each document's data field, canonical
// serialization for revision hashing, and soft-delete semantics.
package document

import "github.com/google/uuid"

// Value is a JSON-like tagged variant: nil, bool, float64, string, []Value,
// or map[string]Value. It is an alias for any because encoding/json already
// decodes into exactly this shape, and already serializes map keys in
// sorted order — which is the canonicalization this package needs.
type Value = any

// NewID generates an id for a Post with no caller-supplied id, a random
// UUID rather than anything derived from document content.
func NewID() string {
	return uuid.NewString()
}

// Document is one revisioned, taggable, soft-deletable value.
type Document struct {
	ID      string           `json:"id"`
	Rev     string           `json:"rev,omitempty"`
	Deleted bool             `json:"deleted,omitempty"`
	Data    map[string]Value `json:"data,omitempty"`
	Tags    []string         `json:"tags,omitempty"`
	Content string           `json:"content,omitempty"`
}

// Clone returns a copy with its own Data map and Tags slice, so adding,
// replacing or removing a top-level Data key does not touch the original.
// Nested maps and slices inside Data are shared with the original, not
// copied.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		ID:      d.ID,
		Rev:     d.Rev,
		Deleted: d.Deleted,
		Content: d.Content,
	}
	if d.Data != nil {
		out.Data = make(map[string]Value, len(d.Data))
		for k, v := range d.Data {
			out.Data[k] = v
		}
	}
	if d.Tags != nil {
		out.Tags = append([]string(nil), d.Tags...)
	}
	return out
}

// Tombstone marks the document deleted in place, leaving its last body
// intact so AllDocs(includeDeleted=true) can still surface it.
func (d *Document) Tombstone() {
	d.Deleted = true
}
