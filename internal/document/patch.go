package document

import (
	"encoding/json"

	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
)

// DeepClone returns a fully independent copy of d, nested values included.
// Clone shares nested maps with the original; callers that will mutate
// Data in place (ApplyPatch) need this instead.
func (d *Document) DeepClone() *Document {
	b, err := json.Marshal(d)
	if err != nil {
		panic("document: deep clone: " + err.Error())
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		panic("document: deep clone: " + err.Error())
	}
	return &out
}

// PatchOp is one step of a partial update, addressed by a dotted field
// path into a document's data.
type PatchOp struct {
	Op    string // "set" | "delete" | "insert"
	Path  string
	Value Value `json:"value,omitempty"`
	Index int    `json:"index,omitempty"` // for "insert"
}

// ApplyPatch applies ops in order against doc.Data, creating Data if nil.
// It mutates doc in place; callers own revisioning (ApplyPatch does not
// touch Rev).
func ApplyPatch(doc *Document, ops []PatchOp) error {
	if doc.Data == nil {
		doc.Data = make(map[string]Value)
	}
	for _, op := range ops {
		segments, err := ParsePath(op.Path)
		if err != nil {
			return err
		}
		switch op.Op {
		case "set":
			if err := SetValue(doc.Data, segments, op.Value); err != nil {
				return err
			}
		case "delete":
			if err := DeleteValue(doc.Data, segments); err != nil {
				return err
			}
		case "insert":
			if err := InsertValue(doc.Data, segments, op.Index, op.Value); err != nil {
				return err
			}
		default:
			return pdberrors.New("document.ApplyPatch", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
		}
	}
	return nil
}
