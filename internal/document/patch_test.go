package document

import "testing"

func TestApplyPatchSetCreatesIntermediateObjects(t *testing.T) {
	doc := &Document{ID: "x"}
	err := ApplyPatch(doc, []PatchOp{{Op: "set", Path: "meta.owner", Value: "alice"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta, ok := doc.Data["meta"].(map[string]Value)
	if !ok {
		t.Fatalf("expected meta object, got %#v", doc.Data["meta"])
	}
	if meta["owner"] != "alice" {
		t.Fatalf("expected owner=alice, got %#v", meta["owner"])
	}
}

func TestApplyPatchDelete(t *testing.T) {
	doc := &Document{ID: "x", Data: map[string]Value{"a": float64(1), "b": float64(2)}}
	if err := ApplyPatch(doc, []PatchOp{{Op: "delete", Path: "a"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, exists := doc.Data["a"]; exists {
		t.Fatalf("expected a to be deleted")
	}
	if doc.Data["b"] != float64(2) {
		t.Fatalf("expected b to survive, got %#v", doc.Data["b"])
	}
}

func TestApplyPatchInsertIntoArray(t *testing.T) {
	doc := &Document{ID: "x", Data: map[string]Value{"items": []Value{"a", "c"}}}
	err := ApplyPatch(doc, []PatchOp{{Op: "insert", Path: "items", Index: 1, Value: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	arr, ok := doc.Data["items"].([]Value)
	if !ok || len(arr) != 3 {
		t.Fatalf("expected 3-element array, got %#v", doc.Data["items"])
	}
	if arr[0] != "a" || arr[1] != "b" || arr[2] != "c" {
		t.Fatalf("unexpected array contents: %#v", arr)
	}
}

func TestGetValueThroughArrayIndex(t *testing.T) {
	root := map[string]Value{
		"meta": map[string]Value{
			"tags": []Value{"x", "y"},
		},
	}
	segs, err := ParsePath("meta.tags[1]")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	v, err := GetValue(Value(root), segs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "y" {
		t.Fatalf("expected y, got %#v", v)
	}
}
