package document

import (
	"strconv"
	"strings"

	pdberrors "github.com/kartikbazzad/peacedb/internal/errors"
)

// ParsePath splits a dotted field path such as "meta.tags[0]" into ordered
// segments: field names, and bracketed array indices like "[0]".
func ParsePath(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	var segments []string
	for _, part := range strings.Split(path, ".") {
		field := part
		var indices []string
		for {
			i := strings.IndexByte(field, '[')
			if i < 0 {
				break
			}
			j := strings.IndexByte(field, ']')
			if j < i {
				return nil, pdberrors.New("document.ParsePath", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
			}
			indices = append(indices, field[i:j+1])
			field = field[:i] + field[j+1:]
		}
		if field == "" && len(indices) == 0 {
			return nil, pdberrors.New("document.ParsePath", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
		}
		if field != "" {
			segments = append(segments, field)
		}
		segments = append(segments, indices...)
	}
	return segments, nil
}

func indexSegment(seg string) (int, bool) {
	if len(seg) >= 3 && seg[0] == '[' && seg[len(seg)-1] == ']' {
		if n, err := strconv.Atoi(seg[1 : len(seg)-1]); err == nil {
			return n, true
		}
	}
	return 0, false
}

// GetValue navigates root by segments, returning the value found there.
func GetValue(root Value, segments []string) (Value, error) {
	current := root
	for _, seg := range segments {
		if idx, ok := indexSegment(seg); ok {
			arr, ok := current.([]Value)
			if !ok {
				return nil, pdberrors.New("document.GetValue", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, pdberrors.New("document.GetValue", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
			}
			current = arr[idx]
			continue
		}
		m, ok := current.(map[string]Value)
		if !ok {
			return nil, pdberrors.New("document.GetValue", pdberrors.KindValidation, pdberrors.ErrNotAnObject)
		}
		v, exists := m[seg]
		if !exists {
			return nil, pdberrors.New("document.GetValue", pdberrors.KindNotFound, pdberrors.ErrInvalidPath)
		}
		current = v
	}
	return current, nil
}

// SetValue walks to the parent of the final segment, creating intermediate
// objects as needed, and sets the leaf value there.
func SetValue(root map[string]Value, segments []string, value Value) error {
	if len(segments) == 0 {
		return pdberrors.New("document.SetValue", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
	}
	current := root
	for i := 0; i < len(segments)-1; i++ {
		seg := segments[i]
		if _, ok := indexSegment(seg); ok {
			return pdberrors.New("document.SetValue", pdberrors.KindValidation, pdberrors.ErrNotAnObject)
		}
		next, exists := current[seg]
		if !exists {
			m := make(map[string]Value)
			current[seg] = m
			current = m
			continue
		}
		m, ok := next.(map[string]Value)
		if !ok {
			m = make(map[string]Value)
			current[seg] = m
		}
		current = m
	}
	last := segments[len(segments)-1]
	if _, ok := indexSegment(last); ok {
		return pdberrors.New("document.SetValue", pdberrors.KindValidation, pdberrors.ErrNotAnObject)
	}
	current[last] = value
	return nil
}

// DeleteValue removes the key named by the final segment from its parent
// object. Deleting an array element is not supported.
func DeleteValue(root map[string]Value, segments []string) error {
	if len(segments) == 0 {
		return pdberrors.New("document.DeleteValue", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
	}
	current := root
	for i := 0; i < len(segments)-1; i++ {
		seg := segments[i]
		next, exists := current[seg]
		if !exists {
			return pdberrors.New("document.DeleteValue", pdberrors.KindNotFound, pdberrors.ErrInvalidPath)
		}
		m, ok := next.(map[string]Value)
		if !ok {
			return pdberrors.New("document.DeleteValue", pdberrors.KindValidation, pdberrors.ErrNotAnObject)
		}
		current = m
	}
	last := segments[len(segments)-1]
	if _, ok := indexSegment(last); ok {
		return pdberrors.New("document.DeleteValue", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
	}
	if _, exists := current[last]; !exists {
		return pdberrors.New("document.DeleteValue", pdberrors.KindNotFound, pdberrors.ErrInvalidPath)
	}
	delete(current, last)
	return nil
}

// InsertValue inserts value at index inside the array named by the final
// segment.
func InsertValue(root map[string]Value, segments []string, index int, value Value) error {
	if len(segments) == 0 {
		return pdberrors.New("document.InsertValue", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
	}
	parentSegs := segments[:len(segments)-1]
	arrField := segments[len(segments)-1]
	parent, err := navigateObject(root, parentSegs)
	if err != nil {
		return err
	}
	raw, exists := parent[arrField]
	if !exists {
		raw = []Value{}
	}
	arr, ok := raw.([]Value)
	if !ok {
		return pdberrors.New("document.InsertValue", pdberrors.KindValidation, pdberrors.ErrNotAnObject)
	}
	if index < 0 || index > len(arr) {
		return pdberrors.New("document.InsertValue", pdberrors.KindValidation, pdberrors.ErrInvalidPath)
	}
	out := make([]Value, 0, len(arr)+1)
	out = append(out, arr[:index]...)
	out = append(out, value)
	out = append(out, arr[index:]...)
	parent[arrField] = out
	return nil
}

func navigateObject(root map[string]Value, segments []string) (map[string]Value, error) {
	current := root
	for _, seg := range segments {
		if _, ok := indexSegment(seg); ok {
			return nil, pdberrors.New("document.navigateObject", pdberrors.KindValidation, pdberrors.ErrNotAnObject)
		}
		next, exists := current[seg]
		if !exists {
			m := make(map[string]Value)
			current[seg] = m
			current = m
			continue
		}
		m, ok := next.(map[string]Value)
		if !ok {
			return nil, pdberrors.New("document.navigateObject", pdberrors.KindValidation, pdberrors.ErrNotAnObject)
		}
		current = m
	}
	return current, nil
}
