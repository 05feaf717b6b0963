// Package value provides helpers for the dynamic value trees stored in the
// repository: nested get/set/delete addressed by path segments, merge and
// append semantics, deep equality, and the field access and numeric
// comparison used by transforms and trigger conditions.
//
// Trees are the usual decoded-JSON shapes: map[string]any for objects,
// []any for arrays, and scalars elsewhere.
package value

import (
	"fmt"
	"reflect"

	"github.com/c360/dataflow/datapath"
	"github.com/c360/dataflow/errors"
)

// Get walks the segments into the tree and returns the value found.
// Returns false if any segment is absent or addresses the wrong shape.
func Get(tree any, segments []datapath.Segment) (any, bool) {
	current := tree
	for _, seg := range segments {
		switch seg.Kind {
		case datapath.SegmentName:
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = obj[seg.Name]
			if !ok {
				return nil, false
			}
		case datapath.SegmentIndex:
			arr, ok := current.([]any)
			if !ok || seg.Index >= len(arr) {
				return nil, false
			}
			current = arr[seg.Index]
		default:
			// Wildcards address subscriber routing, not storage
			return nil, false
		}
	}
	return current, true
}

// Set writes v at the segment tail, creating intermediate objects as
// needed, and returns the (possibly replaced) root of the tree.
func Set(tree any, segments []datapath.Segment, v any) (any, error) {
	if len(segments) == 0 {
		return v, nil
	}

	seg := segments[0]
	switch seg.Kind {
	case datapath.SegmentName:
		obj, ok := tree.(map[string]any)
		if !ok {
			// Writing through a non-object replaces that subtree
			obj = make(map[string]any)
		}
		child, err := Set(obj[seg.Name], segments[1:], v)
		if err != nil {
			return nil, err
		}
		obj[seg.Name] = child
		return obj, nil

	case datapath.SegmentIndex:
		arr, ok := tree.([]any)
		if !ok {
			arr = make([]any, 0, seg.Index+1)
		}
		for len(arr) <= seg.Index {
			arr = append(arr, nil)
		}
		child, err := Set(arr[seg.Index], segments[1:], v)
		if err != nil {
			return nil, err
		}
		arr[seg.Index] = child
		return arr, nil

	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("cannot write through wildcard: %w", errors.ErrInvalidPath),
			"value", "Set", "resolve segment")
	}
}

// Delete removes the value at the segment tail and returns the removed
// value. The bool is false when nothing was present.
func Delete(tree any, segments []datapath.Segment) (any, bool) {
	if len(segments) == 0 {
		return nil, false
	}

	parent, ok := Get(tree, segments[:len(segments)-1])
	if !ok {
		return nil, false
	}

	last := segments[len(segments)-1]
	switch last.Kind {
	case datapath.SegmentName:
		obj, ok := parent.(map[string]any)
		if !ok {
			return nil, false
		}
		removed, ok := obj[last.Name]
		if !ok {
			return nil, false
		}
		delete(obj, last.Name)
		return removed, true
	default:
		// Array element and wildcard deletes are not supported; the
		// repository rejects them before reaching here
		return nil, false
	}
}

// Merge recursively merges src into dst for Partial updates. Object keys
// merge; everything else in src replaces the corresponding dst value.
func Merge(dst, src any) any {
	dstObj, dstOK := dst.(map[string]any)
	srcObj, srcOK := src.(map[string]any)
	if !dstOK || !srcOK {
		return src
	}
	for k, sv := range srcObj {
		if dv, ok := dstObj[k]; ok {
			dstObj[k] = Merge(dv, sv)
		} else {
			dstObj[k] = sv
		}
	}
	return dstObj
}

// Append appends v to the array at dst. A nil dst starts a new array; a
// non-array dst is an error.
func Append(dst, v any) (any, error) {
	switch arr := dst.(type) {
	case nil:
		return []any{v}, nil
	case []any:
		return append(arr, v), nil
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("append to %T: %w", dst, errors.ErrInvalidType),
			"value", "Append", "check target type")
	}
}

// Equal reports deep equality of two value trees
func Equal(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Clone deep-copies a value tree so readers never share containers with
// the store.
func Clone(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, cv := range tv {
			out[k] = Clone(cv)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, cv := range tv {
			out[i] = Clone(cv)
		}
		return out
	default:
		return v
	}
}

// Field retrieves a field from an object value using dot notation for
// nested fields (e.g. "position.lat").
func Field(v any, field string) (any, bool) {
	current := v
	start := 0
	for i := 0; i <= len(field); i++ {
		if i == len(field) || field[i] == '.' {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = obj[field[start:i]]
			if !ok {
				return nil, false
			}
			start = i + 1
		}
	}
	return current, true
}

// AsFloat converts numeric values to float64 for comparison. The bool is
// false for non-numeric input.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Compare orders two values: numerically when both are numeric, otherwise
// by string form. Returns -1, 0, or 1.
func Compare(a, b any) int {
	af, aok := AsFloat(a)
	bf, bok := AsFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as := fmt.Sprint(a)
	bs := fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
