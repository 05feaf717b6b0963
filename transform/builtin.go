package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360/dataflow/errors"
	"github.com/c360/dataflow/value"
)

// Map re-shapes values via field extraction and renaming. Array input is
// mapped per element; object input is re-shaped once.
type Map struct {
	fields map[string]string // from -> to
}

// NewMap creates a map transform from a from->to field mapping
func NewMap(fields map[string]string) (*Map, error) {
	if len(fields) == 0 {
		return nil, errors.WrapInvalid(
			errors.ErrMissingConfig, "Map", "NewMap", "field mapping required")
	}
	copied := make(map[string]string, len(fields))
	for from, to := range fields {
		if to == "" {
			to = from
		}
		copied[from] = to
	}
	return &Map{fields: copied}, nil
}

// Name implements Transform
func (m *Map) Name() string { return "map" }

// Apply implements Transform
func (m *Map) Apply(v any) (any, error) {
	switch tv := v.(type) {
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			mapped, err := m.applyOne(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = mapped
		}
		return out, nil
	default:
		return m.applyOne(v)
	}
}

func (m *Map) applyOne(v any) (any, error) {
	out := make(map[string]any, len(m.fields))
	for from, to := range m.fields {
		fv, ok := value.Field(v, from)
		if !ok {
			return nil, fmt.Errorf("field %q: %w", from, errors.ErrMissingField)
		}
		out[to] = fv
	}
	return out, nil
}

// Filter retains array elements whose named field satisfies the
// comparison. Non-array input is an invalid-type error.
type Filter struct {
	field    string
	operator string
	operand  any
}

// Filter comparison operators
var filterOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "lt": true,
	"gte": true, "lte": true, "contains": true,
}

// NewFilter creates a filter transform
func NewFilter(field, operator string, operand any) (*Filter, error) {
	if field == "" {
		return nil, errors.WrapInvalid(
			errors.ErrMissingConfig, "Filter", "NewFilter", "field required")
	}
	if !filterOperators[operator] {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown operator %q: %w", operator, errors.ErrInvalidConfig),
			"Filter", "NewFilter", "validate operator")
	}
	return &Filter{field: field, operator: operator, operand: operand}, nil
}

// Name implements Transform
func (f *Filter) Name() string { return "filter" }

// Apply implements Transform
func (f *Filter) Apply(v any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("filter requires array input, got %T: %w", v, errors.ErrInvalidType)
	}

	out := make([]any, 0, len(arr))
	for _, elem := range arr {
		if f.matches(elem) {
			out = append(out, elem)
		}
	}
	return out, nil
}

func (f *Filter) matches(elem any) bool {
	fv, ok := value.Field(elem, f.field)
	if !ok {
		return false
	}

	switch f.operator {
	case "eq":
		return value.Compare(fv, f.operand) == 0
	case "neq":
		return value.Compare(fv, f.operand) != 0
	case "gt":
		return value.Compare(fv, f.operand) > 0
	case "gte":
		return value.Compare(fv, f.operand) >= 0
	case "lt":
		return value.Compare(fv, f.operand) < 0
	case "lte":
		return value.Compare(fv, f.operand) <= 0
	case "contains":
		return strings.Contains(fmt.Sprint(fv), fmt.Sprint(f.operand))
	default:
		return false
	}
}

// Select projects to a fixed field list: per element for arrays, once for
// objects. Absent fields are omitted rather than erroring, which makes
// re-selecting the same fields a no-op.
type Select struct {
	fields []string
}

// NewSelect creates a select transform
func NewSelect(fields []string) (*Select, error) {
	if len(fields) == 0 {
		return nil, errors.WrapInvalid(
			errors.ErrMissingConfig, "Select", "NewSelect", "field list required")
	}
	copied := make([]string, len(fields))
	copy(copied, fields)
	return &Select{fields: copied}, nil
}

// Name implements Transform
func (s *Select) Name() string { return "select" }

// Apply implements Transform
func (s *Select) Apply(v any) (any, error) {
	switch tv := v.(type) {
	case []any:
		out := make([]any, len(tv))
		for i, elem := range tv {
			projected, err := s.applyOne(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = projected
		}
		return out, nil
	default:
		return s.applyOne(v)
	}
}

func (s *Select) applyOne(v any) (any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("select requires object input, got %T: %w", v, errors.ErrInvalidType)
	}

	out := make(map[string]any, len(s.fields))
	for _, field := range s.fields {
		if fv, ok := obj[field]; ok {
			out[field] = fv
		}
	}
	return out, nil
}

// Sort stably sorts an array by a named field. Elements missing the field
// order as the minimal value: first ascending, last descending.
type Sort struct {
	field      string
	descending bool
}

// NewSort creates a sort transform
func NewSort(field string, descending bool) (*Sort, error) {
	if field == "" {
		return nil, errors.WrapInvalid(
			errors.ErrMissingConfig, "Sort", "NewSort", "field required")
	}
	return &Sort{field: field, descending: descending}, nil
}

// Name implements Transform
func (s *Sort) Name() string { return "sort" }

// Apply implements Transform
func (s *Sort) Apply(v any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("sort requires array input, got %T: %w", v, errors.ErrInvalidType)
	}

	out := make([]any, len(arr))
	copy(out, arr)

	sort.SliceStable(out, func(i, j int) bool {
		if s.descending {
			return s.less(out[j], out[i])
		}
		return s.less(out[i], out[j])
	})
	return out, nil
}

func (s *Sort) less(a, b any) bool {
	av, aok := value.Field(a, s.field)
	bv, bok := value.Field(b, s.field)

	// Absent field sorts as the minimal value
	if !aok {
		return bok
	}
	if !bok {
		return false
	}
	return value.Compare(av, bv) < 0
}

// Take truncates an array to its first N elements
type Take struct {
	count int
}

// NewTake creates a take transform; negative counts are invalid
func NewTake(count int) (*Take, error) {
	if count < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("take(%d): %w", count, errors.ErrNegativeCount),
			"Take", "NewTake", "validate count")
	}
	return &Take{count: count}, nil
}

// Name implements Transform
func (t *Take) Name() string { return "take" }

// Apply implements Transform
func (t *Take) Apply(v any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("take requires array input, got %T: %w", v, errors.ErrInvalidType)
	}
	if t.count >= len(arr) {
		return arr, nil
	}
	out := make([]any, t.count)
	copy(out, arr[:t.count])
	return out, nil
}

// Skip drops the first N elements of an array
type Skip struct {
	count int
}

// NewSkip creates a skip transform; negative counts are invalid
func NewSkip(count int) (*Skip, error) {
	if count < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("skip(%d): %w", count, errors.ErrNegativeCount),
			"Skip", "NewSkip", "validate count")
	}
	return &Skip{count: count}, nil
}

// Name implements Transform
func (s *Skip) Name() string { return "skip" }

// Apply implements Transform
func (s *Skip) Apply(v any) (any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("skip requires array input, got %T: %w", v, errors.ErrInvalidType)
	}
	if s.count >= len(arr) {
		return []any{}, nil
	}
	out := make([]any, len(arr)-s.count)
	copy(out, arr[s.count:])
	return out, nil
}
