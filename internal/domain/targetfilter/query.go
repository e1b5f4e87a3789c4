package targetfilter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/orris-inc/rolloutd/internal/domain/target"
)

var ErrInvalidQuery = errors.New("invalid target filter query")

// Field is a filterable target attribute.
type Field string

const (
	FieldControllerID Field = "controllerid"
	FieldName         Field = "name"
	FieldUpdateStatus Field = "updatestatus"
	FieldAssignedDS   Field = "assignedds"
	FieldInstalledDS  Field = "installedds"
)

var validFields = map[Field]bool{
	FieldControllerID: true,
	FieldName:         true,
	FieldUpdateStatus: true,
	FieldAssignedDS:   true,
	FieldInstalledDS:  true,
}

// Operator compares a field with a value.
type Operator string

const (
	OpEqual    Operator = "=="
	OpNotEqual Operator = "!="
)

// Term is one comparison. A '*' in Value of a text field matches any run of characters.
type Term struct {
	Field Field
	Op    Operator
	Value string
}

// HasWildcard reports whether the term is a pattern match.
func (t Term) HasWildcard() bool {
	return strings.Contains(t.Value, "*")
}

// Query is a disjunction of conjunctions: ',' separates alternatives and
// ';' joins terms that must all hold.
type Query struct {
	Any [][]Term
}

// ParseQuery parses a filter such as "controllerid==dev-*;updatestatus!=error,name==gw".
func ParseQuery(raw string) (Query, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Query{}, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	var q Query
	for _, alt := range strings.Split(raw, ",") {
		var all []Term
		for _, part := range strings.Split(alt, ";") {
			term, err := parseTerm(strings.TrimSpace(part))
			if err != nil {
				return Query{}, err
			}
			all = append(all, term)
		}
		q.Any = append(q.Any, all)
	}
	return q, nil
}

func parseTerm(s string) (Term, error) {
	if s == "" {
		return Term{}, fmt.Errorf("%w: empty term", ErrInvalidQuery)
	}
	op := OpEqual
	idx := strings.Index(s, string(OpEqual))
	if ne := strings.Index(s, string(OpNotEqual)); ne >= 0 && (idx < 0 || ne < idx) {
		op, idx = OpNotEqual, ne
	}
	if idx <= 0 {
		return Term{}, fmt.Errorf("%w: %q has no comparison", ErrInvalidQuery, s)
	}
	field := Field(strings.ToLower(strings.TrimSpace(s[:idx])))
	value := strings.TrimSpace(s[idx+len(op):])
	if !validFields[field] {
		return Term{}, fmt.Errorf("%w: unknown field %q", ErrInvalidQuery, field)
	}
	if value == "" {
		return Term{}, fmt.Errorf("%w: %q has no value", ErrInvalidQuery, s)
	}

	switch field {
	case FieldUpdateStatus:
		if !target.ValidUpdateStatuses[target.UpdateStatus(strings.ToLower(value))] {
			return Term{}, fmt.Errorf("%w: unknown update status %q", ErrInvalidQuery, value)
		}
		value = strings.ToLower(value)
	case FieldAssignedDS, FieldInstalledDS:
		if _, err := strconv.ParseUint(value, 10, 64); err != nil {
			return Term{}, fmt.Errorf("%w: %s expects a numeric id", ErrInvalidQuery, field)
		}
	}
	return Term{Field: field, Op: op, Value: value}, nil
}
