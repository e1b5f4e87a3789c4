// Package targetquery compiles target filter queries into GORM scopes over
// the targets table.
package targetquery

import (
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/orris-inc/rolloutd/internal/domain/targetfilter"
	"github.com/orris-inc/rolloutd/internal/shared/constants"
)

var columns = map[targetfilter.Field]string{
	targetfilter.FieldControllerID: "controller_id",
	targetfilter.FieldName:         "name",
	targetfilter.FieldUpdateStatus: "update_status",
	targetfilter.FieldAssignedDS:   "assigned_distribution_set_id",
	targetfilter.FieldInstalledDS:  "installed_distribution_set_id",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Compile parses raw and returns a scope restricting a targets query to matches.
func Compile(raw string) (func(*gorm.DB) *gorm.DB, error) {
	q, err := targetfilter.ParseQuery(raw)
	if err != nil {
		return nil, err
	}
	clause, args, err := Build(q)
	if err != nil {
		return nil, err
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause, args...)
	}, nil
}

// Build renders q as a parenthesised SQL condition with positional arguments.
func Build(q targetfilter.Query) (string, []any, error) {
	var (
		alternatives []string
		args         []any
	)
	for _, all := range q.Any {
		parts := make([]string, 0, len(all))
		for _, term := range all {
			sql, termArgs, err := buildTerm(term)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			args = append(args, termArgs...)
		}
		alternatives = append(alternatives, "("+strings.Join(parts, " AND ")+")")
	}
	if len(alternatives) == 0 {
		return "", nil, fmt.Errorf("%w: empty query", targetfilter.ErrInvalidQuery)
	}
	return "(" + strings.Join(alternatives, " OR ") + ")", args, nil
}

func buildTerm(t targetfilter.Term) (string, []any, error) {
	column, ok := columns[t.Field]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown field %q", targetfilter.ErrInvalidQuery, t.Field)
	}
	column = constants.TableTargets + "." + column

	switch t.Field {
	case targetfilter.FieldAssignedDS, targetfilter.FieldInstalledDS:
		id, err := strconv.ParseUint(t.Value, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s expects a numeric id", targetfilter.ErrInvalidQuery, t.Field)
		}
		if t.Op == targetfilter.OpNotEqual {
			return fmt.Sprintf("(%s IS NULL OR %s <> ?)", column, column), []any{id}, nil
		}
		return column + " = ?", []any{id}, nil
	}

	if t.HasWildcard() {
		pattern := strings.ReplaceAll(likeEscaper.Replace(t.Value), "*", "%")
		if t.Op == targetfilter.OpNotEqual {
			return column + ` NOT LIKE ? ESCAPE '\'`, []any{pattern}, nil
		}
		return column + ` LIKE ? ESCAPE '\'`, []any{pattern}, nil
	}
	if t.Op == targetfilter.OpNotEqual {
		return column + " <> ?", []any{t.Value}, nil
	}
	return column + " = ?", []any{t.Value}, nil
}
