package mailer

import (
	"fmt"
	"strings"
)

// RecipientFilter is the campaign's targeting predicate: a versioned list of
// named clauses ANDed together, stored as JSON on the campaign row and
// compiled to a WHERE fragment at schedule time. Suppression-list and
// stop-flag checks are applied by the store on top of it.
type RecipientFilter struct {
	Version int            `json:"version"`
	Clauses []FilterClause `json:"clauses,omitempty"`
}

type FilterClause struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// filterFields whitelists recipient columns a clause may reference.
var filterFields = map[string]bool{
	"email":      true,
	"lang":       true,
	"country":    true,
	"source":     true,
	"confirmed":  true,
	"signup_at":  true,
	"last_visit": true,
}

var filterOps = map[string]string{
	"eq":  "=",
	"neq": "<>",
	"gte": ">=",
	"lte": "<=",
	"in":  "IN",
}

// WhereClause compiles the filter into a SQL fragment over alias r, with
// placeholders numbered from argIndex. An empty filter yields an empty
// fragment.
func (f RecipientFilter) WhereClause(argIndex int) (string, []any, error) {
	if len(f.Clauses) == 0 {
		return "", nil, nil
	}

	var (
		conds []string
		args  []any
	)
	for _, cl := range f.Clauses {
		if !filterFields[cl.Field] {
			return "", nil, fmt.Errorf("filter: unknown field %q", cl.Field)
		}
		op, ok := filterOps[cl.Op]
		if !ok {
			return "", nil, fmt.Errorf("filter: unknown op %q", cl.Op)
		}

		if cl.Op == "in" {
			vals, ok := cl.Value.([]any)
			if !ok || len(vals) == 0 {
				return "", nil, fmt.Errorf("filter: op in requires a non-empty list for %q", cl.Field)
			}
			ph := make([]string, len(vals))
			for i, v := range vals {
				ph[i] = fmt.Sprintf("$%d", argIndex)
				argIndex++
				args = append(args, v)
			}
			conds = append(conds, fmt.Sprintf("r.%s IN (%s)", cl.Field, strings.Join(ph, ",")))
			continue
		}

		conds = append(conds, fmt.Sprintf("r.%s %s $%d", cl.Field, op, argIndex))
		argIndex++
		args = append(args, cl.Value)
	}

	return strings.Join(conds, " AND "), args, nil
}
