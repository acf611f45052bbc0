package schema

import (
	"fmt"

	"github.com/relaycrud/engine/internal/errs"
)

var allowedActions = map[Action]bool{
	ActionCreate:    true,
	ActionRead:      true,
	ActionUpdate:    true,
	ActionDelete:    true,
	ActionSubscribe: true,
}

// ValidateQuery checks the structural invariants of a Query against a
// Schema, independent of any particular model's field constraints. It does
// not sanitize field values — that is BuildModelValidator's job.
func ValidateQuery(q Query, s *Schema) error {
	if q.Type == "" {
		return &errs.CRUDInvalidModelType{Type: q.Type}
	}
	model, ok := s.Models[q.Type]
	if !ok {
		return &errs.CRUDInvalidModelType{Type: q.Type}
	}

	if !allowedActions[q.Action] {
		return &errs.CRUDInvalidOperation{Action: string(q.Action)}
	}

	if q.Field != "" {
		if q.ID == "" {
			return &errs.CRUDInvalidParams{Message: "field requires an id"}
		}
		if q.Action == ActionUpdate && q.Field == "id" {
			return &errs.CRUDInvalidParams{Message: "field \"id\" cannot be updated"}
		}
	}

	if q.View != "" {
		view, ok := model.Views[q.View]
		if !ok {
			return &errs.CRUDInvalidParams{Message: fmt.Sprintf("undeclared view %q on model %q", q.View, q.Type)}
		}
		required := view.PrimaryFields
		if len(required) == 0 {
			required = view.ParamFields
		}
		for _, field := range required {
			if q.ViewParams == nil {
				return &errs.CRUDInvalidParams{Message: fmt.Sprintf("view %q requires viewParams.%s", q.View, field)}
			}
			value, present := q.ViewParams[field]
			if !present || value == nil {
				return &errs.CRUDInvalidParams{Message: fmt.Sprintf("view %q requires viewParams.%s", q.View, field)}
			}
		}
	}

	return nil
}
