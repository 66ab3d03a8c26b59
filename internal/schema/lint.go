package schema

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

type Issue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LintError — каталог содержит блокирующие противоречия.
type LintError struct {
	Issues []Issue
}

func (e *LintError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, it := range e.Issues {
		if it.Field != "" {
			parts = append(parts, fmt.Sprintf("%s.%s: %s", it.Entity, it.Field, it.Message))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", it.Entity, it.Message))
		}
	}
	return "schema: " + strings.Join(parts, "; ")
}

// Lint проверяет базовые противоречия в каталоге.
func (r *Registry) Lint() []Issue {
	var issues []Issue
	add := func(ent, field, code, msg string) {
		issues = append(issues, Issue{Entity: ent, Field: field, Code: code, Message: msg})
	}

	for _, e := range r.order {
		if e.ID == "" {
			add("?", "", "entity_id_empty", "entity id is empty")
			continue
		}
		seen := map[string]struct{}{}
		for _, f := range e.Fields {
			if f.Code == "" {
				add(e.ID, "", "field_code_empty", "field code is empty")
				continue
			}
			if strings.EqualFold(f.Code, "ID") {
				add(e.ID, f.Code, "field_code_reserved", "ID is a system field")
			}
			if _, dup := seen[f.Code]; dup {
				add(e.ID, f.Code, "field_duplicate", "duplicate field code")
			}
			seen[f.Code] = struct{}{}

			switch f.Type {
			case TypeUnknown:
				add(e.ID, f.Code, "type_unknown", "field type is not set")
			case TypeMoney, TypeMoneyMinor:
				if _, err := currency.ParseISO(f.Constraints.CurrencyCode()); err != nil {
					add(e.ID, f.Code, "currency_unknown", fmt.Sprintf("unknown currency %q", f.Constraints.Currency))
				}
				if ii := f.Constraints.IntegerInput; ii != "" && ii != IntegerInputMinor && ii != IntegerInputMajor {
					add(e.ID, f.Code, "integer_input_unknown", fmt.Sprintf("integer_input must be minor|major, got %q", ii))
				}
			case TypeForeignReference:
				if strings.TrimSpace(f.Constraints.Kind) == "" {
					add(e.ID, f.Code, "ref_kind_empty", "foreign_reference needs constraints.kind")
				}
			case TypeBlockRef:
				tgt := strings.TrimSpace(f.Constraints.Target)
				if tgt == "" {
					add(e.ID, f.Code, "ref_target_empty", "block_ref needs constraints.target")
				} else if _, err := r.Get(tgt); err != nil {
					add(e.ID, f.Code, "ref_target_unknown", fmt.Sprintf("block_ref target %q is not registered", tgt))
				}
			}
			if f.Constraints.MaxLength < 0 {
				add(e.ID, f.Code, "max_length_negative", "max_length must be >= 0")
			}
		}

		for perm := range e.Permissions {
			if _, ok := knownPerms[perm]; !ok {
				add(e.ID, "", "permission_unknown", fmt.Sprintf("unknown permission %q", perm))
			}
		}
		for param, code := range e.Filters {
			if _, ok := e.Field(code); !ok {
				add(e.ID, code, "filter_field_unknown", fmt.Sprintf("filter %q points to unknown field", param))
			}
		}
		if dr := e.DateRange; dr != nil {
			for _, code := range []string{dr.Start, dr.End} {
				f, ok := e.Field(code)
				if !ok {
					add(e.ID, code, "date_range_field_unknown", "date_range field is not declared")
					continue
				}
				if !f.Type.IsDate() {
					add(e.ID, code, "date_range_field_type", "date_range field must be date or datetime")
				}
			}
		}
		for code := range e.FieldRestrictions {
			if _, ok := e.Field(code); !ok {
				add(e.ID, code, "restriction_field_unknown", "field restriction for undeclared field")
			}
		}
	}
	return issues
}
