package schema

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType — тип поля сущности. Строковое имя из каталога разбирается
// один раз при загрузке, дальше везде используется enum.
type FieldType int

const (
	TypeUnknown FieldType = iota
	TypeString
	TypeInteger
	TypeBoolean
	TypeDate
	TypeDateTime
	TypeMoney
	TypeMoneyMinor
	TypeForeignReference
	TypeFileRef
	TypeEmployeeRef
	TypeBlockRef
)

var typeNames = [...]string{
	TypeUnknown:          "unknown",
	TypeString:           "string",
	TypeInteger:          "integer",
	TypeBoolean:          "boolean",
	TypeDate:             "date",
	TypeDateTime:         "datetime",
	TypeMoney:            "money",
	TypeMoneyMinor:       "money_minor",
	TypeForeignReference: "foreign_reference",
	TypeFileRef:          "file_ref",
	TypeEmployeeRef:      "employee_ref",
	TypeBlockRef:         "block_ref",
}

// синонимы из старых конфигов (crm_company, file_pdf, hlblock, employee)
var typeAliases = map[string]FieldType{
	"str":         TypeString,
	"int":         TypeInteger,
	"bool":        TypeBoolean,
	"crm_company": TypeForeignReference,
	"crm":         TypeForeignReference,
	"file":        TypeFileRef,
	"file_pdf":    TypeFileRef,
	"employee":    TypeEmployeeRef,
	"hlblock":     TypeBlockRef,
}

func (t FieldType) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return typeNames[TypeUnknown]
	}
	return typeNames[t]
}

// ParseFieldType разбирает имя типа (регистронезависимо, с учётом синонимов).
func ParseFieldType(s string) (FieldType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range typeNames {
		if i > 0 && n == name {
			return FieldType(i), nil
		}
	}
	if t, ok := typeAliases[name]; ok {
		return t, nil
	}
	return TypeUnknown, fmt.Errorf("unknown field type %q", s)
}

// IsReference — поле хранит числовой id другой сущности.
func (t FieldType) IsReference() bool {
	return t == TypeForeignReference || t == TypeEmployeeRef || t == TypeBlockRef
}

func (t FieldType) IsDate() bool { return t == TypeDate || t == TypeDateTime }

func (t FieldType) IsMoney() bool { return t == TypeMoney || t == TypeMoneyMinor }

func (t FieldType) MarshalYAML() (any, error) { return t.String(), nil }

func (t *FieldType) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = parsed
	return nil
}

func (t FieldType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Ключи матрицы прав сущности.
const (
	PermRead   = "read"
	PermAdd    = "add"
	PermUpdate = "update"
	PermDelete = "delete"
	PermBatch  = "batch"
)

var knownPerms = map[string]struct{}{
	PermRead: {}, PermAdd: {}, PermUpdate: {}, PermDelete: {}, PermBatch: {},
}

// Режимы интерпретации целого числа без точки для money_minor.
const (
	IntegerInputMinor = "minor"
	IntegerInputMajor = "major"
)
