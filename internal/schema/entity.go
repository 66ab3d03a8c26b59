package schema

import "strings"

// Entity описывает одну таблицу записей, доступную через шлюз.
type Entity struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Aliases     []string        `yaml:"aliases,omitempty" json:"aliases,omitempty"` // например, старый числовой hlBlockId
	Fields      []Field         `yaml:"fields" json:"fields"`
	Permissions map[string]bool `yaml:"permissions" json:"permissions"`

	// Filters: имя параметра запроса -> код поля (равенство), например companyId -> UF_COMPANY_ID
	Filters map[string]string `yaml:"filters,omitempty" json:"filters,omitempty"`

	DateRange         *DateRange                  `yaml:"date_range,omitempty" json:"dateRange,omitempty"`
	FieldRestrictions map[string]FieldRestriction `yaml:"field_restrictions,omitempty" json:"-"`

	// SessionAccess — сущность доступна сессионным пользователям ("session-default")
	SessionAccess bool `yaml:"session_access" json:"sessionAccess"`

	index map[string]int
}

// Field — определение поля сущности.
type Field struct {
	Code        string      `yaml:"code" json:"code"`
	Label       string      `yaml:"label,omitempty" json:"label,omitempty"`
	Type        FieldType   `yaml:"type" json:"type"`
	Required    bool        `yaml:"required" json:"required"`
	Constraints Constraints `yaml:"constraints,omitempty" json:"constraints"`
}

type Constraints struct {
	MaxLength int    `yaml:"max_length,omitempty" json:"maxLength,omitempty"`
	Min       *int64 `yaml:"min,omitempty" json:"min,omitempty"`
	Currency  string `yaml:"currency,omitempty" json:"currency,omitempty"`

	// foreign_reference: префикс токена ("CO" для "CO_123") и вид справочника
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Kind   string `yaml:"kind,omitempty" json:"kind,omitempty"`

	// block_ref: целевая сущность
	Target string `yaml:"target,omitempty" json:"target,omitempty"`

	// file_ref: допустимые расширения (по умолчанию pdf)
	Extensions []string `yaml:"extensions,omitempty" json:"extensions,omitempty"`

	// money_minor: как трактовать целое без точки — minor (по умолчанию) или major
	IntegerInput string `yaml:"integer_input,omitempty" json:"integerInput,omitempty"`
}

// DateRange — пара полей, где конец строго позже начала.
type DateRange struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// FieldRestriction ограничивает запись поля группами пользователя (только для сессий).
type FieldRestriction struct {
	RequiredGroups []int `yaml:"required_groups,omitempty"`
	DeniedGroups   []int `yaml:"denied_groups,omitempty"`
}

// Field возвращает определение поля по коду.
func (e *Entity) Field(code string) (*Field, bool) {
	if e.index == nil {
		e.buildIndex()
	}
	i, ok := e.index[code]
	if !ok {
		return nil, false
	}
	return &e.Fields[i], true
}

func (e *Entity) buildIndex() {
	e.index = make(map[string]int, len(e.Fields))
	for i, f := range e.Fields {
		e.index[f.Code] = i
	}
}

// Allows — включено ли право в матрице сущности; отсутствующий ключ = запрещено.
func (e *Entity) Allows(perm string) bool {
	return e.Permissions[perm]
}

// Codes возвращает коды полей в порядке объявления.
func (e *Entity) Codes() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f.Code)
	}
	return out
}

// AllowedExtensions для file_ref; пусто в конфиге => только pdf.
func (c Constraints) AllowedExtensions() []string {
	if len(c.Extensions) == 0 {
		return []string{"pdf"}
	}
	out := make([]string, 0, len(c.Extensions))
	for _, x := range c.Extensions {
		out = append(out, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(x), ".")))
	}
	return out
}

// CurrencyCode — код валюты поля, по умолчанию RUB.
func (c Constraints) CurrencyCode() string {
	if c.Currency == "" {
		return "RUB"
	}
	return strings.ToUpper(c.Currency)
}

// MajorIntegers — целое без точки трактуется как основные единицы.
func (c Constraints) MajorIntegers() bool {
	return strings.EqualFold(c.IntegerInput, IntegerInputMajor)
}
