package pg

import (
	"fmt"
	"slices"
	"strings"

	"hlgate/internal/codec"
	"hlgate/internal/schema"
)

const DefaultSchema = "hlgate"

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// safeTable: id сущности -> имя таблицы; алиасы вроде "5" в имени не участвуют.
func safeTable(entityID string) string {
	t := strings.ToLower(strings.TrimSpace(entityID))
	t = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			return r
		}
		return '_'
	}, t)
	if isReserved(t) || t == "" || t[0] >= '0' && t[0] <= '9' {
		// помечаем «опасное» имя префиксом
		t = "e_" + t
	}
	return t
}

func sqlIdent(s string) string { return `"` + strings.ToLower(s) + `"` }

func column(code string) string { return sqlIdent(code) }

func mapType(f schema.Field) (string, error) {
	switch f.Type {
	case schema.TypeString:
		if n := f.Constraints.MaxLength; n > 0 {
			return fmt.Sprintf("varchar(%d)", n), nil
		}
		return "text", nil
	case schema.TypeInteger:
		return "bigint", nil
	case schema.TypeBoolean:
		return "boolean", nil
	case schema.TypeDate:
		return "date", nil
	case schema.TypeDateTime:
		return "timestamp with time zone", nil
	case schema.TypeMoney:
		return fmt.Sprintf("numeric(20,%d)", codec.Scale(f.Constraints.CurrencyCode())), nil
	case schema.TypeMoneyMinor:
		return "bigint", nil
	case schema.TypeForeignReference, schema.TypeEmployeeRef, schema.TypeBlockRef:
		return "bigint", nil // id во внешней системе или в таблице цели
	case schema.TypeFileRef:
		return "text", nil // uuid файла
	default:
		return "", fmt.Errorf("unknown type: %s", f.Type)
	}
}

// GenerateDDL возвращает карту ключ -> SQL. Ключи задают порядок применения:
// схема и таблицы, затем добавленные колонки и индексы, затем внешние ключи.
// Миграция только добавляет: колонки и таблицы не удаляются и не меняют тип.
func GenerateDDL(reg *schema.Registry, dbSchema string) (map[string]string, error) {
	if dbSchema == "" {
		dbSchema = DefaultSchema
	}
	out := map[string]string{}

	// --- Phase A: schema + tables ---
	var phaseA, phaseB, phaseC strings.Builder
	fmt.Fprintf(&phaseA, "create schema if not exists %s;\n", sqlIdent(dbSchema))

	tables := map[string]string{}
	for _, e := range reg.List() {
		tables[e.ID] = safeTable(e.ID)
	}

	for _, e := range reg.List() {
		tbl := sqlIdent(dbSchema) + "." + sqlIdent(tables[e.ID])

		// системные колонки
		cols := []string{
			`"id" bigserial primary key`,
			`"created_at" timestamp with time zone not null default now()`,
			`"updated_at" timestamp with time zone not null default now()`,
		}
		seen := map[string]struct{}{"id": {}, "created_at": {}, "updated_at": {}}

		for _, f := range e.Fields {
			name := strings.ToLower(f.Code)
			if _, exists := seen[name]; exists {
				return nil, fmt.Errorf("%s: field %q duplicates a system or duplicate column", e.ID, f.Code)
			}
			seen[name] = struct{}{}

			typ, err := mapType(f)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.ID, f.Code, err)
			}
			null := "null"
			if f.Required {
				null = "not null"
			}
			check := ""
			if f.Constraints.Min != nil && f.Type == schema.TypeInteger {
				check = fmt.Sprintf(" check (%s >= %d)", column(f.Code), *f.Constraints.Min)
			}
			cols = append(cols, fmt.Sprintf("%s %s %s%s", column(f.Code), typ, null, check))

			// колонка, появившаяся в каталоге позже таблицы; всегда nullable
			fmt.Fprintf(&phaseB, "alter table %s add column if not exists %s %s;\n", tbl, column(f.Code), typ)
		}

		fmt.Fprintf(&phaseA, "create table if not exists %s (\n  %s\n);\n", tbl, strings.Join(cols, ",\n  "))

		// индексы под фильтры сущности
		for _, code := range sortedValues(e.Filters) {
			fmt.Fprintf(&phaseB, "create index if not exists %s on %s(%s);\n",
				sqlIdent(tables[e.ID]+"_"+strings.ToLower(code)+"_idx"), tbl, column(code))
		}

		// block_ref -> FK на таблицу цели
		for _, f := range e.Fields {
			if f.Type != schema.TypeBlockRef {
				continue
			}
			target, err := reg.Get(f.Constraints.Target)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.ID, f.Code, err)
			}
			fmt.Fprintf(&phaseC,
				"alter table %s add constraint %s foreign key (%s) references %s.%s(id) on delete restrict;\n",
				tbl, sqlIdent(tables[e.ID]+"_"+strings.ToLower(f.Code)+"_fk"), column(f.Code),
				sqlIdent(dbSchema), sqlIdent(tables[target.ID]))
		}
	}

	out["000_schema_and_tables"] = phaseA.String()
	if phaseB.Len() > 0 {
		out["100_columns_and_indexes"] = phaseB.String()
	}
	if phaseC.Len() > 0 {
		out["200_foreign_keys"] = phaseC.String()
	}
	return out, nil
}

func sortedValues(m map[string]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range m {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
