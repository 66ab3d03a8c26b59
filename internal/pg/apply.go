package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// уже существует: duplicate_object, duplicate_table, duplicate_column
var alreadyExists = map[string]struct{}{"42710": {}, "42P07": {}, "42701": {}}

// ApplyDDL выполняет map[key]sql по порядку ключей, по одному оператору.
// Ожидается idempotent DDL (create ... if not exists).
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string, log *slog.Logger) error {
	// стабильно: по ключу
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	applied, skipped := 0, 0
	for _, k := range keys {
		for _, stmt := range splitStatements(ddl[k]) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) {
					if _, ok := alreadyExists[pgErr.Code]; ok {
						log.Debug("DDL skipped (already exists)", "code", pgErr.Code, "message", strings.TrimSpace(pgErr.Message))
						skipped++
						continue
					}
				}
				return fmt.Errorf("DDL apply failed (%s): %w", k, err)
			}
			applied++
		}
	}
	log.Info("DDL applied", "statements", applied, "skipped", skipped)
	return nil
}

func splitStatements(sqlText string) []string {
	var out []string
	for _, s := range strings.Split(sqlText, ";\n") {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), ";"))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
