// Package migrations предоставляет встроенные SQL-миграции для каждого драйвера БД.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

// Files содержит .sql файлы по драйверам (порядок важен: 001, 002, ...).
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS

// Scripts returns the migration bodies for driver ("postgres" or "sqlite") in file name order.
func Scripts(driver string) ([]string, error) {
	entries, err := fs.ReadDir(Files, driver)
	if err != nil {
		return nil, fmt.Errorf("migrations for %q: %w", driver, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := fs.ReadFile(Files, driver+"/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, string(data))
	}
	return out, nil
}
