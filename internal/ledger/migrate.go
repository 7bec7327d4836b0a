package ledger

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// applyMigrations reads SQL files from dir within the embedded filesystem
// and feeds them, lexicographically ordered, to exec.
func applyMigrations(ctx context.Context, filesystem fs.FS, dir string, exec func(sql string) error) error {
	entries, err := fs.ReadDir(filesystem, dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		name := entry.Name()
		if dir != "." {
			name = path.Join(dir, name)
		}
		sqlBytes, err := fs.ReadFile(filesystem, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if len(sqlBytes) == 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("migrations cancelled before %s: %w", name, err)
		}

		if err := exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	return nil
}
