// Package migration implements the ordered, transactional, idempotent SQL
// migration runner — spec §4.6.
package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

var filenamePattern = regexp.MustCompile(`^(\d+)_([^.]+)\.sql$`)

// candidate is one discovered migration file, not yet known to be applied.
type candidate struct {
	version int
	name    string
	path    string
}

// discover reads dir for files matching ^(\d+)_([^.]+)\.sql$, parses their
// version, and returns them ordered ascending by integer version (not
// lexicographic) — spec §4.6.
func discover(dir string) ([]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, sirannonerr.Wrap(sirannonerr.CodeMigrationError, "read migration directory", err)
	}

	var candidates []candidate
	seen := make(map[int]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, sirannonerr.New(sirannonerr.CodeMigrationError,
				fmt.Sprintf("invalid migration version in %q", entry.Name()))
		}
		if prior, ok := seen[version]; ok {
			return nil, sirannonerr.New(sirannonerr.CodeMigrationError,
				fmt.Sprintf("duplicate migration version %d (%q and %q)", version, prior, entry.Name()))
		}
		seen[version] = entry.Name()
		candidates = append(candidates, candidate{
			version: version,
			name:    m[2],
			path:    filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].version < candidates[j].version })
	return candidates, nil
}

// readScript loads a migration file's contents and rejects empty or
// whitespace-only scripts — spec §4.6.
func readScript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", sirannonerr.Wrap(sirannonerr.CodeMigrationError, "read migration file "+path, err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", sirannonerr.New(sirannonerr.CodeMigrationError, "empty migration script: "+path)
	}
	return text, nil
}
