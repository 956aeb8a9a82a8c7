package registry

import (
	"path/filepath"
	"regexp"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// TenantResolver maps a tenant id to a database path and open options, or
// reports it cannot (ok == false) — spec §4.12. Invalid ids must report
// false rather than error, so auto-open cannot be used as an attack
// vector.
type TenantResolver func(id string) (path string, opts OpenOptions, ok bool)

// ValidTenantID enforces the spec §4.12 sanitization rule verbatim: length
// 1..255, matching ^[A-Za-z0-9][A-Za-z0-9_-]*$.
func ValidTenantID(id string) bool {
	if len(id) < 1 || len(id) > 255 {
		return false
	}
	return tenantIDPattern.MatchString(id)
}

// TenantPath joins base with id+ext. Fails (ok == false) when id is
// invalid or the resulting filename exceeds 255 characters — spec §4.12.
func TenantPath(base, id, ext string) (path string, ok bool) {
	if ext == "" {
		ext = ".db"
	}
	if !ValidTenantID(id) {
		return "", false
	}
	filename := id + ext
	if len(filename) > 255 {
		return "", false
	}
	return filepath.Join(base, filename), true
}

// CreateTenantResolverOptions configures CreateTenantResolver — spec
// §4.12.
type CreateTenantResolverOptions struct {
	BasePath       string
	Extension      string // defaults to ".db"
	DefaultOptions OpenOptions
}

// CreateTenantResolver builds a TenantResolver compatible with
// LifecycleManager. Invalid ids and over-long filenames yield ok == false
// rather than an error — spec §4.12.
func CreateTenantResolver(opts CreateTenantResolverOptions) TenantResolver {
	ext := opts.Extension
	if ext == "" {
		ext = ".db"
	}
	return func(id string) (string, OpenOptions, bool) {
		path, ok := TenantPath(opts.BasePath, id, ext)
		if !ok {
			return "", OpenOptions{}, false
		}
		return path, opts.DefaultOptions, true
	}
}
