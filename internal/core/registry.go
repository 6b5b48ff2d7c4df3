package core

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	registry   = make(map[string]FormatDefinition) // by extension
	registryMu sync.RWMutex

	// compressions are outer extensions a format may carry, e.g. data.csv.gz.
	compressions = map[string]bool{".gz": true, ".zst": true, ".xz": true}
)

// Register adds a format definition to the registry under each of its
// extensions. Panics if an extension is already registered.
func Register(def FormatDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if len(def.Info.Exts) == 0 {
		panic(fmt.Sprintf("format %s has no extensions", def.Info.Key))
	}
	if def.Read == nil && !def.Unsupported {
		panic(fmt.Sprintf("format %s has no reader", def.Info.Key))
	}
	for _, ext := range def.Info.Exts {
		ext = strings.ToLower(ext)
		if existing, exists := registry[ext]; exists {
			panic(fmt.Sprintf("extension %s already registered by %s", ext, existing.Info.Key))
		}
		registry[ext] = def
	}
}

// Get returns the format registered for ext (".csv").
func Get(ext string) (FormatDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[strings.ToLower(ext)]
	return def, ok
}

// SplitExt splits name into its stem, format extension and optional
// compression extension: "FY14.csv.gz" -> ("FY14", ".csv", ".gz").
func SplitExt(name string) (stem, ext, compression string) {
	base := filepath.Base(name)
	outer := strings.ToLower(filepath.Ext(base))
	if compressions[outer] {
		compression = outer
		base = base[:len(base)-len(outer)]
	}
	ext = strings.ToLower(filepath.Ext(base))
	stem = base[:len(base)-len(ext)]
	return stem, ext, compression
}

// Lookup finds the format for a file path.
// Returns ErrUnsupportedFormat when none is registered or the format is
// recognised but unsupported.
func Lookup(path string) (FormatDefinition, error) {
	_, ext, _ := SplitExt(path)
	def, ok := Get(ext)
	if !ok {
		return FormatDefinition{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Base(path))
	}
	if def.Unsupported {
		return def, fmt.Errorf("%w: %s files (%q) cannot be read, convert to .xlsx first",
			ErrUnsupportedFormat, ext, filepath.Base(path))
	}
	return def, nil
}

// IsSource reports whether path has an extension the registry knows,
// including unsupported ones.
func IsSource(path string) bool {
	_, ext, _ := SplitExt(path)
	_, ok := Get(ext)
	return ok
}

// All returns all registered format definitions, one per key, sorted by key.
func All() []FormatDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	result := make([]FormatDefinition, 0, len(registry))
	for _, def := range registry {
		if seen[def.Info.Key] {
			continue
		}
		seen[def.Info.Key] = true
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Info.Key < result[j].Info.Key
	})
	return result
}

// Extensions returns every registered extension, sorted.
func Extensions() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	exts := make([]string, 0, len(registry))
	for ext := range registry {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Clear removes all registered formats.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]FormatDefinition)
}
