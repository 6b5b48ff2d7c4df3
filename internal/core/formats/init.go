// Package formats registers the spreadsheet source formats with the core
// registry. Import it for side effects wherever sources are read:
//
//	import _ "github.com/JonMunkholm/sheetchunk/internal/core/formats"
package formats

// Each format file uses init() to register its definition.
