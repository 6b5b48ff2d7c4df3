// Package core turns spreadsheet sources into size-bounded text parts.
//
// It holds the conversion logic independent of any transport. The web
// server, the CLI and tests all drive the same [Service].
//
// # Format Registry
//
// Source formats are registered at init time using [Register], keyed by
// file extension. A [FormatDefinition] reads every table in a source:
//
//	core.Register(core.FormatDefinition{
//	    Info: core.FormatInfo{Key: "csv", Label: "Comma-separated values", Exts: []string{".csv"}},
//	    Read: readCSV,
//	})
//
// Compressed sources ("report.csv.gz", "book.xlsx.zst", "dump.tsv.xz") are
// looked up by their inner extension and decompressed while reading.
//
// # Conversion
//
// [Service.ConvertDir] walks an input folder in name order. For each source:
//
//  1. A conversion slot is taken from the [Limiter]
//  2. The file is hashed and skipped if the ledger already holds that digest
//  3. [ReadSource] streams it through decompression into the format reader
//  4. Every table is chunked and its parts written to the [Sink], tables
//     running concurrently up to the configured worker count
//  5. The source is recorded in the ledger once all its tables succeeded
//
// A failing source or table is logged and counted in the [Summary]; the run
// carries on with the rest.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - CFG001-CFG002: Configuration and format errors
//   - SRC001-SRC003: Source read errors (parse, size, columns)
//   - SNK001: Sink write errors
//   - SHT001-SHT002: Google Sheets errors
//   - QRY001: Query filter names an unknown column
//   - FET001-FET002: Archive download errors
package core
