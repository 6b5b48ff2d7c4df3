package core

// error_messages.go maps technical errors to short coded messages for the
// CLI summary and the HTTP API. Quote the code when reporting a problem.
//
// # Configuration (CFG001-CFG099)
//
//	CFG001 - Invalid configuration (budget <= 0, table without columns)
//	CFG002 - Unsupported source format (.ods, unknown extensions)
//
// # Sources (SRC001-SRC099)
//
//	SRC001 - Source could not be read or parsed
//	SRC002 - Source exceeds the size limit
//	SRC003 - Source has duplicate column names after cleanup
//
// # Sinks (SNK001-SNK099)
//
//	SNK001 - A part could not be written
//
// # Sheets (SHT001-SHT099)
//
//	SHT001 - Worksheet not found
//	SHT002 - Spreadsheet could not be loaded
//	QRY001 - Filter names a column the sheet does not have
//
// # Fetch (FET001-FET099)
//
//	FET001 - Archive not available (404)
//	FET002 - Archive download failed
//
// # Concurrency and limits
//
//	BUSY001 - Too many conversions running
//	RATE001 - Too many requests
//
// ERR000 is the fallback. Check the logs for the technical error.
//
// Sentinel errors are matched with errors.Is first; the remaining entries
// match case-insensitively on the error text, first match wins.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{chunk.ErrInvalidConfiguration, UserMessage{
		Message: "Invalid chunking configuration",
		Action:  "Set CHUNK_MAX_BYTES to a positive value and check the table has columns",
		Code:    "CFG001",
	}},
	{ErrUnsupportedFormat, UserMessage{
		Message: "Unsupported source format",
		Action:  "Save the file as .xlsx or .csv",
		Code:    "CFG002",
	}},
	{ErrFileTooLarge, UserMessage{
		Message: "Source exceeds the size limit",
		Action:  "Split the file or raise CHUNK_MAX_FILE_SIZE",
		Code:    "SRC002",
	}},
	{ErrSinkWrite, UserMessage{
		Message: "A part could not be written",
		Action:  "Check the output location is writable and reachable",
		Code:    "SNK001",
	}},
	{ErrSourceRead, UserMessage{
		Message: "Source could not be read",
		Action:  "Check the file opens in a spreadsheet program",
		Code:    "SRC001",
	}},
	{ErrTooManyConversions, UserMessage{
		Message: "Too many conversions are running",
		Action:  "Wait for the current run to finish",
		Code:    "BUSY001",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"duplicate column", UserMessage{
		Message: "Duplicate column names",
		Action:  "Rename the repeated header cells",
		Code:    "SRC003",
	}},
	{"sheet not found", UserMessage{
		Message: "Worksheet not found",
		Action:  "Check WORKSHEETS matches the tab names exactly",
		Code:    "SHT001",
	}},
	{"spreadsheet", UserMessage{
		Message: "Spreadsheet could not be loaded",
		Action:  "Check SPREADSHEET_ID and that the service account has access",
		Code:    "SHT002",
	}},
	{"unknown column", UserMessage{
		Message: "Unknown column in filter",
		Action:  "Use the column names listed by /api/sheets",
		Code:    "QRY001",
	}},
	{"archive not found", UserMessage{
		Message: "Archive not available",
		Action:  "The year may not be published yet",
		Code:    "FET001",
	}},
	{"download", UserMessage{
		Message: "Archive download failed",
		Action:  "Check the network and FETCH_URL_TEMPLATE",
		Code:    "FET002",
	}},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for details",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	_, err := chunk.Chunk(table, 0, nil)
//	msg := MapError(err)
//	// msg.Code == "CFG001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
