// Package sql screens user-supplied search text for SQL injection patterns
// before any tenant database is dispatched to.
package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on one
// user-supplied field.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Field       string // Name of the field that failed the check
	Value       string // The value that was checked
}

// CheckSearchInput uses libinjection to detect SQL injection patterns in a
// user-supplied text field. Search text always reaches tenant databases as a
// bind parameter; this check additionally rejects hostile input at the API
// boundary before any dispatch happens.
//
// Returns nil if no injection is detected.
func CheckSearchInput(field, value string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Field:       field,
		Value:       value,
	}
}

// CheckSearchInputs validates several fields and returns a result for each
// one that failed. Returns nil if all fields are clean.
func CheckSearchInputs(fields map[string]string) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for name, value := range fields {
		if result := CheckSearchInput(name, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
