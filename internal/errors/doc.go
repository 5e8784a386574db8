// Package errors provides coded, actionable errors for the whiteboard
// command line.
//
// Each error code maps to a short message and a longer explanation. Call
// sites add detail and a hint on how to fix the problem:
//
//	err := errors.New("W101").
//	    WithDetail("line 3: mapping values are not allowed here").
//	    WithSuggestion("Check the indentation of whiteboard.yaml")
//
//	errors.PrintError(err)
//	// ERROR W101: Invalid config file
//	//
//	//   line 3: mapping values are not allowed here
//	//
//	//   Hint: Check the indentation of whiteboard.yaml
//
// Codes are grouped by category:
//   - W100-W119: config
//   - W120-W139: auth
//   - W140-W159: serve
//   - W160-W179: discovery
package errors
