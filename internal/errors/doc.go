// Package errors provides structured, actionable error messages for bootz.
//
// Every failure the toolchain reports carries a code that maps to the
// error taxonomy of the orchestrator:
//
//   - config: missing entries, invalid ports, unreadable configuration files
//   - pipeline: a compiler could not be constructed at all (fatal)
//   - compile: a single pipeline run finished with diagnostics (recoverable)
//   - runtime: the compiled server module could not be imported or hot-updated
//   - request: the active server module failed while handling a request
//   - cli: filesystem and environment problems surfaced by the CLI
//
// # Usage
//
//	err := errors.New("E100").
//	    WithDetail("entries.client is empty").
//	    WithSuggestion(`Set "entries.client" in bootz.config.json`)
//
//	fmt.Print(err.Format())
//	// Output:
//	// ERROR E100: Client entry is missing
//	//
//	//   entries.client is empty
//	//
//	//   Hint: Set "entries.client" in bootz.config.json
package errors
