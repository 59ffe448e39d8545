package errors

import "slices"

// Definition is the registered shape of a code.
type Definition struct {
	Category Category
	Fatal    bool
	Message  string
	Detail   string
}

const fatal = true

// Codes are grouped by decade: E10x options, E11x pipeline setup, E12x the
// config file, E13x output, E14x compilation, E15x the server module, E16x
// requests and E17x the dev listener.
var definitions = map[string]Definition{
	"E100": {CategoryConfig, fatal, "Client entry is missing", "The client target needs at least one entry point."},
	"E101": {CategoryConfig, fatal, "Server entry is missing", "The server target needs at least one entry point."},
	"E102": {CategoryConfig, fatal, "Invalid port", "Port must be between 0 and 65535."},
	"E103": {CategoryConfig, fatal, "Invalid option value", ""},

	"E110": {CategoryPipeline, fatal, "Failed to initialize compiler", "The compiler for this target could not be constructed."},

	"E120": {CategoryConfig, false, "Invalid configuration file", "The configuration file could not be read; built-in defaults are used."},
	"E121": {CategoryConfig, false, "Configuration file not found", "No bootz configuration file was found; built-in defaults are used."},

	"E130": {CategoryCLI, fatal, "Failed to clear output directory", ""},

	"E140": {CategoryCompile, false, "Compilation failed", ""},

	"E150": {CategoryRuntime, false, "Failed to load server module",
		"The compiled server artifact could not be started. Requests are answered with 503 until a later build loads."},
	"E151": {CategoryRuntime, false, "Hot update failed", "The running server module could not apply the update; it will be reloaded."},
	"E152": {CategoryRuntime, false, "Server runtime not found", "The executable used to run the compiled server is not installed or not in PATH."},

	"E160": {CategoryRequest, false, "Request handling failed", ""},

	"E170": {CategoryRuntime, fatal, "Failed to start the development server", "The dev listener could not bind its address."},
}

// Lookup returns the definition registered for code.
func Lookup(code string) (Definition, bool) {
	d, ok := definitions[code]
	return d, ok
}

// Codes lists every registered code in ascending order.
func Codes() []string {
	codes := make([]string, 0, len(definitions))
	for code := range definitions {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}
