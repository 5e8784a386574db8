package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Config (W100-W119)

	"W100": {
		Category: CategoryConfig,
		Message:  "Config file not found",
		Detail:   "The file passed with --config does not exist.",
	},
	"W101": {
		Category: CategoryConfig,
		Message:  "Invalid config file",
		Detail:   "The config file could not be parsed as YAML.",
	},
	"W102": {
		Category: CategoryConfig,
		Message:  "Invalid environment",
		Detail:   "A WHITEBOARD_* environment variable has a value of the wrong type.",
	},
	"W103": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "The merged configuration failed validation.",
	},

	// Auth (W120-W139)

	"W120": {
		Category: CategoryAuth,
		Message:  "Token secret not configured",
		Detail:   "Signing or verifying local tokens needs auth.secret (WHITEBOARD_AUTH_SECRET).",
	},
	"W121": {
		Category: CategoryAuth,
		Message:  "Token signing failed",
		Detail:   "The token could not be signed.",
	},

	// Serve (W140-W159)

	"W140": {
		Category: CategoryServe,
		Message:  "Listen failed",
		Detail:   "The server could not bind its listen address.",
	},
	"W141": {
		Category: CategoryServe,
		Message:  "Shutdown timed out",
		Detail:   "Open connections did not drain before the shutdown timeout.",
	},

	// Discovery (W160-W179)

	"W160": {
		Category: CategoryDiscovery,
		Message:  "mDNS advertisement failed",
		Detail:   "The server could not register itself on the local network.",
	},
	"W161": {
		Category: CategoryDiscovery,
		Message:  "mDNS browse failed",
		Detail:   "Querying the local network for whiteboard servers failed.",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
