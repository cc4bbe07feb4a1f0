// internal/app/system/limits/limits.go
package limits

// Request body size limits for the JSON API.
const (
	// MaxJSONBody caps any JSON request body.
	MaxJSONBody = 1 << 20 // 1 MB

	// MaxJoinBody caps the public join and rejoin bodies, which carry only
	// a display name.
	MaxJoinBody = 4 << 10 // 4 KB
)
