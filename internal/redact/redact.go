package redact

import (
	"strings"

	"github.com/patchlings/patchlings/internal/salt"
)

// secretFragments always reject a key, regardless of allow-content.
var secretFragments = []string{
	"token", "secret", "authorization", "cookie", "header",
	"password", "api_key", "api-key", "apikey", "session",
}

// contentKeys carry raw payload text and are dropped unless content is allowed.
var contentKeys = map[string]bool{
	"prompt":  true,
	"content": true,
	"body":    true,
	"payload": true,
	"stdin":   true,
	"stdout":  true,
	"stderr":  true,
	"command": true,
	"args":    true,
	"arg":     true,
	"diff":    true,
	"patch":   true,
}

// pathKeys hold filesystem locations and are replaced by salted hashes.
var pathKeys = map[string]bool{
	"path":      true,
	"file":      true,
	"file_name": true,
	"cwd":       true,
	"workspace": true,
	"repo":      true,
	"target":    true,
	"source":    true,
}

// Redactor is a pure transform over event attributes, parameterized by the
// run salt and an optional workspace salt for cross-run stable hashes.
type Redactor struct {
	runSalt       string
	workspaceSalt string
	allowContent  bool
}

func New(runSalt, workspaceSalt string, allowContent bool) *Redactor {
	return &Redactor{
		runSalt:       runSalt,
		workspaceSalt: workspaceSalt,
		allowContent:  allowContent,
	}
}

// Attrs applies the redaction rules, in order:
// secret keys are always dropped; already-hashed keys pass through;
// content keys are dropped unless content is allowed; path-like keys are
// replaced by salted hashes; any remaining primitive is preserved and any
// nested value is dropped.
func (r *Redactor) Attrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}

	out := make(map[string]any, len(attrs))
	for key, value := range attrs {
		lower := strings.ToLower(key)

		if hasSecretFragment(lower) {
			continue
		}

		if strings.Contains(lower, "_hash") {
			if isPrimitive(value) {
				out[key] = value
			}
			continue
		}

		if contentKeys[lower] && !r.allowContent {
			continue
		}

		if pathKeys[lower] {
			if s, ok := value.(string); ok && s != "" {
				out[key+"_hash"] = salt.HashPath(s, r.runSalt)
				out[key+"_dir_hash"] = salt.HashDir(s, r.runSalt)
				if r.workspaceSalt != "" {
					out[key+"_stable_hash"] = salt.HashPath(s, r.workspaceSalt)
					out[key+"_stable_dir_hash"] = salt.HashDir(s, r.workspaceSalt)
				}
				if r.allowContent {
					out[key] = s
				}
				continue
			}
		}

		if isPrimitive(value) {
			out[key] = value
		}
	}
	return out
}

func hasSecretFragment(lowerKey string) bool {
	for _, fragment := range secretFragments {
		if strings.Contains(lowerKey, fragment) {
			return true
		}
	}
	return false
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}
