package myfatoorah

import (
	"encoding/json"
	"strings"
)

// redactedFields names every request field that must never appear in
// logs in clear text. Redaction is applied by policy when a payload is
// logged, so new sensitive fields only need an entry here rather than
// ad hoc masking at each call site.
var redactedFields = map[string]struct{}{
	"CustomerMobile": {},
	"Authorization":  {},
}

// redactPayload parses the marshalled request body and masks every
// redacted field, recursively. Parse failures yield nil; callers then
// skip payload logging entirely rather than risk leaking raw bytes.
func redactPayload(raw []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	redactMap(m)
	return m
}

func redactMap(m map[string]any) {
	for k, v := range m {
		if _, ok := redactedFields[k]; ok {
			if s, ok := v.(string); ok {
				m[k] = mask(s)
			} else {
				m[k] = "****"
			}
			continue
		}
		switch child := v.(type) {
		case map[string]any:
			redactMap(child)
		case []any:
			for _, item := range child {
				if cm, ok := item.(map[string]any); ok {
					redactMap(cm)
				}
			}
		}
	}
}

// mask keeps the last few characters for correlation and hides the rest.
func mask(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-3:]
}
