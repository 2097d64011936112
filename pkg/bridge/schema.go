package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const authenticationSchema = `{
	"type": ["object", "null"],
	"properties": {
		"baseUrl":   {"type": "string"},
		"userId":    {"type": "string"},
		"projectId": {"type": "string"},
		"token":     {"type": ["string", "null"]}
	},
	"required": ["baseUrl", "userId", "projectId"]
}`

const configureSchema = `{
	"type": "object",
	"propertyNames": {"minLength": 1},
	"additionalProperties": {"type": ["string", "number", "boolean", "null"]}
}`

var (
	authenticationLoader = gojsonschema.NewStringLoader(authenticationSchema)
	configureLoader      = gojsonschema.NewStringLoader(configureSchema)
)

func validate(schema gojsonschema.JSONLoader, data []byte) error {
	res, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if res.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
}

// ParseAuthentication decodes the setAuthentication argument. JSON null
// means log out and yields nil. A token that is empty or the string "null"
// counts as absent.
func ParseAuthentication(data []byte) (*Authentication, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if err := validate(authenticationLoader, data); err != nil {
		return nil, err
	}

	var auth *Authentication
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}
	if auth != nil && auth.Token != nil && (*auth.Token == "" || *auth.Token == "null") {
		auth.Token = nil
	}
	return auth, nil
}

// ParseSettings decodes the configure argument. Numbers and booleans are
// kept in their JSON text form; null stays nil.
func ParseSettings(data []byte) (map[string]*string, error) {
	if err := validate(configureLoader, data); err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	settings := make(map[string]*string, len(raw))
	for k, v := range raw {
		text := strings.TrimSpace(string(v))
		switch {
		case text == "null":
			settings[k] = nil
		case strings.HasPrefix(text, `"`):
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return nil, fmt.Errorf("setting %s: %w", k, err)
			}
			settings[k] = &s
		default:
			s := text
			settings[k] = &s
		}
	}
	return settings, nil
}
