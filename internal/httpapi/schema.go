package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request payloads are validated against JSON Schemas before decoding, so
// malformed requests fail with a message naming the offending field instead
// of a generic decode error.

const createContentSchemaJSON = `{
	"type": "object",
	"required": ["title", "type", "content"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"type": {"enum": ["song", "poem", "story"]},
		"content": {"type": "string", "minLength": 1}
	}
}`

const updateContentSchemaJSON = `{
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "integer", "minimum": 1},
		"title": {"type": "string"},
		"content": {"type": "string"}
	}
}`

const updateProgressSchemaJSON = `{
	"type": "object",
	"required": ["deviceId", "contentId", "action"],
	"properties": {
		"deviceId": {"type": "string", "minLength": 1},
		"contentId": {"type": "integer", "minimum": 1},
		"action": {"enum": ["markRead", "toggleFavorite", "toggleArchive", "setProgress"]},
		"value": {
			"type": "object",
			"properties": {
				"readCount": {"type": "integer", "minimum": 0},
				"favorite": {"type": "boolean"},
				"archived": {"type": "boolean"}
			}
		}
	}
}`

const seedContentSchemaJSON = `{
	"type": "object",
	"required": ["items"],
	"properties": {
		"deviceId": {"type": "string"},
		"items": {
			"type": "array",
			"items": {"type": "object"}
		}
	}
}`

var (
	createContentSchema  = mustCompileSchema("create-content.json", createContentSchemaJSON)
	updateContentSchema  = mustCompileSchema("update-content.json", updateContentSchemaJSON)
	updateProgressSchema = mustCompileSchema("update-progress.json", updateProgressSchemaJSON)
	seedContentSchema    = mustCompileSchema("seed-content.json", seedContentSchemaJSON)
)

func mustCompileSchema(name, schemaJSON string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("parse schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return schema
}

// validateBody checks the raw JSON body against the schema, writing a 400
// response and returning false when it does not conform.
func validateBody(w http.ResponseWriter, schema *jsonschema.Schema, body []byte) bool {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := schema.Validate(instance); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var validationErr *jsonschema.ValidationError
	if errors.As(err, &validationErr) && len(validationErr.Causes) > 0 {
		return validationErr.Causes[0].Error()
	}
	return err.Error()
}
