package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// commandSchemas holds one compact JSON Schema document per command,
// compiled once at server startup and checked against every inbound
// request body before its handler runs.
var commandSchemas = map[string]string{
	CmdGetDirectoryFiles: `{
		"type": "object",
		"required": ["path"],
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"recursive": {"type": "boolean"}
		}
	}`,
	CmdRequestPreviews: `{
		"type": "object",
		"required": ["image_paths"],
		"properties": {
			"image_paths": {"type": "array", "items": {"type": "string"}},
			"priority": {"type": "integer"}
		}
	}`,
	CmdUpdateViewport: `{
		"type": "object",
		"properties": {
			"paths_to_upgrade": {"type": "array", "items": {"type": "string"}},
			"paths_to_downgrade": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	CmdRequestViewImage: `{
		"type": "object",
		"required": ["image_path"],
		"properties": {"image_path": {"type": "string", "minLength": 1}}
	}`,
	CmdGetPreviewsStatus: `{
		"type": "object",
		"required": ["image_paths"],
		"properties": {"image_paths": {"type": "array", "items": {"type": "string"}}}
	}`,
	CmdSetRating: `{
		"type": "object",
		"required": ["image_paths", "rating"],
		"properties": {
			"image_paths": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"rating": {"type": "integer", "minimum": 0, "maximum": 5}
		}
	}`,
	CmdGetMetadataBatch: `{
		"type": "object",
		"required": ["image_paths"],
		"properties": {
			"image_paths": {"type": "array", "items": {"type": "string"}},
			"priority": {"type": "integer"}
		}
	}`,
	CmdGetFilteredFilePaths: `{
		"type": "object",
		"required": ["text_filter", "star_states"],
		"properties": {
			"text_filter": {"type": "string"},
			"star_states": {"type": "array", "items": {"type": "boolean"}, "minItems": 6, "maxItems": 6},
			"tag_names": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	CmdSetTags: `{
		"type": "object",
		"required": ["image_paths", "tags"],
		"properties": {
			"image_paths": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"tags": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	CmdRemoveTags: `{
		"type": "object",
		"required": ["image_paths", "tags"],
		"properties": {
			"image_paths": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"tags": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	CmdGetTags: `{
		"type": "object",
		"properties": {"directory": {"type": "string"}}
	}`,
	CmdGetImageTags: `{
		"type": "object",
		"required": ["image_paths"],
		"properties": {"image_paths": {"type": "array", "items": {"type": "string"}}}
	}`,
	CmdMoveRecords: `{
		"type": "object",
		"required": ["moves"],
		"properties": {
			"moves": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["old_path", "new_path"],
					"properties": {
						"old_path": {"type": "string", "minLength": 1},
						"new_path": {"type": "string", "minLength": 1}
					}
				}
			}
		}
	}`,
	CmdDeleteFiles: `{
		"type": "object",
		"required": ["image_paths"],
		"properties": {"image_paths": {"type": "array", "items": {"type": "string"}, "minItems": 1}}
	}`,
	CmdShutdown: `{"type": "object"}`,
}

// compileSchemas compiles every entry in commandSchemas once, returning a
// lookup from command name to compiled schema.
func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	out := make(map[string]*jsonschema.Schema, len(commandSchemas))
	for command, doc := range commandSchemas {
		url := "imgdaemon://" + command + ".json"
		if err := compiler.AddResource(url, strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("wire: add schema resource for %s: %w", command, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("wire: compile schema for %s: %w", command, err)
		}
		out[command] = schema
	}
	return out, nil
}

// validateBody decodes body as generic JSON and runs it through command's
// compiled schema, if one is registered. Commands with no schema (none,
// currently) pass through unchecked.
func (s *Server) validateBody(command string, body json.RawMessage) error {
	schema, ok := s.schemas[command]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return newValidationError(command, err)
	}
	if err := schema.Validate(v); err != nil {
		return newValidationError(command, err)
	}
	return nil
}
