// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mode

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// modeSchema is the JSON schema for mode YAML files.
const modeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "observation_types"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z0-9][a-z0-9_-]*$"},
    "description": {"type": "string"},
    "observation_types": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "concepts": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "guidance": {"type": "string"}
  },
  "additionalProperties": false
}`

var schemaLoader = gojsonschema.NewStringLoader(modeSchema)

// validateDocument checks a decoded YAML document against the mode schema.
func validateDocument(doc interface{}) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errs[i] = e.String()
		}
		return fmt.Errorf("invalid mode definition: %s", strings.Join(errs, "; "))
	}
	return nil
}
