package store

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// Schema returns the JSON schema of the persisted conversation record. The
// ID newtypes reflect as uuid strings, matching their marshalled form.
func Schema() ([]byte, error) {
	schemaOnce.Do(func() {
		uuidSchema := func() *jsonschema.Schema {
			return &jsonschema.Schema{Type: "string", Format: "uuid"}
		}
		reflector := jsonschema.Reflector{
			DoNotReference: true,
			Mapper: func(t reflect.Type) *jsonschema.Schema {
				switch t {
				case reflect.TypeOf(conversation.NodeID{}),
					reflect.TypeOf(conversation.ConversationID{}),
					reflect.TypeOf(conversation.BranchID{}):
					return uuidSchema()
				}
				return nil
			},
		}
		s := reflector.Reflect(&conversation.Conversation{})
		schemaJSON, schemaErr = json.MarshalIndent(s, "", "  ")
	})
	return schemaJSON, schemaErr
}

// ValidateRecord checks a raw conversation document against the record
// schema before it is unmarshalled.
func ValidateRecord(data []byte) error {
	schema, err := Schema()
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return errors.Wrap(err, "failed to validate conversation document")
	}
	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}
		return errors.Errorf("conversation document does not match schema: %s", strings.Join(descriptions, "; "))
	}
	return nil
}
