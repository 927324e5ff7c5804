package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a conversation record from a JSON or YAML file,
// dispatching on the file extension.
func LoadFromFile(filename string) (*Conversation, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	c := &Conversation{}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return nil, errors.Wrapf(err, "could not parse %s", filename)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, errors.Wrapf(err, "could not parse %s", filename)
		}
	default:
		return nil, errors.Errorf("unsupported file extension for %s", filename)
	}

	if c.Forks == nil {
		c.Forks = map[NodeID]*ForkEntry{}
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s holds a corrupt conversation", filename)
	}

	return c, nil
}

// SaveToFile writes the conversation record as JSON or YAML, dispatching on
// the file extension.
func (c *Conversation) SaveToFile(filename string) error {
	var data []byte
	var err error

	record := c.Clone()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		data, err = json.MarshalIndent(record, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(record)
	default:
		return errors.Errorf("unsupported file extension for %s", filename)
	}
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
