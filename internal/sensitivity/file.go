package sensitivity

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/evidence-cli/internal/model"
)

// File is the policy file: organization overrides plus the field registry.
type File struct {
	Policy Config                  `yaml:"policy"`
	Fields []model.FieldDefinition `yaml:"fields"`
}

// LoadFile reads and validates a policy file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sensitivity: read policy %s", path)
	}
	return ParseFile(data)
}

// ParseFile parses policy YAML.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "sensitivity: parse policy")
	}
	for i, fd := range f.Fields {
		if fd.Key == "" {
			return nil, eris.Errorf("sensitivity: field %d has no key", i)
		}
		if !fd.RecordType.Valid() {
			return nil, eris.Errorf("sensitivity: field %s has unknown record type %q", fd.Key, fd.RecordType)
		}
	}
	return &f, nil
}

// Build compiles the policy and indexes the field registry.
func (f *File) Build() (*Policy, *model.FieldRegistry, error) {
	p, err := NewPolicy(f.Policy)
	if err != nil {
		return nil, nil, err
	}
	return p, model.NewFieldRegistry(f.Fields), nil
}
