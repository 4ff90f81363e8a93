package policy

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kakuri/internal/errs"
)

// AllSentinel grants every department when used as a role's department_access value.
const AllSentinel = "all"

const (
	defaultDepartment          = "general"
	defaultUnlabeledDepartment = "restricted"
)

//go:embed schema.json
var schemaJSON []byte

// Document is the on-disk policy format.
type Document struct {
	Hierarchy           map[string][]string       `yaml:"hierarchy" json:"hierarchy,omitempty"`
	DepartmentAccess    map[string]DepartmentList `yaml:"department_access" json:"department_access"`
	DefaultDepartments  []string                  `yaml:"default_departments" json:"default_departments,omitempty"`
	UnlabeledDepartment string                    `yaml:"unlabeled_department" json:"unlabeled_department,omitempty"`
}

// DepartmentList is either the "all" sentinel or an explicit list of departments.
type DepartmentList struct {
	All         bool
	Departments []string
}

// UnmarshalYAML accepts a scalar sentinel or a sequence of department names.
func (d *DepartmentList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != AllSentinel {
			return fmt.Errorf("line %d: department access must be a list or %q, got %q", node.Line, AllSentinel, node.Value)
		}
		d.All = true
		return nil
	case yaml.SequenceNode:
		return node.Decode(&d.Departments)
	default:
		return fmt.Errorf("line %d: department access must be a list or %q", node.Line, AllSentinel)
	}
}

// MarshalJSON mirrors the YAML shape.
func (d DepartmentList) MarshalJSON() ([]byte, error) {
	if d.All {
		return json.Marshal(AllSentinel)
	}
	if d.Departments == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d.Departments)
}

// ParseDocument validates raw YAML policy bytes against the policy schema and decodes it.
// It also returns the document's version: the SHA-256 of its RFC 8785 canonical JSON form,
// so formatting or key order changes do not produce a new version.
func ParseDocument(data []byte) (*Document, string, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, "", errs.Config("", "", "failed to parse policy: %w", err)
	}
	if generic == nil {
		return nil, "", errs.Config("", "", "policy document is empty")
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, "", errs.Config("", "", "policy is not representable as JSON: %w", err)
	}
	if err := validateSchema(asJSON); err != nil {
		return nil, "", err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "", errs.Config("", "", "failed to decode policy: %w", err)
	}

	version, err := digest(asJSON)
	if err != nil {
		return nil, "", errs.Config("", "", "failed to compute policy version: %w", err)
	}
	return &doc, version, nil
}

func validateSchema(data []byte) error {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return fmt.Errorf("compile policy schema: %w", err)
	}
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return errs.Config("", "", "policy schema validation failed: %v", result.Errors)
}

func digest(data []byte) (string, error) {
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ReadDocument reads and parses the policy file at path.
func ReadDocument(path string) (*Document, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &errs.ConfigError{Source: path, Err: fmt.Errorf("failed to read policy: %w", err)}
	}
	doc, version, err := ParseDocument(data)
	if err != nil {
		return nil, "", withSource(err, path)
	}
	return doc, version, nil
}
