package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jdziat/simple-process-tracking/pkg/core"
)

// File is the YAML layout of a catalog definition:
//
//	operations:
//	  - code: KIT
//	    name: Kitting
//	    position: 1
//	  - code: SERIALIZE
//	    position: 4
//	    type: IDENTITY_CONVERSION
type File struct {
	Operations []FileOperation `yaml:"operations"`
}

// FileOperation is one entry of a catalog file. Active defaults to true.
type FileOperation struct {
	Code     string `yaml:"code"`
	Name     string `yaml:"name"`
	Position int    `yaml:"position"`
	Type     string `yaml:"type"`
	Active   *bool  `yaml:"active"`
}

// LoadFile reads a catalog definition from a YAML file.
func LoadFile(path string) ([]core.Operation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog definition.
func Parse(data []byte) ([]core.Operation, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, core.NewError(core.KindValidation, "catalog.parse", "invalid catalog yaml", err)
	}
	ops := make([]core.Operation, 0, len(f.Operations))
	for _, fo := range f.Operations {
		active := true
		if fo.Active != nil {
			active = *fo.Active
		}
		ops = append(ops, core.Operation{
			Code:     fo.Code,
			Name:     fo.Name,
			Position: fo.Position,
			Type:     core.OperationType(fo.Type),
			Active:   active,
		})
	}
	return ops, nil
}
