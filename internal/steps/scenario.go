package steps

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/locus/api/schemas"
)

// scenarioFile is the on-disk form of a scenario. Steps may be plain strings
// or mappings with an explicit action type.
type scenarioFile struct {
	Name     string     `yaml:"name"`
	StartURL string     `yaml:"start_url"`
	Steps    []fileStep `yaml:"steps"`
}

type fileStep struct {
	Description string             `yaml:"description"`
	ActionType  schemas.ActionType `yaml:"action_type"`
}

func (s *fileStep) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Description = node.Value
		return nil
	}
	type plain fileStep
	return node.Decode((*plain)(s))
}

// LoadScenario reads a scenario from a YAML file. A missing name defaults to
// the file name.
func LoadScenario(path string) (schemas.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return schemas.Scenario{}, fmt.Errorf("failed to open scenario: %w", err)
	}
	defer f.Close()

	sc, err := ReadScenario(f)
	if err != nil {
		return schemas.Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".yaml"), ".yml")
	}
	return sc, nil
}

// ReadScenario decodes a scenario document. Step numbers follow file order.
func ReadScenario(r io.Reader) (schemas.Scenario, error) {
	var file scenarioFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return schemas.Scenario{}, errors.New("scenario is empty")
		}
		return schemas.Scenario{}, fmt.Errorf("failed to decode scenario: %w", err)
	}

	sc := schemas.Scenario{Name: file.Name, StartURL: strings.TrimSpace(file.StartURL)}
	for i, s := range file.Steps {
		desc := strings.TrimSpace(s.Description)
		if desc == "" {
			return schemas.Scenario{}, fmt.Errorf("step %d has no description", i+1)
		}
		action := s.ActionType
		if action != "" && schemas.ParseActionType(string(action)) == schemas.ActionUnknown && action != schemas.ActionUnknown {
			return schemas.Scenario{}, fmt.Errorf("step %d: unknown action type %q", i+1, action)
		}
		sc.Steps = append(sc.Steps, schemas.ActionStep{StepNumber: i + 1, Description: desc, ActionType: action})
	}
	if len(sc.Steps) == 0 {
		return schemas.Scenario{}, errors.New("scenario has no steps")
	}
	return sc, nil
}
