package kernel

import (
	"encoding/json"
	"fmt"
	"os"
)

// ConnectionFilePlaceholder is replaced in spec argv with the real
// descriptor file path at launch.
const ConnectionFilePlaceholder = "{connection_file}"

// Spec describes how to start one kind of kernel: the interpreter binary,
// its argument vector with the connection-file placeholder, and displayable
// identity.
type Spec struct {
	DisplayName string            `json:"display_name"`
	Language    string            `json:"language"`
	Binary      string            `json:"binary"`
	Argv        []string          `json:"argv"`
	Env         map[string]string `json:"env,omitempty"`
}

// DefaultSpec returns a spec for a local Python kernel.
func DefaultSpec() Spec {
	return Spec{
		DisplayName: "Python 3",
		Language:    "python",
		Binary:      "python3",
		Argv:        []string{"-m", "ipykernel_launcher", "-f", ConnectionFilePlaceholder},
	}
}

// Merge applies non-zero values from source into s.
func (s *Spec) Merge(source *Spec) {
	if source.DisplayName != "" {
		s.DisplayName = source.DisplayName
	}
	if source.Language != "" {
		s.Language = source.Language
	}
	if source.Binary != "" {
		s.Binary = source.Binary
	}
	if len(source.Argv) > 0 {
		s.Argv = source.Argv
	}
	if len(source.Env) > 0 {
		s.Env = source.Env
	}
}

// Validate reports whether the spec can be launched.
func (s *Spec) Validate() error {
	if s.Binary == "" {
		return fmt.Errorf("%w: binary is empty", ErrInvalidSpec)
	}
	return nil
}

// LoadSpec reads a JSON kernelspec file and merges it over DefaultSpec.
func LoadSpec(filename string) (*Spec, error) {
	spec := DefaultSpec()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read kernelspec file: %w", err)
	}

	var loaded Spec
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse kernelspec file: %w", err)
	}

	spec.Merge(&loaded)
	return &spec, nil
}
