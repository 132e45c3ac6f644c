package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var commandSchemas = map[string]string{
	CmdAssignPlanet:      "assign_planet.schema.json",
	CmdPlanetInfo:        "planet_info.schema.json",
	CmdPlanetImprovement: "planet_improvement.schema.json",
}

// Validator checks inbound messages against the embedded JSON schemas.
type Validator struct {
	hello    *jsonschema.Schema
	request  *jsonschema.Schema
	commands map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
	}
	compile := func(name string) (*jsonschema.Schema, error) {
		s, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		return s, nil
	}

	v := &Validator{commands: map[string]*jsonschema.Schema{}}
	if v.hello, err = compile("hello.schema.json"); err != nil {
		return nil, err
	}
	if v.request, err = compile("command_request.schema.json"); err != nil {
		return nil, err
	}
	for cmd, name := range commandSchemas {
		s, err := compile(name)
		if err != nil {
			return nil, err
		}
		v.commands[cmd] = s
	}
	return v, nil
}

func (v *Validator) ValidateHello(raw []byte) error {
	return validateRaw(v.hello, raw)
}

// ValidateCommandRequest checks the envelope and then the command-specific payload.
func (v *Validator) ValidateCommandRequest(raw []byte) error {
	if err := validateRaw(v.request, raw); err != nil {
		return err
	}
	var req CommandRequestMsg
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	return v.ValidateCommand(req.Command, req.Payload)
}

func (v *Validator) ValidateCommand(command string, payload []byte) error {
	s, ok := v.commands[command]
	if !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	return validateRaw(s, payload)
}

func validateRaw(s *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return s.Validate(doc)
}
