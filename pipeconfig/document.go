package pipeconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/kbukum/stagepipe/errors"
)

// Format selects the encoding of a configuration document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Document is the wire form of a pipeline configuration.
type Document struct {
	Connections []ConnectionDoc    `json:"connections,omitempty" yaml:"connections,omitempty"`
	InputMap    map[string]PortRef `json:"input_map,omitempty" yaml:"input_map,omitempty"`
	ParamMap    map[string]int     `json:"param_map,omitempty" yaml:"param_map,omitempty"`
	OutputMap   map[string]PortRef `json:"output_map,omitempty" yaml:"output_map,omitempty"`
}

// ConnectionDoc routes one producer output to one or more consumer inputs.
type ConnectionDoc struct {
	From OutputRef  `json:"from" yaml:"from"`
	To   []InputRef `json:"to" yaml:"to"`
}

// OutputRef names an output port of a stage.
type OutputRef struct {
	Stage  *int   `json:"stage" yaml:"stage"`
	Output string `json:"output" yaml:"output"`
}

// InputRef names an input port of a stage.
type InputRef struct {
	Stage *int   `json:"stage" yaml:"stage"`
	Input string `json:"input" yaml:"input"`
}

// PortRef is a (stage, port) pair encoded as a two element array.
type PortRef struct {
	Stage int
	Port  string
}

// MarshalJSON encodes the reference as [stage, "port"].
func (p PortRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.Stage, p.Port})
}

// UnmarshalJSON decodes a [stage, "port"] pair.
func (p *PortRef) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("expected [stage, port], got %s", data)
	}
	if len(pair) != 2 {
		return fmt.Errorf("expected [stage, port], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &p.Stage); err != nil {
		return fmt.Errorf("stage index: %w", err)
	}
	if err := json.Unmarshal(pair[1], &p.Port); err != nil {
		return fmt.Errorf("port name: %w", err)
	}
	return nil
}

// MarshalYAML encodes the reference as a flow sequence.
func (p PortRef) MarshalYAML() (any, error) {
	node := &yaml.Node{}
	if err := node.Encode([]any{p.Stage, p.Port}); err != nil {
		return nil, err
	}
	node.Style = yaml.FlowStyle
	return node, nil
}

// UnmarshalYAML decodes a [stage, port] sequence.
func (p *PortRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode || len(value.Content) != 2 {
		return fmt.Errorf("line %d: expected [stage, port]", value.Line)
	}
	if err := value.Content[0].Decode(&p.Stage); err != nil {
		return fmt.Errorf("line %d: stage index: %w", value.Line, err)
	}
	if err := value.Content[1].Decode(&p.Port); err != nil {
		return fmt.Errorf("line %d: port name: %w", value.Line, err)
	}
	return nil
}

// Decode parses a configuration document. Unknown fields and duplicate
// object keys are rejected.
func Decode(data []byte, format Format) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Config("pipeline configuration is empty")
	}

	var doc Document
	switch format {
	case FormatJSON, "":
		if err := checkDuplicateKeys(data); err != nil {
			return nil, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, errors.Config("invalid pipeline configuration: %v", err).WithCause(err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, errors.Config("invalid pipeline configuration: %v", err).WithCause(err)
		}
	default:
		return nil, errors.Config("unsupported configuration format %q", format)
	}
	return &doc, nil
}

// Encode renders a document in the given format.
func (d *Document) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(d, "", "  ")
	case FormatYAML:
		return yaml.Marshal(d)
	default:
		return nil, errors.Config("unsupported configuration format %q", format)
	}
}

// checkDuplicateKeys walks the JSON token stream and fails on the first
// object that repeats a key. encoding/json keeps the last value silently.
func checkDuplicateKeys(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := walkValue(dec, "$"); err != nil {
		if err == io.EOF {
			return errors.Config("invalid pipeline configuration: unexpected end of input")
		}
		if appErr, ok := errors.AsAppError(err); ok {
			return appErr
		}
		return errors.Config("invalid pipeline configuration: %v", err).WithCause(err)
	}
	return nil
}

func walkValue(dec *json.Decoder, path string) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch delim {
	case '{':
		seen := make(map[string]bool)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return err
			}
			key, _ := keyTok.(string)
			if seen[key] {
				return errors.Config("duplicate key %q in %s", key, displayPath(path)).
					WithDetail("key", key)
			}
			seen[key] = true
			if err := walkValue(dec, path+"."+key); err != nil {
				return err
			}
		}
	case '[':
		for i := 0; dec.More(); i++ {
			if err := walkValue(dec, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	// closing delimiter
	_, err = dec.Token()
	return err
}

func displayPath(path string) string {
	if path == "$" {
		return "document root"
	}
	return strings.TrimPrefix(path, "$.")
}
