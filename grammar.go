package espwifi

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Rule describes the final result tokens and the timeout of a command
// family. Empty fields inherit the Grammar defaults.
type Rule struct {
	Timeout Duration `yaml:"timeout,omitempty"`
	OK      []string `yaml:"ok,omitempty"`
	Fail    []string `yaml:"fail,omitempty"`
}

// Grammar holds the per firmware response grammar. The exact tokens and
// timeouts are defined by the ESP-AT firmware so they are configuration
// data rather than constants.
type Grammar struct {
	Timeout  Duration        `yaml:"timeout"`
	OK       []string        `yaml:"ok"`
	Fail     []string        `yaml:"fail"`
	Commands map[string]Rule `yaml:"commands"`
}

//go:embed grammar.yaml
var defaultGrammar []byte

// DefaultGrammar returns the grammar of the ESP-AT 2.x firmware.
func DefaultGrammar() *Grammar {
	g, err := decodeGrammar(defaultGrammar, new(Grammar))
	if err != nil {
		panic("espwifi: bad embedded grammar: " + err.Error())
	}
	return g
}

// ParseGrammar decodes a YAML grammar on top of the default one. Fields the
// data leaves empty keep their default values. Command rules are merged per
// family and per field.
func ParseGrammar(data []byte) (*Grammar, error) {
	return decodeGrammar(data, DefaultGrammar())
}

func decodeGrammar(data []byte, base *Grammar) (*Grammar, error) {
	var g Grammar
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("grammar: %w", err)
	}
	base.overlay(&g)
	if err := base.validate(); err != nil {
		return nil, err
	}
	return base, nil
}

// overlay copies the non-empty fields of o into g.
func (g *Grammar) overlay(o *Grammar) {
	if o.Timeout != 0 {
		g.Timeout = o.Timeout
	}
	if len(o.OK) != 0 {
		g.OK = o.OK
	}
	if len(o.Fail) != 0 {
		g.Fail = o.Fail
	}
	if len(o.Commands) != 0 && g.Commands == nil {
		g.Commands = make(map[string]Rule, len(o.Commands))
	}
	for name, r := range o.Commands {
		b := g.Commands[name]
		if r.Timeout != 0 {
			b.Timeout = r.Timeout
		}
		if len(r.OK) != 0 {
			b.OK = r.OK
		}
		if len(r.Fail) != 0 {
			b.Fail = r.Fail
		}
		g.Commands[name] = b
	}
}

// LoadGrammar reads a YAML grammar from the file at path.
func LoadGrammar(path string) (*Grammar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("grammar: %w", err)
	}
	return ParseGrammar(data)
}

func (g *Grammar) validate() error {
	if g.Timeout < 0 {
		return fmt.Errorf("grammar: %w: negative timeout", ErrInvalidConfig)
	}
	if len(g.OK) == 0 {
		g.OK = []string{"OK"}
	}
	if len(g.Fail) == 0 {
		g.Fail = []string{"ERROR"}
	}
	for name, r := range g.Commands {
		if r.Timeout < 0 {
			return fmt.Errorf("grammar: %w: negative timeout for %s", ErrInvalidConfig, name)
		}
		for _, tok := range append(r.OK, r.Fail...) {
			if tok == "" {
				return fmt.Errorf("grammar: %w: empty token for %s", ErrInvalidConfig, name)
			}
		}
	}
	return nil
}

// Rule returns the effective rule of the command called name (with or
// without the AT prefix and arguments).
func (g *Grammar) Rule(name string) Rule {
	r := g.Commands[family(name)]
	if r.Timeout == 0 {
		r.Timeout = g.Timeout
	}
	if len(r.OK) == 0 {
		r.OK = g.OK
	}
	if len(r.Fail) == 0 {
		r.Fail = g.Fail
	}
	return r
}

// family returns the command name without the AT prefix, the arguments and
// the query/set suffix: "AT+CWSAP=..." -> "+CWSAP".
func family(name string) string {
	name = strings.TrimPrefix(name, "AT")
	if i := strings.IndexAny(name, "=?"); i >= 0 {
		name = name[:i]
	}
	return name
}
