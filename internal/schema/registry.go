package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known bundle names.
const (
	BundleDefault          = "default"
	BundleHuman            = "human"
	BundleVertebrates      = "vertebrates"
	BundleNonVertebrates   = "nonvertebrates"
	BundlePlants           = "plants"
	BundleCellLines        = "cell lines"
	BundleMassSpectrometry = "mass spectrometry"
)

//go:embed bundles.yaml
var builtinBundles []byte

// Registry holds the known bundles in declaration order.
type Registry struct {
	bundles []*Bundle
	byName  map[string]*Bundle
}

// NewRegistry builds a registry. Bundle names must be unique.
func NewRegistry(bundles ...*Bundle) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Bundle, len(bundles))}
	for _, b := range bundles {
		if b == nil || strings.TrimSpace(b.Name) == "" {
			return nil, fmt.Errorf("bundle name is required")
		}
		if _, dup := r.byName[b.Name]; dup {
			return nil, fmt.Errorf("duplicate bundle %q", b.Name)
		}
		switch b.Phase {
		case PhaseStructural, PhaseTemplate, PhaseFinal:
		default:
			return nil, fmt.Errorf("bundle %q: unknown phase %q", b.Name, b.Phase)
		}
		r.bundles = append(r.bundles, b)
		r.byName[b.Name] = b
	}
	return r, nil
}

// Builtin returns the registry compiled from the embedded bundle definitions.
func Builtin() *Registry {
	r, err := LoadRegistry(bytes.NewReader(builtinBundles))
	if err != nil {
		panic(fmt.Sprintf("builtin bundles: %v", err))
	}
	return r
}

// LoadRegistryFile reads bundle definitions from a YAML file.
func LoadRegistryFile(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundles file: %w", err)
	}
	r, err := LoadRegistry(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Bundle returns the bundle called name.
func (r *Registry) Bundle(name string) (*Bundle, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// Bundles returns every bundle in declaration order.
func (r *Registry) Bundles() []*Bundle {
	out := make([]*Bundle, len(r.bundles))
	copy(out, r.bundles)
	return out
}

// Plan returns the bundles to apply for a classifier selection: structural bundles,
// then the selected template bundles in selection order, then final bundles.
// Each bundle appears at most once; unknown selections are ignored.
func (r *Registry) Plan(selected []string) []*Bundle {
	sel := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		sel[name] = struct{}{}
	}

	var out []*Bundle
	for _, b := range r.bundles {
		if b.Phase == PhaseStructural && b.Applicable(sel) {
			out = append(out, b)
		}
	}
	seen := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		b, ok := r.byName[name]
		if !ok || b.Phase != PhaseTemplate || !b.Applicable(sel) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, b)
	}
	for _, b := range r.bundles {
		if b.Phase == PhaseTemplate && b.Applies == Always {
			out = append(out, b)
		}
	}
	for _, b := range r.bundles {
		if b.Phase == PhaseFinal && b.Applicable(sel) {
			out = append(out, b)
		}
	}
	return out
}

type bundleFile struct {
	Bundles []bundleSpec `yaml:"bundles"`
}

type bundleSpec struct {
	Name    string       `yaml:"name"`
	Stage   string       `yaml:"stage"`
	Phase   string       `yaml:"phase"`
	Applies string       `yaml:"applies"`
	Columns []columnSpec `yaml:"columns"`
}

type columnSpec struct {
	Name     string      `yaml:"name"`
	Optional bool        `yaml:"optional"`
	Checks   []checkSpec `yaml:"checks"`
}

type checkSpec struct {
	Kind     string   `yaml:"kind"`
	Severity string   `yaml:"severity"`
	Values   []string `yaml:"values"`
	Pattern  string   `yaml:"pattern"`
	Allow    []string `yaml:"allow"`
	Message  string   `yaml:"message"`
}

// LoadRegistry parses YAML bundle definitions.
func LoadRegistry(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file bundleFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse bundles YAML: %w", err)
	}
	if len(file.Bundles) == 0 {
		return nil, fmt.Errorf("no bundles defined")
	}

	bundles := make([]*Bundle, 0, len(file.Bundles))
	for _, spec := range file.Bundles {
		b, err := compileBundle(spec)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	return NewRegistry(bundles...)
}

func compileBundle(spec bundleSpec) (*Bundle, error) {
	name := strings.TrimSpace(spec.Name)
	b := &Bundle{
		Name:    name,
		Stage:   strings.TrimSpace(spec.Stage),
		Phase:   Phase(normalizeWord(spec.Phase)),
		Applies: Applicability(normalizeWord(spec.Applies)),
	}
	if b.Phase == "" {
		b.Phase = PhaseTemplate
	}
	switch b.Applies {
	case "":
		b.Applies = Classified
		if b.Phase != PhaseTemplate {
			b.Applies = Always
		}
	case Always, Classified:
	default:
		return nil, fmt.Errorf("bundle %q: unknown applicability %q", name, spec.Applies)
	}
	if b.Stage == "" {
		b.Stage = name
		if b.Phase == PhaseTemplate {
			b.Stage = name + " template"
		}
	}

	seen := make(map[string]struct{}, len(spec.Columns))
	for _, col := range spec.Columns {
		colName := strings.TrimSpace(col.Name)
		if colName == "" {
			return nil, fmt.Errorf("bundle %q: column name is required", name)
		}
		if _, dup := seen[normalizeWord(colName)]; dup {
			return nil, fmt.Errorf("bundle %q: duplicate column %q", name, colName)
		}
		seen[normalizeWord(colName)] = struct{}{}

		rule := ColumnRule{Name: colName, Optional: col.Optional}
		for _, c := range col.Checks {
			p, err := compileCheck(c)
			if err != nil {
				return nil, fmt.Errorf("bundle %q column %q: %w", name, colName, err)
			}
			rule.Predicates = append(rule.Predicates, p)
		}
		b.Rules = append(b.Rules, rule)
	}
	return b, nil
}

func compileCheck(c checkSpec) (Predicate, error) {
	sev, err := ParseSeverity(c.Severity)
	if err != nil {
		return nil, err
	}
	switch normalizeWord(c.Kind) {
	case "required":
		return Required(), nil
	case "whitespace":
		return NoOuterWhitespace(), nil
	case "enum":
		if len(c.Values) == 0 {
			return nil, fmt.Errorf("enum check needs values")
		}
		return OneOf(sev, slices.Concat(c.Values, c.Allow), c.Message), nil
	case "pattern":
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern check: %w", err)
		}
		return Matches(sev, re, c.Allow, c.Message), nil
	case "term":
		return OntologyTerm(), nil
	case "integer":
		return PositiveInteger(c.Allow), nil
	}
	return nil, fmt.Errorf("unknown check kind %q", c.Kind)
}
