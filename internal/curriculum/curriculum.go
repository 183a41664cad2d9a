// Package curriculum holds the static assignment policy: class levels and their cycle,
// default subject coefficients and the subjects implied by a teacher specialty.
package curriculum

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/school-bulletin-api/internal/models"
)

//go:embed policy.yaml
var defaultPolicy []byte

// Level describes a class level.
type Level struct {
	Code   string       `yaml:"code" json:"code"`
	Label  string       `yaml:"label" json:"label"`
	Prefix string       `yaml:"prefix" json:"prefix"`
	Cycle  models.Cycle `yaml:"cycle" json:"cycle"`
}

// Policy is the parsed assignment policy.
type Policy struct {
	Levels       []Level `yaml:"levels"`
	Coefficients struct {
		Default  int               `yaml:"default"`
		Subjects map[string]int    `yaml:"subjects"`
		Aliases  map[string]string `yaml:"aliases"`
	} `yaml:"coefficients"`
	Specialties map[string][]string `yaml:"specialties"`

	levels       map[string]Level
	coefficients map[string]int
	aliases      map[string]string
	specialties  map[string][]string
}

var (
	loadOnce sync.Once
	loaded   *Policy
)

// Default returns the embedded policy. It panics if the embedded file is invalid.
func Default() *Policy {
	loadOnce.Do(func() {
		p, err := Parse(defaultPolicy)
		if err != nil {
			panic(fmt.Sprintf("curriculum: embedded policy: %v", err))
		}
		loaded = p
	})
	return loaded
}

// Parse decodes and indexes a YAML policy document.
func Parse(data []byte) (*Policy, error) {
	p := &Policy{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if len(p.Levels) == 0 {
		return nil, fmt.Errorf("policy declares no levels")
	}
	if p.Coefficients.Default <= 0 {
		return nil, fmt.Errorf("default coefficient must be positive")
	}

	p.levels = make(map[string]Level, len(p.Levels))
	for _, l := range p.Levels {
		if l.Cycle != models.CycleLowerSecondary && l.Cycle != models.CycleUpperSecondary {
			return nil, fmt.Errorf("level %s: unknown cycle %q", l.Code, l.Cycle)
		}
		p.levels[strings.ToUpper(l.Code)] = l
	}
	p.coefficients = make(map[string]int, len(p.Coefficients.Subjects))
	for name, coef := range p.Coefficients.Subjects {
		p.coefficients[Normalize(name)] = coef
	}
	p.aliases = make(map[string]string, len(p.Coefficients.Aliases))
	for alias, name := range p.Coefficients.Aliases {
		p.aliases[Normalize(alias)] = Normalize(name)
	}
	p.specialties = make(map[string][]string, len(p.Specialties))
	for specialty, subjects := range p.Specialties {
		p.specialties[Normalize(specialty)] = subjects
	}
	return p, nil
}

// Level looks up a level by code, case insensitively.
func (p *Policy) Level(code string) (Level, bool) {
	l, ok := p.levels[strings.ToUpper(strings.TrimSpace(code))]
	return l, ok
}

// LevelCodes lists level codes in declaration order.
func (p *Policy) LevelCodes() []string {
	codes := make([]string, 0, len(p.Levels))
	for _, l := range p.Levels {
		codes = append(codes, l.Code)
	}
	return codes
}

// CoefficientFor returns the default coefficient of a subject name, accepting known aliases.
func (p *Policy) CoefficientFor(subjectName string) int {
	key := Normalize(subjectName)
	if coef, ok := p.coefficients[key]; ok {
		return coef
	}
	if canonical, ok := p.aliases[key]; ok {
		if coef, ok := p.coefficients[canonical]; ok {
			return coef
		}
	}
	return p.Coefficients.Default
}

// SubjectsForSpecialty returns the normalised subject names implied by a teacher specialty.
func (p *Policy) SubjectsForSpecialty(specialty string) []string {
	names := p.specialties[Normalize(specialty)]
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, Normalize(n))
	}
	return out
}

// MatchesSubject reports whether subjectName is one of the normalised names, directly or through an alias.
func (p *Policy) MatchesSubject(subjectName string, normalised []string) bool {
	key := Normalize(subjectName)
	if canonical, ok := p.aliases[key]; ok {
		key = canonical
	}
	for _, n := range normalised {
		if n == key {
			return true
		}
	}
	return false
}

// Normalize lower-cases s, strips diacritics and collapses inner whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
