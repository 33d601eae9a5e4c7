package eval

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scope kinds.
const (
	ScopeRole   = "role"
	ScopeSector = "sector"
)

// Scope is one audience or sector the golden set covers.
type Scope struct {
	Kind string `json:"kind" yaml:"kind"`
	Code string `json:"code" yaml:"code"`
}

func (s Scope) String() string { return s.Kind + ":" + s.Code }

// Question is a bilingual golden question. TopicsFR are matched for the
// French variant; when empty, ExpectedTopics are reused.
type Question struct {
	ID                string   `json:"id" yaml:"id"`
	Scope             Scope    `json:"scope" yaml:"scope"`
	TextEN            string   `json:"textEn" yaml:"en"`
	TextFR            string   `json:"textFr" yaml:"fr"`
	ExpectedTopics    []string `json:"expectedTopics" yaml:"topics"`
	TopicsFR          []string `json:"topicsFr,omitempty" yaml:"topics_fr"`
	RequiredCitations int      `json:"requiredCitations" yaml:"required_citations"`
}

// Topics returns the expected topics for lang.
func (q Question) Topics(lang string) []string {
	if lang == "fr" && len(q.TopicsFR) > 0 {
		return q.TopicsFR
	}
	return q.ExpectedTopics
}

// Text returns the question wording in lang.
func (q Question) Text(lang string) string {
	if lang == "fr" {
		return q.TextFR
	}
	return q.TextEN
}

// GoldenSet holds the questions of every scope in file order.
type GoldenSet struct {
	Questions []Question `yaml:"questions"`
}

// Scopes returns the distinct scopes, roles first, in first-seen order.
func (g *GoldenSet) Scopes() []Scope {
	var roles, sectors []Scope
	seen := map[Scope]bool{}
	for _, q := range g.Questions {
		if seen[q.Scope] {
			continue
		}
		seen[q.Scope] = true
		if q.Scope.Kind == ScopeRole {
			roles = append(roles, q.Scope)
		} else {
			sectors = append(sectors, q.Scope)
		}
	}
	return append(roles, sectors...)
}

// For returns the questions of scope.
func (g *GoldenSet) For(scope Scope) []Question {
	var out []Question
	for _, q := range g.Questions {
		if q.Scope == scope {
			out = append(out, q)
		}
	}
	return out
}

func (g *GoldenSet) validate() error {
	ids := map[string]bool{}
	for i, q := range g.Questions {
		switch {
		case q.ID == "":
			return fmt.Errorf("eval: question %d has no id", i)
		case ids[q.ID]:
			return fmt.Errorf("eval: duplicate question id %q", q.ID)
		case q.Scope.Kind != ScopeRole && q.Scope.Kind != ScopeSector:
			return fmt.Errorf("eval: question %s: scope kind must be role or sector", q.ID)
		case q.TextEN == "" || q.TextFR == "":
			return fmt.Errorf("eval: question %s must have en and fr text", q.ID)
		case len(q.ExpectedTopics) == 0:
			return fmt.Errorf("eval: question %s has no expected topics", q.ID)
		case q.RequiredCitations < 0:
			return fmt.Errorf("eval: question %s: negative required citations", q.ID)
		}
		ids[q.ID] = true
	}
	return nil
}

// LoadGolden reads a YAML golden set.
func LoadGolden(path string) (*GoldenSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: read golden set: %w", err)
	}
	var g GoldenSet
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("eval: parse golden set: %w", err)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func role(code string) Scope   { return Scope{Kind: ScopeRole, Code: code} }
func sector(code string) Scope { return Scope{Kind: ScopeSector, Code: code} }

func gq(id string, sc Scope, en, fr string, topicsEN, topicsFR []string) Question {
	return Question{ID: id, Scope: sc, TextEN: en, TextFR: fr,
		ExpectedTopics: topicsEN, TopicsFR: topicsFR, RequiredCitations: 1}
}

// DefaultGolden returns the built-in golden set.
func DefaultGolden() *GoldenSet {
	return &GoldenSet{Questions: []Question{
		gq("econ-inflation", role("economist"),
			"How has consumer price inflation evolved this year?",
			"Comment l'inflation des prix à la consommation a-t-elle évolué cette année ?",
			[]string{"inflation", "consumer price"}, []string{"inflation", "consommation"}),
		gq("econ-policy-rate", role("economist"),
			"What is the current central bank policy rate?",
			"Quel est le taux directeur actuel de la banque centrale ?",
			[]string{"policy rate", "central bank"}, []string{"taux directeur", "banque centrale"}),
		gq("journo-unemployment", role("journalist"),
			"What is the latest unemployment rate?",
			"Quel est le dernier taux de chômage ?",
			[]string{"unemployment"}, []string{"chômage"}),
		gq("journo-energy-bills", role("journalist"),
			"Why are household energy bills rising?",
			"Pourquoi les factures d'énergie des ménages augmentent-elles ?",
			[]string{"energy", "household"}, []string{"énergie", "ménages"}),
		gq("policy-housing-supply", role("policymaker"),
			"How many housing starts were recorded last quarter?",
			"Combien de mises en chantier de logements le dernier trimestre ?",
			[]string{"housing starts"}, []string{"mises en chantier"}),
		gq("policy-wage-growth", role("policymaker"),
			"How fast are wages growing compared with prices?",
			"À quel rythme les salaires progressent-ils par rapport aux prix ?",
			[]string{"wage", "prices"}, []string{"salaires", "prix"}),
		gq("energy-electricity", sector("energy"),
			"What are wholesale electricity prices doing?",
			"Comment évoluent les prix de gros de l'électricité ?",
			[]string{"electricity"}, []string{"électricité"}),
		gq("energy-gas-storage", sector("energy"),
			"How full are gas storage facilities?",
			"Quel est le niveau de remplissage des stocks de gaz ?",
			[]string{"gas storage"}, []string{"stocks de gaz"}),
		gq("housing-prices", sector("housing"),
			"How have house prices changed over the year?",
			"Comment les prix des logements ont-ils évolué sur un an ?",
			[]string{"house prices"}, []string{"prix des logements"}),
		gq("housing-rents", sector("housing"),
			"What is the trend in rents?",
			"Quelle est la tendance des loyers ?",
			[]string{"rent"}, []string{"loyer"}),
		gq("labour-employment", sector("labour"),
			"How many jobs were added last month?",
			"Combien d'emplois ont été créés le mois dernier ?",
			[]string{"employment", "jobs"}, []string{"emploi"}),
		gq("labour-vacancies", sector("labour"),
			"What is the job vacancy rate?",
			"Quel est le taux d'emplois vacants ?",
			[]string{"vacancy"}, []string{"vacants"}),
	}}
}
