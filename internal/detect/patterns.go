package detect

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// CategoryID identifies one blocker category. The set is closed; declaration
// order in the category table defines matching precedence.
type CategoryID string

const (
	CategoryWaitingForUser   CategoryID = "waiting_for_user"
	CategoryFundingNeeded    CategoryID = "funding_needed"
	CategoryExternalAction   CategoryID = "external_action"
	CategoryRateLimited      CategoryID = "rate_limited"
	CategoryPermissionNeeded CategoryID = "permission_needed"
)

// Extractor pulls a structured field out of text that already matched the
// owning category. The first capture group becomes the field value.
type Extractor struct {
	Field   string
	Pattern *regexp.Regexp
}

// Category owns an ordered list of case-insensitive patterns plus optional
// field extractors. Categories are evaluated in declaration order; the first
// category with a hit is the primary one.
type Category struct {
	ID         CategoryID
	Reason     string // canned fallback reason when no sentence qualifies
	Patterns   []string
	Extractors []Extractor
}

// Match is one (category, pattern) hit from classification.
type Match struct {
	Category CategoryID
	Pattern  string
}

// builtinCategories is the default classification table. Patterns are
// matched case-insensitively as regular expressions against filtered text.
var builtinCategories = []Category{
	{
		ID:     CategoryWaitingForUser,
		Reason: "Agent is waiting for user input",
		Patterns: []string{
			`waiting for your`,
			`waiting for you to`,
			`awaiting your`,
			`let me know (?:if|when|how|which)`,
			`please confirm`,
			`please provide`,
			`please review`,
			`should i proceed`,
			`do you want me to`,
			`would you like me to`,
			`need your (?:input|approval|decision)`,
			`which option`,
		},
	},
	{
		ID:     CategoryFundingNeeded,
		Reason: "Agent needs funding to continue",
		Patterns: []string{
			`insufficient (?:funds|balance)`,
			`not enough (?:sol|funds|balance)`,
			`need(?:s|ed)? (?:more )?(?:\d+(?:\.\d+)?\s*)?sol\b`,
			`balance (?:is )?too low`,
			`(?:need|require)s? funding`,
			`top[- ]up`,
			`out of (?:funds|credits)`,
		},
		Extractors: []Extractor{
			{Field: "needed", Pattern: regexp.MustCompile(`(?i)need(?:s|ed)?\s+(?:more\s+)?(\d+(?:\.\d+)?)\s*sol`)},
			{Field: "current", Pattern: regexp.MustCompile(`(?i)(?:current |available )?balance(?:\s+is)?[^0-9]{0,10}(\d+(?:\.\d+)?)`)},
			{Field: "address", Pattern: regexp.MustCompile(`\b([1-9A-HJ-NP-Za-km-z]{32,44})\b`)},
		},
	},
	{
		ID:     CategoryExternalAction,
		Reason: "Agent is waiting on an external action",
		Patterns: []string{
			`please send`,
			`transfer (?:to|the)`,
			`deposit (?:to|into|the)`,
			`on your end`,
			`from your side`,
			`you(?:'ll| will)? need to (?:manually|create|set|configure|provide)`,
			`action required`,
			`manual(?:ly)? (?:step|intervention|action)`,
		},
	},
	{
		ID:     CategoryRateLimited,
		Reason: "Agent hit a rate limit",
		Patterns: []string{
			`rate[- ]limit`,
			`too many requests`,
			`\b429\b`,
			`quota (?:exceeded|reached)`,
			`usage limit`,
			`try again (?:later|in)`,
		},
	},
	{
		ID:     CategoryPermissionNeeded,
		Reason: "Agent needs permission to continue",
		Patterns: []string{
			`permission denied`,
			`permission (?:is )?(?:needed|required)`,
			`not authorized`,
			`unauthorized`,
			`access denied`,
			`requires? (?:your )?approval`,
			`\bforbidden\b`,
		},
	},
}

// compiledPattern pairs a source pattern string with its compiled regexp.
type compiledPattern struct {
	source string
	re     *regexp.Regexp
}

type compiledCategory struct {
	Category
	compiled []compiledPattern
}

// minClassifyLen guards against false positives on text fragments.
const minClassifyLen = 20

// Classifier evaluates text against an ordered category table.
type Classifier struct {
	categories []compiledCategory
}

// NewClassifier builds a classifier over the built-in category table.
func NewClassifier() *Classifier {
	c, err := newClassifier(builtinCategories)
	if err != nil {
		// Built-in patterns are authored constants; a compile failure here
		// is a programming error.
		panic(err)
	}
	return c
}

// NewClassifierWithExtra builds a classifier over the built-in table plus
// extra patterns merged into their categories (unknown category IDs are
// appended after the built-ins, preserving their declared order).
func NewClassifierWithExtra(extra []Category) (*Classifier, error) {
	merged := make([]Category, len(builtinCategories))
	copy(merged, builtinCategories)

	for _, ec := range extra {
		found := false
		for i := range merged {
			if merged[i].ID == ec.ID {
				merged[i].Patterns = append(append([]string{}, merged[i].Patterns...), ec.Patterns...)
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, ec)
		}
	}
	return newClassifier(merged)
}

func newClassifier(cats []Category) (*Classifier, error) {
	c := &Classifier{}
	for _, cat := range cats {
		cc := compiledCategory{Category: cat}
		for _, p := range cat.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q (%s): %w", p, cat.ID, err)
			}
			cc.compiled = append(cc.compiled, compiledPattern{source: p, re: re})
		}
		c.categories = append(c.categories, cc)
	}
	return c, nil
}

// Classify returns every (category, pattern) hit in text, in table order.
// It is pure and total: malformed input yields no matches, and texts shorter
// than minClassifyLen are skipped outright.
func (c *Classifier) Classify(text string) []Match {
	if len(strings.TrimSpace(text)) < minClassifyLen {
		return nil
	}

	var matches []Match
	for _, cat := range c.categories {
		for _, p := range cat.compiled {
			if p.re.MatchString(text) {
				matches = append(matches, Match{Category: cat.ID, Pattern: p.source})
			}
		}
	}
	return matches
}

// Extract runs the extractors of the given category against text. Only called
// for categories that already matched.
func (c *Classifier) Extract(id CategoryID, text string) map[string]string {
	var fields map[string]string
	for _, cat := range c.categories {
		if cat.ID != id {
			continue
		}
		for _, ex := range cat.Extractors {
			m := ex.Pattern.FindStringSubmatch(text)
			if len(m) < 2 {
				continue
			}
			if fields == nil {
				fields = make(map[string]string)
			}
			fields[ex.Field] = m[1]
		}
	}
	return fields
}

// FallbackReason returns the canned reason string for a category.
func (c *Classifier) FallbackReason(id CategoryID) string {
	for _, cat := range c.categories {
		if cat.ID == id {
			return cat.Reason
		}
	}
	return "Agent appears to be blocked"
}

// patternsFile is the YAML shape for user-supplied extra patterns.
type patternsFile struct {
	Categories []struct {
		ID       string   `yaml:"id"`
		Reason   string   `yaml:"reason"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"categories"`
}

// LoadPatternsFile reads extra categories/patterns from a YAML file.
func LoadPatternsFile(path string) ([]Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}

	var pf patternsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse patterns file: %w", err)
	}

	var cats []Category
	for _, c := range pf.Categories {
		if c.ID == "" || len(c.Patterns) == 0 {
			continue
		}
		cats = append(cats, Category{
			ID:       CategoryID(c.ID),
			Reason:   c.Reason,
			Patterns: c.Patterns,
		})
	}
	return cats, nil
}
