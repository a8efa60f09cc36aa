package normalize

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules are the signals that mark an email as automated rather than
// personal. Matching is case-insensitive substring matching.
type Rules struct {
	Headers        []string `yaml:"headers"`
	ReturnPath     []string `yaml:"return_path"`
	SenderKeywords []string `yaml:"sender_keywords"`
	DeniedDomains  []string `yaml:"denied_domains"`
}

// DefaultRules returns the built-in classification lists.
func DefaultRules() Rules {
	return Rules{
		Headers:        []string{"List-Unsubscribe", "Precedence", "Auto-Submitted"},
		ReturnPath:     []string{"mailer", "bounce", "noreply", "no-reply"},
		SenderKeywords: []string{"no-reply", "noreply", "mailer", "notifications", "updates"},
		DeniedDomains:  []string{"@amazon.", "@google.", "@facebook.", "@linkedin.", "@mailchimp.", "@salesforce."},
	}
}

// LoadRules reads a YAML rules file. Lists omitted from the file keep their
// built-in values, so a file can extend only the domain deny-list.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules file: %w", err)
	}
	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return rules, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if len(override.Headers) > 0 {
		rules.Headers = override.Headers
	}
	if len(override.ReturnPath) > 0 {
		rules.ReturnPath = override.ReturnPath
	}
	if len(override.SenderKeywords) > 0 {
		rules.SenderKeywords = override.SenderKeywords
	}
	if len(override.DeniedDomains) > 0 {
		rules.DeniedDomains = override.DeniedDomains
	}
	return rules, nil
}

func containsAny(s string, needles []string) (string, bool) {
	s = strings.ToLower(s)
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return n, true
		}
	}
	return "", false
}
