// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package metrics

import (
	_ "embed"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

//go:embed rules/redaction.yml
var redactionYAML []byte

// rulesFile is the top-level structure of redaction.yml.
type rulesFile struct {
	Patterns []ruleEntry `yaml:"patterns"`
}

type ruleEntry struct {
	Name    string `yaml:"name"`
	Regex   string `yaml:"regex"`
	Replace string `yaml:"replace"`
}

type redactRule struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

var (
	rulesOnce sync.Once
	rules     []redactRule
	rulesErr  error
)

// loadRules parses the embedded YAML and compiles the rules once.
// Fail-closed: any compile failure means sanitization cannot guarantee
// coverage, and Sanitize redacts entire messages instead.
func loadRules() ([]redactRule, error) {
	rulesOnce.Do(func() {
		var f rulesFile
		if err := yaml.Unmarshal(redactionYAML, &f); err != nil {
			rulesErr = clerr.Wrapf(err, clerr.CodeMetricsRulesFailure, "parsing redaction rules")
			return
		}

		for _, e := range f.Patterns {
			re, err := regexp.Compile(e.Regex)
			if err != nil {
				rulesErr = clerr.Wrapf(err, clerr.CodeMetricsRulesFailure,
					"redaction rule %q failed to compile", e.Name)
				rules = nil
				return
			}
			rules = append(rules, redactRule{name: e.Name, pattern: re, replace: e.Replace})
		}
	})

	return rules, rulesErr
}

const fullRedaction = "***REDACTED***"

// Sanitize redacts credential-shaped substrings from a message before it
// is stored or logged. Sanitization is a metrics/logging boundary only:
// errors returned to the immediate caller of Generate are untouched.
func Sanitize(msg string) string {
	if msg == "" {
		return msg
	}

	compiled, err := loadRules()
	if err != nil {
		return fullRedaction
	}

	for _, r := range compiled {
		msg = r.pattern.ReplaceAllString(msg, r.replace)
	}
	return msg
}
