package config

import (
	"fmt"
	"strings"
)

// ValidationReport collects every violation found in a merged configuration.
// Unlike the fail-fast path used at startup, the report is meant for an
// operator checking a config file: all problems are surfaced in one pass.
type ValidationReport struct {
	Violations []*ConfigError
}

// OK reports whether the configuration passed every check.
func (r *ValidationReport) OK() bool {
	return len(r.Violations) == 0
}

// String renders the report, one violation per line.
func (r *ValidationReport) String() string {
	if r.OK() {
		return "configuration is valid"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d configuration problem(s):\n", len(r.Violations))
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "  - %s\n", v.Error())
	}
	return strings.TrimRight(b.String(), "\n")
}

// checkFragment evaluates the field schema against a merged fragment and
// returns every violation in schema order.
func checkFragment(f Fragment) []*ConfigError {
	var violations []*ConfigError
	for _, rule := range schema() {
		value, present := getPath(f, rule.path)
		if !present {
			violations = append(violations, &ConfigError{Path: rule.path, Constraint: "required field is missing"})
			continue
		}
		if !rule.ok(value) {
			violations = append(violations, &ConfigError{Path: rule.path, Constraint: rule.constraint, Got: value})
		}
	}
	return violations
}

// ValidateFile merges the given config file over the defaults and collects
// every violation. Environment overrides are deliberately not applied: the
// report describes the file as written, which is what an operator running
// --validate-config wants to see.
func ValidateFile(path string) (*ValidationReport, error) {
	file, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	merged := defaults()
	merge(merged, file)
	return &ValidationReport{Violations: checkFragment(merged)}, nil
}
