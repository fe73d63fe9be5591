package subject

import (
	"strconv"
	"strings"
)

// Comparison operators recognised in label specifications, longest first so
// that ">=" is not read as ">" followed by "=".
var labelOperators = []string{">=", "<=", "==", "!=", ">", "<"}

// MatchesLabel evaluates a label specification against this production's
// labels. A bare label name matches when the label is present and truthy;
// a specification of the form name<op>value (op one of > >= < <= == !=)
// compares the label value against the literal. A missing label, or a
// comparison that cannot be evaluated, is false.
func (p *Production) MatchesLabel(spec string) bool {
	spec = strings.TrimSpace(spec)
	name, op, literal := splitLabelSpec(spec)

	value, ok := p.Labels[name]
	if !ok {
		return false
	}
	if op == "" {
		return truthy(value)
	}
	return compareLabel(value, op, literal)
}

// splitLabelSpec separates a specification into label name, operator, and
// comparison literal. The operator and literal are empty for a bare name.
func splitLabelSpec(spec string) (name, op, literal string) {
	for _, candidate := range labelOperators {
		if idx := strings.Index(spec, candidate); idx > 0 {
			return strings.TrimSpace(spec[:idx]), candidate, strings.TrimSpace(spec[idx+len(candidate):])
		}
	}
	return spec, "", ""
}

// compareLabel compares a label value against a literal. When both sides
// parse as numbers the comparison is numeric (booleans count as 1/0);
// otherwise only equality operators apply, on the string forms.
func compareLabel(value interface{}, op, literal string) bool {
	lhs, lhsNumeric := toFloat(value)
	rhs, rhsNumeric := toFloat(literal)

	if lhsNumeric && rhsNumeric {
		switch op {
		case ">":
			return lhs > rhs
		case ">=":
			return lhs >= rhs
		case "<":
			return lhs < rhs
		case "<=":
			return lhs <= rhs
		case "==":
			return lhs == rhs
		case "!=":
			return lhs != rhs
		}
		return false
	}

	lhsStr := asString(value)
	switch op {
	case "==":
		return lhsStr == literal
	case "!=":
		return lhsStr != literal
	}
	// Ordering comparisons are not defined for non-numeric labels.
	return false
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			// Boolean literals compare as numbers, matching how labellers
			// record true/false values.
			switch v {
			case "true", "True":
				return 1, true
			case "false", "False":
				return 0, true
			}
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// MatchesFilter evaluates a ledger query filter against this production.
// The path selects an attribute ("label" routes through MatchesLabel,
// anything else is looked up on the production and then its meta map).
func (p *Production) MatchesFilter(path []string, value string) bool {
	if len(path) == 0 {
		return false
	}
	switch path[0] {
	case "label", "labels":
		return p.MatchesLabel(value)
	case "status":
		return string(p.Status) == value
	case "pipeline":
		return p.Pipeline == value
	case "name":
		return p.Name == value
	default:
		if meta, ok := p.Meta[path[0]]; ok {
			return asString(meta) == value
		}
		return false
	}
}
