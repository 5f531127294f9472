package notify

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/vietddude/rpcsla/internal/core/domain"
)

// Field names an alert event attribute a condition can test.
type Field string

const (
	FieldEvent      Field = "event"
	FieldSeverity   Field = "severity"
	FieldMetricType Field = "metric_type"
	FieldOrgID      Field = "org_id"
	FieldEndpointID Field = "endpoint_id"
	FieldCompliance Field = "compliance"
	FieldMessage    Field = "message"
)

// Operator is the closed set of comparisons a condition can apply.
type Operator interface {
	operator()
}

type (
	Equals      struct{ Value string }
	NotEquals   struct{ Value string }
	GreaterThan struct{ Value float64 }
	LessThan    struct{ Value float64 }
	In          struct{ Values []string }
	NotIn       struct{ Values []string }
	Contains    struct{ Value string }
	Regex       struct{ Pattern *regexp.Regexp }
)

func (Equals) operator() {}
func (NotEquals) operator() {}
func (GreaterThan) operator() {}
func (LessThan) operator() {}
func (In) operator() {}
func (NotIn) operator() {}
func (Contains) operator() {}
func (Regex) operator() {}

// Condition tests one field of an alert event.
type Condition struct {
	Field Field
	Op    Operator
}

// Match reports whether the event satisfies the condition.
func (c Condition) Match(ev domain.AlertEvent) bool {
	v := fieldValue(c.Field, ev)

	switch op := c.Op.(type) {
	case Equals:
		return v == op.Value
	case NotEquals:
		return v != op.Value
	case GreaterThan:
		n, err := strconv.ParseFloat(v, 64)
		return err == nil && n > op.Value
	case LessThan:
		n, err := strconv.ParseFloat(v, 64)
		return err == nil && n < op.Value
	case In:
		return slices.Contains(op.Values, v)
	case NotIn:
		return !slices.Contains(op.Values, v)
	case Contains:
		return strings.Contains(v, op.Value)
	case Regex:
		return op.Pattern != nil && op.Pattern.MatchString(v)
	default:
		return false
	}
}

func fieldValue(f Field, ev domain.AlertEvent) string {
	a := ev.Alert
	switch f {
	case FieldEvent:
		return string(ev.Type)
	case FieldSeverity:
		return string(a.Severity)
	case FieldMetricType:
		return string(a.Type)
	case FieldOrgID:
		return a.OrgID
	case FieldEndpointID:
		return a.EndpointID
	case FieldCompliance:
		return strconv.FormatFloat(a.Compliance, 'f', -1, 64)
	case FieldMessage:
		return a.Message
	}
	return ""
}

// ConditionConfig is the YAML form of a condition.
type ConditionConfig struct {
	Field  string   `yaml:"field"`
	Op     string   `yaml:"op"`
	Value  string   `yaml:"value"`
	Values []string `yaml:"values"`
}

// ParseCondition converts a config entry into a Condition.
func ParseCondition(cfg ConditionConfig) (Condition, error) {
	field := Field(cfg.Field)
	switch field {
	case FieldEvent, FieldSeverity, FieldMetricType, FieldOrgID, FieldEndpointID, FieldCompliance, FieldMessage:
	default:
		return Condition{}, fmt.Errorf("%w: unknown condition field %q", domain.ErrConfiguration, cfg.Field)
	}

	var op Operator
	switch strings.ToLower(cfg.Op) {
	case "equals", "eq":
		op = Equals{Value: cfg.Value}
	case "not_equals", "ne":
		op = NotEquals{Value: cfg.Value}
	case "greater_than", "gt":
		n, err := strconv.ParseFloat(cfg.Value, 64)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: greater_than needs a number: %v", domain.ErrConfiguration, err)
		}
		op = GreaterThan{Value: n}
	case "less_than", "lt":
		n, err := strconv.ParseFloat(cfg.Value, 64)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: less_than needs a number: %v", domain.ErrConfiguration, err)
		}
		op = LessThan{Value: n}
	case "in":
		op = In{Values: cfg.Values}
	case "not_in":
		op = NotIn{Values: cfg.Values}
	case "contains":
		op = Contains{Value: cfg.Value}
	case "regex":
		re, err := regexp.Compile(cfg.Value)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: invalid regex: %v", domain.ErrConfiguration, err)
		}
		op = Regex{Pattern: re}
	default:
		return Condition{}, fmt.Errorf("%w: unknown operator %q", domain.ErrConfiguration, cfg.Op)
	}
	return Condition{Field: field, Op: op}, nil
}
