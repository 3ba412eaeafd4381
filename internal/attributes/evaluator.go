package attributes

import (
	"fmt"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mrzor/latstat/internal/config"
)

// Evaluator handles compilation and evaluation of custom attribute expressions.
type Evaluator struct {
	customAttrs   []config.CustomAttribute
	compiledExprs []*vm.Program
	logger        *zap.Logger
}

// NewEvaluator creates a new attribute evaluator.
// It pre-compiles all custom attribute expressions.
func NewEvaluator(customAttrs []config.CustomAttribute, logger *zap.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	compiledExprs := make([]*vm.Program, len(customAttrs))
	for i, attr := range customAttrs {
		// Event fields differ per probe, so variables are resolved at run time.
		program, err := expr.Compile(attr.Expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for attribute %q: %w", attr.Name, err)
		}
		compiledExprs[i] = program
	}

	return &Evaluator{
		customAttrs:   customAttrs,
		compiledExprs: compiledExprs,
		logger:        logger,
	}, nil
}

// Evaluate computes the custom attributes for one event, given its fields.
// A failing expression is logged and skipped.
func (e *Evaluator) Evaluate(fields map[string]any) []attribute.KeyValue {
	if e == nil || len(e.customAttrs) == 0 || fields == nil {
		return nil
	}

	var attrs []attribute.KeyValue
	for i, customAttr := range e.customAttrs {
		output, err := expr.Run(e.compiledExprs[i], fields)
		if err != nil {
			e.logger.Warn("failed to evaluate attribute expression",
				zap.String("attribute", customAttr.Name),
				zap.Error(err))
			continue
		}
		if output == nil {
			continue
		}

		// A map result expands into one attribute per key.
		outputValue := reflect.ValueOf(output)
		if outputValue.Kind() == reflect.Map {
			for _, key := range outputValue.MapKeys() {
				attrName := customAttr.Name + "." + sanitizeAttributeName(fmt.Sprintf("%v", key.Interface()))
				attrs = append(attrs, toAttribute(attrName, outputValue.MapIndex(key).Interface()))
			}
			continue
		}
		attrs = append(attrs, toAttribute(customAttr.Name, output))
	}

	return attrs
}

// toAttribute keeps scalar types and stringifies everything else.
func toAttribute(name string, v any) attribute.KeyValue {
	switch x := v.(type) {
	case bool:
		return attribute.Bool(name, x)
	case int:
		return attribute.Int(name, x)
	case int64:
		return attribute.Int64(name, x)
	case float64:
		return attribute.Float64(name, x)
	case string:
		return attribute.String(name, x)
	default:
		return attribute.String(name, fmt.Sprint(v))
	}
}

// sanitizeAttributeName replaces non-alphanumeric characters with underscores.
func sanitizeAttributeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
