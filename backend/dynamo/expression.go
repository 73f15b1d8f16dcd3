package dynamo

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/jacentio/dataapi/statement"
)

// name builds an attribute name. Attribute names may contain dots, which
// DynamoDB would otherwise read as document paths.
func name(cols statement.ColumnMap, attr string) expression.NameBuilder {
	return expression.NameNoDotSplit(cols.Physical(attr))
}

// updateBuilder renders the actions of an update.
func updateBuilder(cols statement.ColumnMap, actions []statement.Action) expression.UpdateBuilder {
	var ub expression.UpdateBuilder
	for _, a := range actions {
		switch a.Op {
		case statement.OpSet:
			ub = ub.Set(name(cols, a.Attr), expression.Value(a.Value))
		case statement.OpRemove:
			ub = ub.Remove(name(cols, a.Attr))
		case statement.OpAdd:
			ub = ub.Add(name(cols, a.Attr), expression.Value(a.Value))
		}
	}
	return ub
}

// conditionBuilder renders a condition tree. A nil condition reports ok=false.
func conditionBuilder(cols statement.ColumnMap, c statement.Condition) (cb expression.ConditionBuilder, ok bool, err error) {
	switch v := c.(type) {
	case nil:
		return cb, false, nil
	case statement.Exists:
		return expression.AttributeExists(name(cols, v.Attr)), true, nil
	case statement.NotExists:
		return expression.AttributeNotExists(name(cols, v.Attr)), true, nil
	case statement.Compare:
		if v.Cmp == statement.NE {
			return expression.NotEqual(name(cols, v.Attr), expression.Value(v.Value)), true, nil
		}
		return expression.Equal(name(cols, v.Attr), expression.Value(v.Value)), true, nil
	case statement.And:
		return join(cols, v, expression.And)
	case statement.Or:
		return join(cols, v, expression.Or)
	}
	return cb, false, fmt.Errorf("dynamo: unsupported condition %T", c)
}

func join(cols statement.ColumnMap, members []statement.Condition,
	op func(expression.ConditionBuilder, expression.ConditionBuilder, ...expression.ConditionBuilder) expression.ConditionBuilder,
) (expression.ConditionBuilder, bool, error) {
	var parts []expression.ConditionBuilder
	for _, m := range members {
		cb, ok, err := conditionBuilder(cols, m)
		if err != nil {
			return expression.ConditionBuilder{}, false, err
		}
		if ok {
			parts = append(parts, cb)
		}
	}
	switch len(parts) {
	case 0:
		return expression.ConditionBuilder{}, false, nil
	case 1:
		return parts[0], true, nil
	}
	return op(parts[0], parts[1], parts[2:]...), true, nil
}

// projection renders an attribute allow-list.
func projection(cols statement.ColumnMap, attrs []string) (expression.ProjectionBuilder, bool) {
	if len(attrs) == 0 {
		return expression.ProjectionBuilder{}, false
	}
	names := make([]expression.NameBuilder, 0, len(attrs))
	for _, a := range attrs {
		names = append(names, name(cols, a))
	}
	return expression.NamesList(names[0], names[1:]...), true
}

// builder collects the optional parts of a request expression.
type builder struct {
	cols statement.ColumnMap
	b    expression.Builder
	used bool
}

func newBuilder(cols statement.ColumnMap) *builder {
	return &builder{cols: cols, b: expression.NewBuilder()}
}

func (b *builder) update(actions []statement.Action) *builder {
	if len(actions) > 0 {
		b.b = b.b.WithUpdate(updateBuilder(b.cols, actions))
		b.used = true
	}
	return b
}

func (b *builder) condition(c statement.Condition) error {
	cb, ok, err := conditionBuilder(b.cols, c)
	if err != nil || !ok {
		return err
	}
	b.b = b.b.WithCondition(cb)
	b.used = true
	return nil
}

func (b *builder) filter(c statement.Condition) error {
	cb, ok, err := conditionBuilder(b.cols, c)
	if err != nil || !ok {
		return err
	}
	b.b = b.b.WithFilter(cb)
	b.used = true
	return nil
}

func (b *builder) project(attrs []string) *builder {
	if pb, ok := projection(b.cols, attrs); ok {
		b.b = b.b.WithProjection(pb)
		b.used = true
	}
	return b
}

func (b *builder) keyEquals(attr string, v any) *builder {
	b.b = b.b.WithKeyCondition(expression.Key(b.cols.Physical(attr)).Equal(expression.Value(v)))
	b.used = true
	return b
}

// build returns the rendered expression, or ok=false when nothing was added.
func (b *builder) build() (expr expression.Expression, ok bool, err error) {
	if !b.used {
		return expr, false, nil
	}
	expr, err = b.b.Build()
	if err != nil {
		return expr, false, fmt.Errorf("dynamo: build expression: %w", err)
	}
	return expr, true, nil
}
