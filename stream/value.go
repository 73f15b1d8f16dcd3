package stream

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
)

// Value converts a stream attribute into the Go value the backend would
// return for it. Integral numbers become int64, other numbers float64.
func Value(v events.DynamoDBAttributeValue) (any, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return v.String(), nil
	case events.DataTypeNumber:
		return number(v.Number())
	case events.DataTypeBoolean:
		return v.Boolean(), nil
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeBinary:
		return v.Binary(), nil
	case events.DataTypeMap:
		out := make(map[string]any, len(v.Map()))
		for k, item := range v.Map() {
			val, err := Value(item)
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	case events.DataTypeList:
		out := make([]any, 0, len(v.List()))
		for _, item := range v.List() {
			val, err := Value(item)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case events.DataTypeStringSet:
		return v.StringSet(), nil
	case events.DataTypeNumberSet:
		out := make([]any, 0, len(v.NumberSet()))
		for _, s := range v.NumberSet() {
			n, err := number(s)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case events.DataTypeBinarySet:
		return v.BinarySet(), nil
	}
	return nil, fmt.Errorf("unsupported data type %v", v.DataType())
}

func number(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}
