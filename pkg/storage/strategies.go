package storage

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/andrfilipenk/new-sub001/pkg/models"
)

// DatetimeLayout is the canonical stored form of datetime values. Values are
// normalized to UTC before formatting, so equal instants store identically.
const DatetimeLayout = "2006-01-02 15:04:05"

// DecimalScale is the number of fractional digits decimal values are rounded
// to on the way in. Matches the NUMERIC(12,4) column definition.
const DecimalScale = 4

// ValueStrategy converts one scalar kind between its semantic Go value and
// the form stored in that kind's value table. Transform round-trips: for any
// accepted v, FromStorage(ToStorage(v)) equals v up to the kind's defined
// precision.
type ValueStrategy interface {
	BackendType() models.BackendType
	// Table returns the value table this strategy writes to.
	Table() string
	// Validate rejects values the kind cannot represent.
	Validate(value any) error
	// ToStorage converts a semantic value to its stored form.
	ToStorage(value any) (any, error)
	// FromStorage converts a stored value back to its semantic form.
	FromStorage(raw any) (any, error)
}

type varcharStrategy struct{ table string }

func (s *varcharStrategy) BackendType() models.BackendType { return models.BackendVarchar }
func (s *varcharStrategy) Table() string                   { return s.table }

func (s *varcharStrategy) Validate(value any) error {
	str, err := toString(value)
	if err != nil {
		return err
	}
	if len(str) > 255 {
		return fmt.Errorf("varchar value exceeds 255 characters (got %d)", len(str))
	}
	return nil
}

func (s *varcharStrategy) ToStorage(value any) (any, error) {
	if err := s.Validate(value); err != nil {
		return nil, err
	}
	return toString(value)
}

func (s *varcharStrategy) FromStorage(raw any) (any, error) {
	return toString(raw)
}

type textStrategy struct{ table string }

func (s *textStrategy) BackendType() models.BackendType { return models.BackendText }
func (s *textStrategy) Table() string                   { return s.table }

func (s *textStrategy) Validate(value any) error {
	_, err := toString(value)
	return err
}

func (s *textStrategy) ToStorage(value any) (any, error) {
	return toString(value)
}

func (s *textStrategy) FromStorage(raw any) (any, error) {
	return toString(raw)
}

type intStrategy struct{ table string }

func (s *intStrategy) BackendType() models.BackendType { return models.BackendInt }
func (s *intStrategy) Table() string                   { return s.table }

func (s *intStrategy) Validate(value any) error {
	_, err := toInt64(value)
	return err
}

func (s *intStrategy) ToStorage(value any) (any, error) {
	return toInt64(value)
}

func (s *intStrategy) FromStorage(raw any) (any, error) {
	return toInt64(raw)
}

type decimalStrategy struct{ table string }

func (s *decimalStrategy) BackendType() models.BackendType { return models.BackendDecimal }
func (s *decimalStrategy) Table() string                   { return s.table }

func (s *decimalStrategy) Validate(value any) error {
	_, err := toFloat64(value)
	return err
}

// ToStorage rounds to DecimalScale fractional digits, so 19.99995 stores as
// 20.0000 and round-trips to exactly that.
func (s *decimalStrategy) ToStorage(value any) (any, error) {
	f, err := toFloat64(value)
	if err != nil {
		return nil, err
	}
	return roundToScale(f, DecimalScale), nil
}

func (s *decimalStrategy) FromStorage(raw any) (any, error) {
	f, err := toFloat64(raw)
	if err != nil {
		return nil, err
	}
	return roundToScale(f, DecimalScale), nil
}

type datetimeStrategy struct{ table string }

func (s *datetimeStrategy) BackendType() models.BackendType { return models.BackendDatetime }
func (s *datetimeStrategy) Table() string                   { return s.table }

func (s *datetimeStrategy) Validate(value any) error {
	_, err := toTime(value)
	return err
}

func (s *datetimeStrategy) ToStorage(value any) (any, error) {
	t, err := toTime(value)
	if err != nil {
		return nil, err
	}
	return t.UTC().Format(DatetimeLayout), nil
}

func (s *datetimeStrategy) FromStorage(raw any) (any, error) {
	t, err := toTime(raw)
	if err != nil {
		return nil, err
	}
	return t.UTC(), nil
}

func roundToScale(f float64, scale int) float64 {
	pow := math.Pow10(scale)
	return math.Round(f*pow) / pow
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case nil:
		return "", fmt.Errorf("nil is not a string value")
	default:
		return "", fmt.Errorf("value of type %T is not a string", value)
	}
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("value %v has a fractional part", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not an integer", v)
		}
		return n, nil
	case []byte:
		return toInt64(string(v))
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("value of type %T is not an integer", value)
	}
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not a number", v)
		}
		return f, nil
	case []byte:
		return toFloat64(string(v))
	default:
		return 0, fmt.Errorf("value of type %T is not a number", value)
	}
}

func toTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		return parseTimeString(v)
	case []byte:
		return parseTimeString(string(v))
	default:
		return time.Time{}, fmt.Errorf("value of type %T is not a datetime", value)
	}
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{DatetimeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("value %q is not a parseable datetime", s)
}
