package questionnaire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ConvertToAnswer converts a raw value, as produced by a form widget, a JSON
// decoder or an expression evaluator, into the Answer variant matching
// itemType. It never fails: unparsable numerics become zero and unknown types
// fall back to valueString.
func ConvertToAnswer(value interface{}, itemType ItemType) Answer {
	switch itemType {
	case ItemTypeString, ItemTypeText:
		return StringAnswer(stringify(value))
	case ItemTypeInteger:
		return IntegerAnswer(parseInteger(value))
	case ItemTypeDecimal:
		return DecimalAnswer(parseDecimal(value))
	case ItemTypeBoolean:
		return BooleanAnswer(parseBoolean(value))
	case ItemTypeDate:
		if t, ok := value.(time.Time); ok {
			return DateAnswer(t.Format("2006-01-02"))
		}
		return DateAnswer(stringify(value))
	case ItemTypeDateTime:
		if t, ok := value.(time.Time); ok {
			return DateTimeAnswer(t.Format(time.RFC3339))
		}
		return DateTimeAnswer(stringify(value))
	case ItemTypeCoding, ItemTypeChoice, ItemTypeOpenChoice:
		if c, ok := asCoding(value); ok {
			return CodingAnswer(c)
		}
		return StringAnswer(stringify(value))
	case ItemTypeGroup, ItemTypeDisplay, ItemTypeTime, ItemTypeURL,
		ItemTypeAttachment, ItemTypeReference, ItemTypeQuantity, ItemTypeUnspecified:
		return StringAnswer(stringify(value))
	}
	return StringAnswer(stringify(value))
}

// asCoding accepts values that already carry a code field.
func asCoding(value interface{}) (Coding, bool) {
	switch v := value.(type) {
	case Coding:
		return v, true
	case *Coding:
		if v != nil {
			return *v, true
		}
	case map[string]interface{}:
		code, ok := v["code"]
		if !ok {
			return Coding{}, false
		}
		c := Coding{Code: stringify(code)}
		c.System, _ = v["system"].(string)
		c.Display, _ = v["display"].(string)
		return c, true
	case map[string]string:
		code, ok := v["code"]
		if !ok {
			return Coding{}, false
		}
		return Coding{System: v["system"], Code: code, Display: v["display"]}, true
	}
	return Coding{}, false
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case Coding:
		if v.Display != "" {
			return v.Display
		}
		return v.Code
	default:
		return fmt.Sprint(v)
	}
}

// parseInteger follows parseInt: leading whitespace and sign, then digits;
// fractional input truncates toward zero.
func parseInteger(value interface{}) int64 {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float32:
		return truncate(float64(v))
	case float64:
		return truncate(v)
	}
	s := numericPrefix(stringify(value), false)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseDecimal follows parseFloat: the longest leading decimal literal wins.
func parseDecimal(value interface{}) float64 {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	}
	s := numericPrefix(stringify(value), true)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func truncate(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(f)
}

func numericPrefix(s string, allowFraction bool) string {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		digits++
	}
	if allowFraction && end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
			digits++
		}
	}
	if digits == 0 {
		return ""
	}
	return strings.TrimSuffix(s[:end], ".")
}

func parseBoolean(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	}
	return false
}
