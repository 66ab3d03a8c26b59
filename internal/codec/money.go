package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/currency"

	"hlgate/internal/schema"
)

var (
	errAmount = errors.New("malformed amount")
	errRange  = errors.New("is out of range")
)

const defaultScale = 2

var symbols = map[string]string{
	"RUB": "₽",
	"USD": "$",
	"EUR": "€",
	"KZT": "₸",
	"BYN": "Br",
	"CNY": "¥",
}

// Scale — число знаков после запятой для валюты по ISO 4217.
func Scale(code string) int {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return defaultScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

func symbol(code string) string {
	if s, ok := symbols[code]; ok {
		return s
	}
	return code
}

// NormalizeAmount убирает пробелы и разделители разрядов и приводит
// десятичную запятую к точке: "1 234,50" -> "1234.50", "1.234,5" -> "1234.5".
func NormalizeAmount(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\t', '\'', '_':
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(s, "+")

	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		// последний из разделителей — десятичный
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") == 1 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}
	return s
}

func moneyPattern(scale int) *regexp.Regexp {
	n := max(2, scale)
	return regexp.MustCompile(fmt.Sprintf(`^-?\d+(\.\d{1,%d})?$`, n))
}

// patterns по масштабу; валют с масштабом больше 4 не бывает
var moneyPatterns = func() map[int]*regexp.Regexp {
	m := make(map[int]*regexp.Regexp, 5)
	for i := 0; i <= 4; i++ {
		m[i] = moneyPattern(i)
	}
	return m
}()

// ValidAmount проверяет формат суммы после нормализации.
func ValidAmount(s string, scale int) bool {
	re, ok := moneyPatterns[scale]
	if !ok {
		re = moneyPattern(scale)
	}
	return re.MatchString(NormalizeAmount(s))
}

// toMinor переводит десятичную строку в минимальные единицы, округляя
// половину от нуля (half-up по модулю).
func toMinor(s string, scale int) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")
	if intPart == "" && frac == "" {
		return 0, errAmount
	}
	if !allDigits(intPart) || !allDigits(frac) {
		return 0, errAmount
	}

	roundUp := false
	if len(frac) > scale {
		roundUp = frac[scale] >= '5'
		frac = frac[:scale]
	} else {
		frac += strings.Repeat("0", scale-len(frac))
	}

	digits := strings.TrimLeft(intPart+frac, "0")
	var n int64
	if digits != "" {
		v, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return 0, err
		}
		n = v
	}
	if roundUp {
		if n == math.MaxInt64 {
			return 0, strconv.ErrRange
		}
		n++
	}
	if neg {
		n = -n
	}
	return n, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MajorString — "1050" минорных единиц при масштабе 2 => "10.50".
func MajorString(minor int64, scale int) string {
	neg := minor < 0
	u := uint64(minor)
	if neg {
		u = uint64(-minor)
	}
	s := strconv.FormatUint(u, 10)
	if scale > 0 {
		if len(s) <= scale {
			s = strings.Repeat("0", scale-len(s)+1) + s
		}
		s = s[:len(s)-scale] + "." + s[len(s)-scale:]
	}
	if neg {
		s = "-" + s
	}
	return s
}

// Display форматирует сумму по-русски: "15 000,50 ₽".
func Display(minor int64, code string, scale int) string {
	major := MajorString(minor, scale)
	sign := ""
	if strings.HasPrefix(major, "-") {
		sign, major = "-", major[1:]
	}
	intPart, frac, _ := strings.Cut(major, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	b.WriteByte(' ')
	b.WriteString(symbol(code))
	return b.String()
}

// DebtSign: debit — нам должны, credit — мы должны.
func DebtSign(minor int64) string {
	switch {
	case minor > 0:
		return "debit"
	case minor < 0:
		return "credit"
	}
	return "zero"
}

// decodeMinor — вход money_minor в минимальные единицы.
//   - целое JSON-число: уже минимальные единицы;
//   - строка или число с точкой: основные единицы, умножаем на 10^scale;
//   - целая строка: по integer_input поля (по умолчанию minor).
//
// Ошибка означает, что нужен запасной путь через float.
func decodeMinor(f *schema.Field, raw any, scale int) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return int64(v), nil
		}
		return toMinor(strconv.FormatFloat(v, 'f', -1, 64), scale)
	case json.Number:
		s := v.String()
		if !strings.ContainsAny(s, ".eE") {
			return strconv.ParseInt(s, 10, 64)
		}
		return toMinor(NormalizeAmount(s), scale)
	case string:
		s := NormalizeAmount(v)
		if strings.Contains(s, ".") || f.Constraints.MajorIntegers() {
			return toMinor(s, scale)
		}
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, fmt.Errorf("unsupported money value %T", raw)
}

// fallbackMinor — round(float(value) * 10^scale). Значение, которое не
// представимо в int64, — ошибка, а не ноль.
func fallbackMinor(raw any, scale int) (int64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case json.Number:
		x, err := v.Float64()
		if err != nil {
			return 0, errRange
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(NormalizeAmount(v), 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return 0, errRange
			}
			return 0, errAmount
		}
		f = x
	default:
		return 0, errAmount
	}
	r := math.Round(f * math.Pow10(scale))
	if math.IsNaN(r) || math.IsInf(r, 0) || math.Abs(r) >= math.MaxInt64 {
		return 0, errRange
	}
	return int64(r), nil
}
