package codec

import (
	"errors"
	"strings"
	"time"
)

var errDate = errors.New("invalid date")

// Порядок важен: первый подошедший формат выигрывает.
var dateLayouts = []string{
	"2.1.2006",
	"2006-1-2",
	"2/1/2006",
	"2.1.2006 15:04:05",
	"2006-1-2 15:04:05",
	"2.1.2006 15:04",
	"2006-1-2 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

const (
	DateLayout     = "02.01.2006"
	DateTimeLayout = "02.01.2006 15:04:05"
)

// ParseDate разбирает дату в одном из допустимых форматов.
// Для date время отбрасывается.
func ParseDate(s string, withTime bool, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errDate
	}
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if !withTime {
			y, m, d := t.In(loc).Date()
			t = time.Date(y, m, d, 0, 0, 0, 0, loc)
		}
		return t, nil
	}
	return time.Time{}, errDate
}
