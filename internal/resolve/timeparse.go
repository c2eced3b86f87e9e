package resolve

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeSpec is the result of parsing a natural-language time expression.
// Minutes is the offset from "now"; Absolute marks expressions that
// named a clock time rather than a duration.
type TimeSpec struct {
	Minutes  int
	Absolute bool
}

var (
	cnDurationRe = regexp.MustCompile(`(?:([0-9一二两三四五六七八九十]+)\s*个?\s*半?\s*小时)?\s*(?:([0-9一二两三四五六七八九十]+)\s*分钟)?`)
	enHourRe     = regexp.MustCompile(`(\d+)\s*(?:hours?|hrs?)\b`)
	enMinuteRe   = regexp.MustCompile(`(\d+)\s*(?:minutes?|mins?)\b`)
	cnClockRe    = regexp.MustCompile(`(明天)?\s*(凌晨|早上|上午|中午|下午|晚上)?\s*([0-9一二两三四五六七八九十]+)\s*点\s*(半|[0-9一二两三四五六七八九十]+分?)?`)
	cnDayPartRe  = regexp.MustCompile(`^(明天)?\s*(凌晨|早上|上午|中午|下午|晚上)$`)
)

// Default clock hours for day-part-only expressions like "明天早上".
var dayPartHours = map[string]int{
	"凌晨": 5,
	"早上": 8,
	"上午": 10,
	"中午": 12,
	"下午": 15,
	"晚上": 20,
}

// ParseRelativeTime parses Chinese and English duration and clock
// expressions relative to now. Ambiguous or unparseable input returns
// ok=false; the caller must not guess.
func ParseRelativeTime(text string, now time.Time) (TimeSpec, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimPrefix(s, "in ")
	if s == "" {
		return TimeSpec{}, false
	}

	if spec, ok := parseDuration(s); ok {
		return spec, true
	}
	if spec, ok := parseClock(s, now); ok {
		return spec, true
	}
	return TimeSpec{}, false
}

// parseDuration handles "30分钟", "1小时30分钟", "半小时", "90 minutes",
// "1 hour 30 minutes".
func parseDuration(s string) (TimeSpec, bool) {
	// "半小时" has no leading number, so the general pattern misses it.
	if strings.Contains(s, "半小时") && !cnNumberPrefixed(s, "半小时") {
		return TimeSpec{Minutes: 30}, true
	}

	if strings.Contains(s, "小时") || strings.Contains(s, "分钟") {
		m := cnDurationRe.FindStringSubmatch(s)
		if m != nil && (m[1] != "" || m[2] != "") {
			minutes := 0
			if m[1] != "" {
				h, ok := parseCNNumber(m[1])
				if !ok {
					return TimeSpec{}, false
				}
				minutes += h * 60
				// "N个半小时" means N.5 hours.
				if strings.Contains(s, m[1]+"个半小时") || strings.Contains(s, m[1]+"小时半") {
					minutes += 30
				}
			}
			if m[2] != "" {
				mm, ok := parseCNNumber(m[2])
				if !ok {
					return TimeSpec{}, false
				}
				minutes += mm
			}
			if minutes > 0 {
				return TimeSpec{Minutes: minutes}, true
			}
		}
	}

	minutes := 0
	matched := false
	if m := enHourRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		minutes += h * 60
		matched = true
	}
	if m := enMinuteRe.FindStringSubmatch(s); m != nil {
		mm, _ := strconv.Atoi(m[1])
		minutes += mm
		matched = true
	}
	if matched && minutes > 0 {
		return TimeSpec{Minutes: minutes}, true
	}
	return TimeSpec{}, false
}

// parseClock handles "下午3点", "明天早上", "晚上8点半", "15:04", "3pm".
// The resolved instant is converted to a positive minute offset from
// now; times already past today roll to tomorrow.
func parseClock(s string, now time.Time) (TimeSpec, bool) {
	if m := cnClockRe.FindStringSubmatch(s); m != nil {
		tomorrow := m[1] == "明天"
		dayPart := m[2]
		hour, ok := parseCNNumber(m[3])
		if !ok || hour > 23 {
			return TimeSpec{}, false
		}
		minute := 0
		switch {
		case m[4] == "半":
			minute = 30
		case m[4] != "":
			v, ok := parseCNNumber(strings.TrimSuffix(m[4], "分"))
			if !ok || v > 59 {
				return TimeSpec{}, false
			}
			minute = v
		}
		if (dayPart == "下午" || dayPart == "晚上") && hour < 12 {
			hour += 12
		}
		if dayPart == "中午" && hour < 11 {
			hour += 12
		}
		return offsetFrom(now, hour, minute, tomorrow)
	}

	// Day part with no clock time: "明天早上", "晚上".
	if m := cnDayPartRe.FindStringSubmatch(s); m != nil && m[2] != "" {
		return offsetFrom(now, dayPartHours[m[2]], 0, m[1] == "明天")
	}

	for _, format := range []string{"15:04", "3:04pm", "3:04 pm", "3pm", "3 pm"} {
		if t, err := time.Parse(format, s); err == nil {
			return offsetFrom(now, t.Hour(), t.Minute(), false)
		}
	}

	return TimeSpec{}, false
}

// offsetFrom converts a wall-clock target to a minute offset from now.
func offsetFrom(now time.Time, hour, minute int, tomorrow bool) (TimeSpec, bool) {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if tomorrow {
		target = target.Add(24 * time.Hour)
	} else if !target.After(now) {
		// Passed today; the next occurrence is tomorrow.
		target = target.Add(24 * time.Hour)
	}
	minutes := int(target.Sub(now).Minutes())
	if minutes <= 0 {
		return TimeSpec{}, false
	}
	return TimeSpec{Minutes: minutes, Absolute: true}, true
}

// cnNumberPrefixed reports whether substr is directly preceded by a
// number in s (so "1个半小时" is not mistaken for a bare "半小时").
func cnNumberPrefixed(s, substr string) bool {
	i := strings.Index(s, substr)
	if i <= 0 {
		return false
	}
	prev := s[:i]
	r := prev[len(prev)-1]
	if r >= '0' && r <= '9' {
		return true
	}
	// Trailing CJK numeral or "个".
	for _, suffix := range []string{"个", "一", "二", "两", "三", "四", "五", "六", "七", "八", "九", "十"} {
		if strings.HasSuffix(prev, suffix) {
			return true
		}
	}
	return false
}

var cnDigits = map[rune]int{
	'零': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// parseCNNumber parses ASCII digits or Chinese numerals up to 99.
func parseCNNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}

	// Forms: 十, 十五, 二十, 二十五, 五.
	runes := []rune(s)
	tenIdx := -1
	for i, r := range runes {
		if r == '十' {
			tenIdx = i
			break
		}
	}
	if tenIdx == -1 {
		if len(runes) != 1 {
			return 0, false
		}
		d, ok := cnDigits[runes[0]]
		return d, ok
	}

	tens := 1
	if tenIdx > 0 {
		if tenIdx != 1 {
			return 0, false
		}
		d, ok := cnDigits[runes[0]]
		if !ok {
			return 0, false
		}
		tens = d
	}
	ones := 0
	if tenIdx < len(runes)-1 {
		if tenIdx != len(runes)-2 {
			return 0, false
		}
		d, ok := cnDigits[runes[len(runes)-1]]
		if !ok {
			return 0, false
		}
		ones = d
	}
	return tens*10 + ones, true
}
