package resolve

import "strings"

// ModeKind selects which synonym table NormalizeMode consults.
type ModeKind string

const (
	ModeHVAC  ModeKind = "hvac"
	ModeFan   ModeKind = "fan"
	ModeSwing ModeKind = "swing"
)

// Synonym tables mapping free text (Chinese and English) to canonical
// Home Assistant mode values. Canonical values map to themselves so
// normalization is idempotent.
var hvacModes = map[string]string{
	"cool": "cool", "制冷": "cool", "冷风": "cool", "cooling": "cool",
	"heat": "heat", "制热": "heat", "暖风": "heat", "加热": "heat", "heating": "heat",
	"dry": "dry", "除湿": "dry", "抽湿": "dry", "干燥": "dry",
	"fan_only": "fan_only", "送风": "fan_only", "通风": "fan_only", "fan only": "fan_only",
	"auto": "auto", "自动": "auto",
	"heat_cool": "heat_cool", "冷暖": "heat_cool",
	"off": "off", "关闭": "off", "关": "off",
}

var fanModes = map[string]string{
	"auto": "auto", "自动": "auto",
	"low": "low", "低速": "low", "低": "low", "一档": "low",
	"medium": "medium", "中速": "medium", "中": "medium", "二档": "medium",
	"high": "high", "高速": "high", "高": "high", "三档": "high",
	"silent": "silent", "静音": "silent",
}

var swingModes = map[string]string{
	"off": "off", "关闭": "off", "停止摆动": "off",
	"on": "on", "开启": "on", "摆动": "on", "扫风": "on",
	"vertical": "vertical", "上下": "vertical", "上下扫风": "vertical", "上下摆动": "vertical",
	"horizontal": "horizontal", "左右": "horizontal", "左右扫风": "horizontal", "左右摆动": "horizontal",
	"both": "both", "全方位": "both", "立体扫风": "both",
}

var modeTables = map[ModeKind]map[string]string{
	ModeHVAC:  hvacModes,
	ModeFan:   fanModes,
	ModeSwing: swingModes,
}

// NormalizeMode maps free text to a canonical mode value. Returns
// ok=false for input the table does not cover; it never guesses.
func NormalizeMode(raw string, kind ModeKind) (string, bool) {
	table, ok := modeTables[kind]
	if !ok {
		return "", false
	}
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return "", false
	}
	if canonical, ok := table[key]; ok {
		return canonical, true
	}
	// Tolerate surrounding words ("调到制冷模式"): longest matching
	// synonym wins so "上下扫风" beats "扫风".
	bestLen := 0
	best := ""
	for syn, canonical := range table {
		if strings.Contains(key, syn) && len(syn) > bestLen {
			bestLen = len(syn)
			best = canonical
		}
	}
	if bestLen > 0 {
		return best, true
	}
	return "", false
}
