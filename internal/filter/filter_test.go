package filter

import (
	"strings"
	"testing"
)

func TestCleanRemovesFencedCodeBlock(t *testing.T) {
	in := "好的，我来帮您。\n```python\nimport os\nprint(\"hi\")\n```\n已为您打开客厅的灯。"

	got := Clean(in)

	if strings.Contains(got, "import os") || strings.Contains(got, "```") {
		t.Errorf("code block leaked through: %q", got)
	}
	if !strings.Contains(got, "已为您打开客厅的灯") {
		t.Errorf("prose lost: %q", got)
	}
}

func TestCleanRemovesIndentedCodeBlock(t *testing.T) {
	in := "执行结果如下：\n\n    for i in range(3):\n        do(i)\n\n完成。"

	got := Clean(in)

	if strings.Contains(got, "range(3)") {
		t.Errorf("indented code leaked through: %q", got)
	}
	if !strings.Contains(got, "完成") {
		t.Errorf("prose lost: %q", got)
	}
}

func TestCleanRemovesCodeLikeLines(t *testing.T) {
	tests := []string{
		"import homeassistant",
		"from homeassistant import core",
		"def turn_on(entity):",
		"class LightController:",
		"func main() {",
		"function handler() {",
		"const result = call()",
		"return response",
		"}",
		"});",
	}
	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			got := Clean("前面的话。\n" + line + "\n后面的话。")
			if strings.Contains(got, strings.TrimSuffix(line, "\n")) {
				t.Errorf("line survived: %q in %q", line, got)
			}
			if !strings.Contains(got, "前面的话") || !strings.Contains(got, "后面的话") {
				t.Errorf("prose lost: %q", got)
			}
		})
	}
}

func TestCleanKeepsPlainSpeech(t *testing.T) {
	in := "客厅的灯已经打开，当前亮度为 80%。"
	if got := Clean(in); got != in {
		t.Errorf("Clean(%q) = %q", in, got)
	}
}

func TestSpeechFallsBackWhenEmptied(t *testing.T) {
	in := "```\nimport os\n```"
	if got := Speech(in); got != Unsupported {
		t.Errorf("Speech = %q, want %q", got, Unsupported)
	}
}

func TestSpeechPassesThroughProse(t *testing.T) {
	if got := Speech("已开启空调，温度设为26度。"); got != "已开启空调，温度设为26度。" {
		t.Errorf("Speech = %q", got)
	}
}

func TestCleanCollapsesBlankRuns(t *testing.T) {
	in := "第一句。\n```\ncode\n```\n\n第二句。"
	got := Clean(in)
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank runs not collapsed: %q", got)
	}
}
