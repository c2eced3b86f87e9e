package agent

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/wrenly/hearth/internal/homeassistant"
)

// PromptContext carries the variables rendered into the base system
// prompt.
type PromptContext struct {
	HostName string
	UserName string
	Entities []homeassistant.State
	Extra    string
}

// ContextFunc supplies the prompt context for a turn, typically by
// listing the exposed entities from Home Assistant.
type ContextFunc func(ctx context.Context) (PromptContext, error)

// defaultPromptTemplate is the base instruction block. Feature-selected
// tool prompts are appended below it per utterance.
const defaultPromptTemplate = `你是{{if .HostName}}{{.HostName}}的{{end}}智能家居语音助手。
用中文简短回答，像对话一样自然，不要输出代码或列表符号。
操作设备时必须使用提供的工具，不要声称已完成未执行的操作。
{{- if .UserName}}
当前用户: {{.UserName}}
{{- end}}
{{- if .Entities}}
可用设备:
{{- range .Entities}}
- {{.FriendlyName}} ({{.EntityID}}): {{.State}}
{{- end}}
{{- end}}
{{- if .Extra}}
{{.Extra}}
{{- end}}`

var basePrompt = template.Must(template.New("system").Parse(defaultPromptTemplate))

// templateError marks a prompt-rendering failure. It is terminal for
// the turn: the caller answers with an error speech instead of
// falling back.
type templateError struct{ err error }

func (e *templateError) Error() string { return fmt.Sprintf("render system prompt: %v", e.err) }
func (e *templateError) Unwrap() error { return e.err }

// renderSystemPrompt builds the system message for one turn: the base
// template plus the tool prompts selected for the utterance.
func (o *Orchestrator) renderSystemPrompt(ctx context.Context, utterance string) (string, error) {
	var pc PromptContext
	if o.deps.Context != nil {
		var err error
		pc, err = o.deps.Context(ctx)
		if err != nil {
			return "", &templateError{err}
		}
	}

	var b strings.Builder
	if err := basePrompt.Execute(&b, pc); err != nil {
		return "", &templateError{err}
	}

	if o.deps.Catalog != nil {
		for _, p := range o.deps.Catalog.SelectPrompts(utterance) {
			b.WriteString("\n")
			b.WriteString(strings.TrimSpace(p))
		}
	}
	return b.String(), nil
}
