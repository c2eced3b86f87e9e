package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ServiceCommand is an explicit request to run a named script or
// automation, recognized before any model round trip.
type ServiceCommand struct {
	Domain string // "script" or "automation"
	Name   string // free-text name hint
}

// commandPrefixes mark an utterance as an explicit invocation even
// without the domain words.
var commandPrefixes = []string{"调用", "执行", "运行"}

// ParseServiceCommand recognizes explicit service-invocation commands
// like "执行回家脚本" or "调用晚安自动化". Utterances that merely talk
// about devices do not match. The name hint is the utterance with the
// command words removed.
func ParseServiceCommand(utterance string) (ServiceCommand, bool) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return ServiceCommand{}, false
	}

	prefixed := false
	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			prefixed = true
			break
		}
	}

	var domain string
	switch {
	case strings.Contains(text, "脚本"):
		domain = "script"
		text = strings.ReplaceAll(text, "脚本", "")
	case strings.Contains(text, "自动化"):
		domain = "automation"
		text = strings.ReplaceAll(text, "自动化", "")
	default:
		if !prefixed {
			return ServiceCommand{}, false
		}
		domain = "script"
	}

	name := strings.Trim(strings.TrimSpace(text), "。，！？!?,.")
	return ServiceCommand{Domain: domain, Name: name}, true
}

// ServiceRunner resolves and invokes explicit script/automation
// commands, bypassing the model entirely.
type ServiceRunner struct {
	Services HostServices
	Resolver EntityResolver
	Logger   *slog.Logger
}

// Run resolves the named entity and fires it. Scripts run via
// script.turn_on, automations via automation.trigger.
func (r *ServiceRunner) Run(ctx context.Context, cmd ServiceCommand) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entity, err := r.Resolver.ResolveEntity(ctx, cmd.Domain, cmd.Name)
	if err != nil {
		return "", err
	}

	service := "turn_on"
	if cmd.Domain == "automation" {
		service = "trigger"
	}

	logger.Info("explicit service invocation",
		"domain", cmd.Domain,
		"service", service,
		"entity_id", entity.EntityID,
	)

	target := entityTarget(entity.EntityID)
	if err := r.Services.CallService(ctx, cmd.Domain, service, nil, target); err != nil {
		return "", fmt.Errorf("执行%s失败: %w", entity.FriendlyName(), err)
	}
	return confirmMessage(cmd.Domain, service, entity.FriendlyName(), nil), nil
}
