package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/wrenly/hearth/internal/homeassistant"
	"github.com/wrenly/hearth/internal/resolve"
)

// coverActions remaps generic on/off actions onto the cover services.
var coverActions = map[string]string{
	"turn_on":  "open_cover",
	"turn_off": "close_cover",
	"open":     "open_cover",
	"close":    "close_cover",
	"stop":     "stop_cover",
}

// handleControlDevice resolves a device by description and runs a
// simple service on it (on/off/toggle/lock/unlock).
func (r *Registry) handleControlDevice(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Services == nil || r.deps.Resolver == nil {
		return nil, fmt.Errorf("Home Assistant not configured")
	}

	description := stringArg(args, "description")
	action := strings.ToLower(strings.TrimSpace(stringArg(args, "action")))
	if description == "" || action == "" {
		return nil, fmt.Errorf("description and action are required")
	}

	domain := stringArg(args, "domain")
	entity, err := r.deps.Resolver.ResolveEntity(ctx, domain, description)
	if err != nil {
		return nil, err
	}

	service := action
	if entity.Domain() == "cover" {
		if mapped, ok := coverActions[action]; ok {
			service = mapped
		}
	}

	if !resolve.ValidateCapability(entity.Domain(), service, entity) {
		return nil, fmt.Errorf("%s不支持%s操作", entity.FriendlyName(), service)
	}

	data := map[string]any{}
	if entity.Domain() == "light" && service == "turn_on" {
		if pct, ok := floatArg(args, "brightness"); ok {
			data["brightness_pct"] = clampInt(int(pct), 0, 100)
		}
		if color := stringArg(args, "color"); color != "" {
			data["color_name"] = color
		}
	}

	if err := r.callEntity(ctx, entity, service, data); err != nil {
		return nil, err
	}
	return confirmMessage(entity.Domain(), service, entity.FriendlyName(), data), nil
}

// handleSetClimate applies temperature, HVAC mode, fan speed, and
// swing mode changes to a climate entity. Each requested setting is a
// separate service call; the first failure stops the rest.
func (r *Registry) handleSetClimate(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Services == nil || r.deps.Resolver == nil {
		return nil, fmt.Errorf("Home Assistant not configured")
	}

	description := stringArg(args, "description")
	if description == "" {
		return nil, fmt.Errorf("description is required")
	}

	entity, err := r.deps.Resolver.ResolveEntity(ctx, "climate", description)
	if err != nil {
		return nil, err
	}

	type op struct {
		service string
		data    map[string]any
		label   string
	}
	var ops []op

	if temp, ok := floatArg(args, "temperature"); ok {
		ops = append(ops, op{"set_temperature", map[string]any{"temperature": temp}, "温度"})
	}
	if raw := stringArg(args, "hvac_mode"); raw != "" {
		mode, ok := resolve.NormalizeMode(raw, resolve.ModeHVAC)
		if !ok {
			return nil, fmt.Errorf("无法识别的模式: %s", raw)
		}
		ops = append(ops, op{"set_hvac_mode", map[string]any{"hvac_mode": mode}, "模式"})
	}
	if raw := stringArg(args, "fan_mode"); raw != "" {
		mode, ok := resolve.NormalizeMode(raw, resolve.ModeFan)
		if !ok {
			return nil, fmt.Errorf("无法识别的风速: %s", raw)
		}
		ops = append(ops, op{"set_fan_mode", map[string]any{"fan_mode": mode}, "风速"})
	}
	if raw := stringArg(args, "swing_mode"); raw != "" {
		mode, ok := resolve.NormalizeMode(raw, resolve.ModeSwing)
		if !ok {
			return nil, fmt.Errorf("无法识别的扫风模式: %s", raw)
		}
		ops = append(ops, op{"set_swing_mode", map[string]any{"swing_mode": mode}, "扫风"})
	}

	if len(ops) == 0 {
		return nil, fmt.Errorf("没有要设置的内容")
	}

	var messages []string
	for _, o := range ops {
		if !resolve.ValidateCapability("climate", o.service, entity) {
			return nil, fmt.Errorf("%s不支持设置%s", entity.FriendlyName(), o.label)
		}
		if err := r.callEntity(ctx, entity, o.service, o.data); err != nil {
			return nil, fmt.Errorf("设置%s失败: %w", o.label, err)
		}
		messages = append(messages, confirmMessage("climate", o.service, entity.FriendlyName(), o.data))
	}
	return strings.Join(messages, "，"), nil
}

// handleSetCoverPosition moves a cover to a target position percent.
func (r *Registry) handleSetCoverPosition(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Services == nil || r.deps.Resolver == nil {
		return nil, fmt.Errorf("Home Assistant not configured")
	}

	description := stringArg(args, "description")
	pos, ok := floatArg(args, "position")
	if description == "" || !ok {
		return nil, fmt.Errorf("description and position are required")
	}

	entity, err := r.deps.Resolver.ResolveEntity(ctx, "cover", description)
	if err != nil {
		return nil, err
	}
	if !resolve.ValidateCapability("cover", "set_cover_position", entity) {
		return nil, fmt.Errorf("%s不支持位置控制，请改用开关", entity.FriendlyName())
	}

	data := map[string]any{"position": clampInt(int(pos), 0, 100)}
	if err := r.callEntity(ctx, entity, "set_cover_position", data); err != nil {
		return nil, err
	}
	return confirmMessage("cover", "set_cover_position", entity.FriendlyName(), data), nil
}

// mediaServices maps the tool's command vocabulary onto media_player
// services.
var mediaServices = map[string]string{
	"play":       "media_play",
	"pause":      "media_pause",
	"stop":       "media_stop",
	"next":       "media_next_track",
	"previous":   "media_previous_track",
	"volume_set": "volume_set",
	"play_media": "play_media",
}

// handleMediaCommand drives a media player.
func (r *Registry) handleMediaCommand(ctx context.Context, args map[string]any) (any, error) {
	if r.deps.Services == nil || r.deps.Resolver == nil {
		return nil, fmt.Errorf("Home Assistant not configured")
	}

	command := strings.ToLower(strings.TrimSpace(stringArg(args, "command")))
	service, ok := mediaServices[command]
	if !ok {
		return nil, fmt.Errorf("不支持的媒体命令: %s", command)
	}

	entity, err := r.deps.Resolver.ResolveEntity(ctx, "media_player", stringArg(args, "description"))
	if err != nil {
		return nil, err
	}
	if !resolve.ValidateCapability("media_player", service, entity) {
		return nil, fmt.Errorf("%s不支持%s", entity.FriendlyName(), command)
	}

	data := map[string]any{}
	switch service {
	case "volume_set":
		vol, ok := floatArg(args, "volume")
		if !ok {
			return nil, fmt.Errorf("volume is required for volume_set")
		}
		data["volume_level"] = float64(clampInt(int(vol), 0, 100)) / 100
	case "play_media":
		query := stringArg(args, "query")
		if query == "" {
			return nil, fmt.Errorf("query is required for play_media")
		}
		data["media_content_id"] = query
		data["media_content_type"] = "music"
	}

	if err := r.callEntity(ctx, entity, service, data); err != nil {
		return nil, err
	}
	return confirmMessage("media_player", service, entity.FriendlyName(), data), nil
}

// callEntity invokes a service in the entity's own domain, targeted at
// that entity.
func (r *Registry) callEntity(ctx context.Context, entity homeassistant.State, service string, data map[string]any) error {
	return r.deps.Services.CallService(ctx, entity.Domain(), service, data, entityTarget(entity.EntityID))
}

func entityTarget(entityID string) *homeassistant.ServiceTarget {
	return &homeassistant.ServiceTarget{EntityID: []string{entityID}}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
