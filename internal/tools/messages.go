package tools

import "fmt"

// messageFunc formats the spoken confirmation for one (domain, service)
// pair. name is the entity's friendly name; data is the service data
// that was sent.
type messageFunc func(name string, data map[string]any) string

func plain(format string) messageFunc {
	return func(name string, _ map[string]any) string {
		return fmt.Sprintf(format, name)
	}
}

// serviceMessages maps (domain, service) to a confirmation formatter.
// A lookup table instead of per-domain conditionals so adding a domain
// is one entry, not another branch.
var serviceMessages = map[string]map[string]messageFunc{
	"light": {
		"turn_on": func(name string, data map[string]any) string {
			if pct, ok := data["brightness_pct"]; ok {
				return fmt.Sprintf("已打开%s，亮度%v%%", name, pct)
			}
			if color, ok := data["color_name"]; ok {
				return fmt.Sprintf("已把%s调成%v色", name, color)
			}
			return fmt.Sprintf("已打开%s", name)
		},
		"turn_off": plain("已关闭%s"),
		"toggle":   plain("已切换%s"),
	},
	"switch": {
		"turn_on":  plain("已打开%s"),
		"turn_off": plain("已关闭%s"),
		"toggle":   plain("已切换%s"),
	},
	"fan": {
		"turn_on":  plain("已打开%s"),
		"turn_off": plain("已关闭%s"),
		"oscillate": func(name string, _ map[string]any) string {
			return fmt.Sprintf("%s已开始摆动", name)
		},
	},
	"cover": {
		"open_cover":  plain("已打开%s"),
		"close_cover": plain("已关闭%s"),
		"stop_cover":  plain("已停止%s"),
		"set_cover_position": func(name string, data map[string]any) string {
			return fmt.Sprintf("已把%s开合度调到%v%%", name, data["position"])
		},
	},
	"lock": {
		"lock":   plain("已为%s上锁"),
		"unlock": plain("已解锁%s"),
		"open":   plain("已打开%s"),
	},
	"climate": {
		"turn_on":  plain("已打开%s"),
		"turn_off": plain("已关闭%s"),
		"set_temperature": func(name string, data map[string]any) string {
			return fmt.Sprintf("已把%s温度设为%v度", name, data["temperature"])
		},
		"set_hvac_mode": func(name string, data map[string]any) string {
			return fmt.Sprintf("已把%s切换到%v模式", name, data["hvac_mode"])
		},
		"set_fan_mode": func(name string, data map[string]any) string {
			return fmt.Sprintf("已把%s风速调为%v", name, data["fan_mode"])
		},
		"set_swing_mode": func(name string, data map[string]any) string {
			return fmt.Sprintf("已把%s扫风设为%v", name, data["swing_mode"])
		},
	},
	"media_player": {
		"media_play":           plain("%s开始播放"),
		"media_pause":          plain("%s已暂停"),
		"media_stop":           plain("%s已停止播放"),
		"media_next_track":     plain("%s已切换到下一首"),
		"media_previous_track": plain("%s已切换到上一首"),
		"volume_set": func(name string, data map[string]any) string {
			if level, ok := data["volume_level"].(float64); ok {
				return fmt.Sprintf("已把%s音量调到%d%%", name, int(level*100+0.5))
			}
			return fmt.Sprintf("已调整%s的音量", name)
		},
		"play_media": func(name string, data map[string]any) string {
			return fmt.Sprintf("%s开始播放%v", name, data["media_content_id"])
		},
	},
	"script": {
		"turn_on": plain("已执行脚本%s"),
	},
	"automation": {
		"trigger": plain("已触发自动化%s"),
	},
	"timer": {
		"start": plain("已启动%s"),
	},
}

// confirmMessage renders the confirmation for a completed service call.
func confirmMessage(domain, service, name string, data map[string]any) string {
	if services, ok := serviceMessages[domain]; ok {
		if f, ok := services[service]; ok {
			return f(name, data)
		}
	}
	return fmt.Sprintf("已对%s执行%s.%s", name, domain, service)
}
