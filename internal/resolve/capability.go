package resolve

import "github.com/wrenly/hearth/internal/homeassistant"

// Entity feature bitmask values, matching Home Assistant's per-domain
// EntityFeature enums. Only the bits the dispatcher checks are listed.
const (
	// cover
	CoverSupportOpen        = 1
	CoverSupportClose       = 2
	CoverSupportSetPosition = 4
	CoverSupportStop        = 8

	// fan
	FanSupportSetSpeed = 1
	FanSupportOscillate = 2
	FanSupportPresetMode = 8

	// climate
	ClimateSupportTargetTemperature = 1
	ClimateSupportFanMode           = 8
	ClimateSupportSwingMode         = 32

	// lock
	LockSupportOpen = 1

	// media_player
	MediaSupportPause         = 1
	MediaSupportVolumeSet     = 4
	MediaSupportPreviousTrack = 16
	MediaSupportNextTrack     = 32
	MediaSupportPlayMedia     = 512
	MediaSupportStop          = 4096
	MediaSupportPlay          = 16384
)

// requiredFeatures maps (domain, service) to the capability bits an
// entity must advertise before the service may be dispatched. Services
// absent from the table have no capability requirement.
var requiredFeatures = map[string]map[string]int{
	"cover": {
		"open_cover":         CoverSupportOpen,
		"close_cover":        CoverSupportClose,
		"set_cover_position": CoverSupportSetPosition,
		"stop_cover":         CoverSupportStop,
	},
	"fan": {
		"set_percentage":  FanSupportSetSpeed,
		"oscillate":       FanSupportOscillate,
		"set_preset_mode": FanSupportPresetMode,
	},
	"climate": {
		"set_temperature": ClimateSupportTargetTemperature,
		"set_fan_mode":    ClimateSupportFanMode,
		"set_swing_mode":  ClimateSupportSwingMode,
	},
	"lock": {
		"open": LockSupportOpen,
	},
	"media_player": {
		"media_pause":          MediaSupportPause,
		"media_play":           MediaSupportPlay,
		"media_stop":           MediaSupportStop,
		"media_next_track":     MediaSupportNextTrack,
		"media_previous_track": MediaSupportPreviousTrack,
		"volume_set":           MediaSupportVolumeSet,
		"play_media":           MediaSupportPlayMedia,
	},
}

// ValidateCapability reports whether the entity advertises the feature
// bits required for the service. Services without a table entry are
// always allowed; the host rejects genuinely unknown services itself.
func ValidateCapability(domain, service string, entity homeassistant.State) bool {
	services, ok := requiredFeatures[domain]
	if !ok {
		return true
	}
	required, ok := services[service]
	if !ok {
		return true
	}
	return entity.SupportedFeatures()&required == required
}
