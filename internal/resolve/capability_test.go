package resolve

import (
	"testing"

	"github.com/wrenly/hearth/internal/homeassistant"
)

func entityWithFeatures(id string, features int) homeassistant.State {
	return homeassistant.State{
		EntityID: id,
		Attributes: map[string]any{
			"supported_features": float64(features),
		},
	}
}

func TestValidateCapability(t *testing.T) {
	tests := []struct {
		name     string
		domain   string
		service  string
		features int
		want     bool
	}{
		{
			"cover without position bit",
			"cover", "set_cover_position",
			CoverSupportOpen | CoverSupportClose,
			false,
		},
		{
			"cover with position bit",
			"cover", "set_cover_position",
			CoverSupportOpen | CoverSupportClose | CoverSupportSetPosition,
			true,
		},
		{
			"climate fan mode unsupported",
			"climate", "set_fan_mode",
			ClimateSupportTargetTemperature,
			false,
		},
		{
			"climate swing supported",
			"climate", "set_swing_mode",
			ClimateSupportSwingMode,
			true,
		},
		{
			"lock open bit required",
			"lock", "open",
			0,
			false,
		},
		{
			"service without table entry is allowed",
			"cover", "toggle",
			0,
			true,
		},
		{
			"domain without table is allowed",
			"light", "turn_on",
			0,
			true,
		},
		{
			"media volume",
			"media_player", "volume_set",
			MediaSupportVolumeSet,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := entityWithFeatures(tt.domain+".x", tt.features)
			if got := ValidateCapability(tt.domain, tt.service, e); got != tt.want {
				t.Errorf("ValidateCapability(%s, %s, %b) = %v, want %v",
					tt.domain, tt.service, tt.features, got, tt.want)
			}
		})
	}
}
