// Package privacy holds the standing protection toggles.
package privacy

// Settings are the user-controlled protection toggles.
type Settings struct {
	BlockTrackers          bool `json:"blockTrackers"`
	BlockAds               bool `json:"blockAds"`
	BlockThirdPartyCookies bool `json:"blockThirdPartyCookies"`
	BlockWebGL             bool `json:"blockWebgl"`
	BlockWebRTC            bool `json:"blockWebrtc"`
	AIPatternGuard         bool `json:"aiPatternGuard"`
}

// Default turns every protective toggle on.
func Default() Settings {
	return Settings{
		BlockTrackers:          true,
		BlockAds:               true,
		BlockThirdPartyCookies: true,
		BlockWebGL:             true,
		BlockWebRTC:            true,
		AIPatternGuard:         true,
	}
}

// Patch is a partial Settings; nil fields are left alone by Merge.
type Patch struct {
	BlockTrackers          *bool `json:"blockTrackers,omitempty"`
	BlockAds               *bool `json:"blockAds,omitempty"`
	BlockThirdPartyCookies *bool `json:"blockThirdPartyCookies,omitempty"`
	BlockWebGL             *bool `json:"blockWebgl,omitempty"`
	BlockWebRTC            *bool `json:"blockWebrtc,omitempty"`
	AIPatternGuard         *bool `json:"aiPatternGuard,omitempty"`
}

func Merge(base Settings, patch Patch) Settings {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&base.BlockTrackers, patch.BlockTrackers)
	set(&base.BlockAds, patch.BlockAds)
	set(&base.BlockThirdPartyCookies, patch.BlockThirdPartyCookies)
	set(&base.BlockWebGL, patch.BlockWebGL)
	set(&base.BlockWebRTC, patch.BlockWebRTC)
	set(&base.AIPatternGuard, patch.AIPatternGuard)
	return base
}
