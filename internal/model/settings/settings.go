package settings

// Settings is the application settings blob, stored and replaced wholesale.
type Settings struct {
	Theme                      string  `json:"theme"`
	VoiceModule                string  `json:"voiceModule"`
	VoiceID                    string  `json:"voiceId,omitempty"`
	VoiceFileURL               string  `json:"voiceFileUrl,omitempty"`
	NarrationSpeed             float64 `json:"narrationSpeed"`
	NarrationVolume            float64 `json:"narrationVolume"`
	NarrationPitch             float64 `json:"narrationPitch"`
	MusicEnhancement           bool    `json:"musicEnhancement"`
	BackgroundMusic            string  `json:"backgroundMusic"`
	ObjectDetectionMode        string  `json:"objectDetectionMode"`
	ObjectDetectionSensitivity string  `json:"objectDetectionSensitivity"`
	HapticFeedback             bool    `json:"hapticFeedback"`
	FontSize                   string  `json:"fontSize"`
	HighContrast               bool    `json:"highContrast"`
	Language                   string  `json:"language"`
	Notifications              bool    `json:"notifications"`
}

const (
	defaultRate        = 1.0
	defaultVolume      = 0.8
	defaultPitch       = 1.0
	defaultSpeechLang  = "en-US"
	defaultBackendLang = "en"
)

// Defaults returns the factory settings.
func Defaults() Settings {
	return Settings{
		Theme:                      "dark",
		VoiceModule:                "default",
		NarrationSpeed:             defaultRate,
		NarrationVolume:            defaultVolume,
		NarrationPitch:             defaultPitch,
		BackgroundMusic:            "none",
		ObjectDetectionMode:        "visual",
		ObjectDetectionSensitivity: "medium",
		FontSize:                   "medium",
		Language:                   defaultBackendLang,
		Notifications:              true,
	}
}

// HasCustomVoice reports whether a custom voice file has been configured.
func (s Settings) HasCustomVoice() bool {
	return s.VoiceID != "" && s.VoiceFileURL != ""
}

// NarrationRate is the synthesis rate, zero meaning default.
func (s Settings) NarrationRate() float64 {
	if s.NarrationSpeed == 0 {
		return defaultRate
	}
	return s.NarrationSpeed
}

// NarrationLoudness is the synthesis volume, zero meaning default.
func (s Settings) NarrationLoudness() float64 {
	if s.NarrationVolume == 0 {
		return defaultVolume
	}
	return s.NarrationVolume
}

// NarrationTone is the synthesis pitch, zero meaning default.
func (s Settings) NarrationTone() float64 {
	if s.NarrationPitch == 0 {
		return defaultPitch
	}
	return s.NarrationPitch
}

// SpeechLanguage is the language tag handed to the speech synthesizer.
func (s Settings) SpeechLanguage() string {
	if s.Language == "" {
		return defaultSpeechLang
	}
	return s.Language
}

// BackendLanguage is the language sent with every backend request.
func (s Settings) BackendLanguage() string {
	if s.Language == "" {
		return defaultBackendLang
	}
	return s.Language
}
