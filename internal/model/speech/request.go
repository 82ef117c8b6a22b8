package speech

// CloneRequest 声音克隆合成请求，携带待朗读文本与参考音色
type CloneRequest struct {
	SessionKey string `json:"sessionKey"`
	Text       string `json:"text"`
	Language   string `json:"language"` // en, hi-IN, etc.
	VoiceName  string `json:"voiceName"`
	VoiceData  []byte `json:"-"`
}

// Utterance 平台内置语音合成参数
type Utterance struct {
	Text   string  `json:"text"`
	Rate   float64 `json:"rate"`   // 语速倍率
	Volume float64 `json:"volume"` // 音量 0.0-1.0
	Pitch  float64 `json:"pitch"`
	Lang   string  `json:"lang"`
}

// VoiceSample 用户在本次会话中上传的参考音频
type VoiceSample struct {
	Name string `json:"name"`
	Data []byte `json:"-"`
}
