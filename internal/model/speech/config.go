package speech

// PlatformConfig 本机语音与摄像头命令配置
type PlatformConfig struct {
	SpeakCommand   string `json:"speakCommand"`   // 内置语音合成命令，如 espeak-ng
	PlayCommand    string `json:"playCommand"`    // 音频播放命令，如 ffplay
	CaptureCommand string `json:"captureCommand"` // 单帧抓取命令，输出 JPEG 到 stdout
}
