package speech

import "time"

// CloneResponse 声音克隆合成响应
type CloneResponse struct {
	AudioURL  string    `json:"audioUrl"`
	CreatedAt time.Time `json:"createdAt"`
}
