package ai

import (
	"fmt"
	"strings"
)

const assistantPrompt = `You are Vision Talk, a conversational assistant for people who are blind or have low vision.

Rules:
- Answer in plain sentences that read well aloud. Avoid tables, markdown, emoji and long lists.
- Keep answers short unless the user asks for detail.
- When the user asks about their surroundings or an image you cannot see, say so and suggest using image upload or live scene description.
- Never invent visual details.`

var languageNames = map[string]string{
	"en":    "English",
	"en-us": "English",
	"hi":    "Hindi",
	"hi-in": "Hindi",
	"ta":    "Tamil",
	"ta-in": "Tamil",
	"te":    "Telugu",
	"te-in": "Telugu",
	"bn":    "Bengali",
	"bn-in": "Bengali",
}

// BuildSystemPrompt 根据用户语言设置生成系统提示词。
func BuildSystemPrompt(language string) string {
	tag := strings.ToLower(strings.TrimSpace(language))
	if tag == "" {
		return assistantPrompt
	}

	name, ok := languageNames[tag]
	if !ok {
		name = language
	}
	return fmt.Sprintf("%s\n- Reply in %s.", assistantPrompt, name)
}
