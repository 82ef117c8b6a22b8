package chat

import (
	"fmt"
	"strings"
)

// Extension is a backend-provided capability invokable from the chat input.
type Extension int

const (
	ExtensionStory Extension = iota + 1
	ExtensionMusic
	ExtensionNavigation
	ExtensionLearn
	ExtensionVoice
)

var extensionNames = map[Extension]string{
	ExtensionStory:      "Story",
	ExtensionMusic:      "Music",
	ExtensionNavigation: "Navigation",
	ExtensionLearn:      "Learn",
	ExtensionVoice:      "Voice",
}

func (e Extension) String() string {
	if name, ok := extensionNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Extension(%d)", int(e))
}

// ParseExtension resolves a case-insensitive extension name.
func ParseExtension(raw string) (Extension, error) {
	normalized := strings.TrimSpace(raw)
	for ext, name := range extensionNames {
		if strings.EqualFold(name, normalized) {
			return ext, nil
		}
	}
	return 0, fmt.Errorf("unknown extension %q", raw)
}

// MarshalText implements encoding.TextMarshaler.
func (e Extension) MarshalText() ([]byte, error) {
	if _, ok := extensionNames[e]; !ok {
		return nil, fmt.Errorf("unknown extension %d", int(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Extension) UnmarshalText(text []byte) error {
	parsed, err := ParseExtension(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
