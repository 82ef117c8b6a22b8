package backend

import (
	"fmt"
	"net/http"

	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
)

// 用户可见的诊断文案
const (
	chatPrefix   = "Sorry, I couldn’t process your message. "
	uploadPrefix = "Sorry, I couldn’t analyze the image. "
	ttsPrefix    = "Sorry, I couldn’t process the TTS request. "
	scenePrefix  = "Error describing scene: "

	networkSuffix = "Network error: Please check your internet connection and ensure the backend server is running."
	timeoutSuffix = "Request timed out: The backend server took too long to respond."
	corsSuffix    = "CORS error: The backend server may not be configured to allow requests from this origin."

	chatNotFoundHint = " The endpoint /api/chat might not exist on the server."
	chatServerHint   = " There might be an issue with the server’s configuration."
)

func describe(f *Failure) string {
	switch f.Kind {
	case KindNetworkUnreachable:
		return networkSuffix
	case KindTimeout:
		return timeoutSuffix
	case KindServerError:
		return fmt.Sprintf("Server error: %d - %s.", f.Status, f.BodyMessage())
	case KindCrossOriginRejected:
		return corsSuffix
	default:
		return "An unexpected error occurred: " + f.Message
	}
}

// ChatDiagnostic renders the message shown when a chat request fails.
func ChatDiagnostic(err error) string {
	f := Classify(err)
	text := chatPrefix + describe(f)
	if f.Kind == KindServerError {
		switch f.Status {
		case http.StatusNotFound:
			text += chatNotFoundHint
		case http.StatusInternalServerError:
			text += chatServerHint
		}
	}
	return text
}

// UploadDiagnostic renders the message shown when image description fails.
func UploadDiagnostic(err error) string {
	return uploadPrefix + describe(Classify(err))
}

// ExtensionDiagnostic renders the message shown when an extension request fails.
func ExtensionDiagnostic(ext chat.Extension, err error) string {
	return fmt.Sprintf("Sorry, I couldn’t process the %s request. ", ext) + describe(Classify(err))
}

// TTSDiagnostic is announced when cloned speech synthesis fails.
func TTSDiagnostic(err error) string {
	f := Classify(err)
	switch f.Kind {
	case KindNetworkUnreachable:
		return ttsPrefix + "Network error: Please check your internet connection."
	case KindServerError:
		return ttsPrefix + fmt.Sprintf("Server error: %d.", f.Status)
	default:
		return ttsPrefix + f.Message
	}
}

// SceneDiagnostic is announced when a live scene description fails.
func SceneDiagnostic(err error) string {
	f := Classify(err)
	switch f.Kind {
	case KindNetworkUnreachable:
		return scenePrefix + "Network error. Please check your internet connection."
	case KindServerError:
		return scenePrefix + fmt.Sprintf("Server error: %d - %s.", f.Status, f.BodyMessage())
	default:
		return scenePrefix + f.Message
	}
}
