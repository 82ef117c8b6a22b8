package media

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNoDevice is returned when no camera is available.
	ErrNoDevice = errors.New("no camera found")
	// ErrPermissionDenied is returned when camera access is refused.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrNotReady is returned when the camera has not produced a frame yet.
	ErrNotReady = errors.New("camera feed is not ready")
	// ErrReleased is returned by Frame after Release.
	ErrReleased = errors.New("camera released")
)

// Source grants exclusive camera handles.
type Source interface {
	Acquire(ctx context.Context) (Handle, error)
}

// Handle is an acquired camera. Release is idempotent and returns once the
// device is no longer held.
type Handle interface {
	Frame(ctx context.Context) ([]byte, error)
	Release()
}

// DataURL encodes a JPEG frame as data:image/jpeg;base64,...
func DataURL(frame []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame)
}

// DetectionError 场景描述页的摄像头错误提示
func DetectionError(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Error: Webcam permission denied. Please allow access."
	case errors.Is(err, ErrNoDevice):
		return "Error: No webcam found. Please connect a camera."
	default:
		return "Error: " + err.Error()
	}
}

// CameraOpenError 拍照上传时的摄像头错误提示
func CameraOpenError(err error) string {
	msg := "Failed to open camera. "
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return msg + "Camera permission denied. Please allow access."
	case errors.Is(err, ErrNoDevice):
		return msg + "No camera found on this device."
	default:
		return msg + err.Error()
	}
}

// classifyCaptureOutput maps capture tool diagnostics onto the sentinel errors.
func classifyCaptureOutput(stderr string, err error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "permission denied"):
		return errors.Wrap(ErrPermissionDenied, strings.TrimSpace(stderr))
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "no such device"):
		return errors.Wrap(ErrNoDevice, strings.TrimSpace(stderr))
	case strings.TrimSpace(stderr) != "":
		return errors.Wrap(err, strings.TrimSpace(stderr))
	default:
		return err
	}
}
