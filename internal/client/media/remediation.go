package media

import "errors"

// Remediation maps a capture failure to the instruction shown next to the
// retry control. Empty for non-media errors.
func Remediation(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Camera/microphone access was blocked. Allow access in the browser or OS settings, then retry."
	case errors.Is(err, ErrDeviceNotFound):
		return "No camera or microphone was found. Plug in a device, then retry."
	case errors.Is(err, ErrDeviceBusy):
		return "The camera or microphone is in use by another application. Close it, then retry."
	default:
		return ""
	}
}
