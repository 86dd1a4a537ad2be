package camera

import (
	"errors"
	"strings"
	"syscall"
)

// ErrorKind classifies camera acquisition failures.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermissionDenied
	KindDeviceNotFound
	KindDeviceInUse
	KindUnsupported
)

// Key is the stable identifier used for user-facing notices and metrics.
func (k ErrorKind) Key() string {
	switch k {
	case KindPermissionDenied:
		return "camera_permission_denied"
	case KindDeviceNotFound:
		return "camera_not_found"
	case KindDeviceInUse:
		return "camera_in_use"
	case KindUnsupported:
		return "camera_unsupported"
	default:
		return "camera_unknown"
	}
}

func (k ErrorKind) String() string {
	return strings.TrimPrefix(k.Key(), "camera_")
}

// ErrUnsupported is returned by drivers on platforms without a camera API.
var ErrUnsupported = errors.New("camera: video capture not supported")

// AcquisitionError is a classified failure to open a video stream.
type AcquisitionError struct {
	Kind ErrorKind
	Err  error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return "camera " + e.Kind.String()
	}
	return "camera " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Classify maps a driver error to an AcquisitionError. Structured errno values
// win; message patterns are the fallback for drivers that only return text.
func Classify(err error) *AcquisitionError {
	if err == nil {
		return nil
	}
	var ae *AcquisitionError
	if errors.As(err, &ae) {
		return ae
	}
	return &AcquisitionError{Kind: classifyKind(err), Err: err}
}

func classifyKind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, syscall.EBUSY):
		return KindDeviceInUse
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return KindPermissionDenied
	case errors.Is(err, syscall.ENOENT), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return KindDeviceNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "notreadableerror", "could not start video source", "device or resource busy", "in use"):
		return KindDeviceInUse
	case containsAny(msg, "notfounderror", "not found", "no such file", "no such device"):
		return KindDeviceNotFound
	case containsAny(msg, "notallowederror", "permission denied", "operation not permitted"):
		return KindPermissionDenied
	case containsAny(msg, "not implemented", "not supported", "not available"):
		return KindUnsupported
	}
	return KindUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
