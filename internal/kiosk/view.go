package kiosk

import (
	"time"

	"attendkiosk/internal/attendance"
	"attendkiosk/internal/camera"
	"attendkiosk/internal/detect"
	"attendkiosk/internal/feedback"
	"attendkiosk/internal/presence"
)

// View is everything a display needs to render the kiosk screen.
type View struct {
	Camera      camera.Session     `json:"camera"`
	CameraError *feedback.Notice   `json:"camera_error,omitempty"`
	Box         *detect.Box        `json:"box,omitempty"`
	Present     bool               `json:"present"`
	ModelsReady bool               `json:"models_ready"`
	ModelError  string             `json:"model_error,omitempty"`
	Loading     bool               `json:"loading"`
	Phase       presence.State     `json:"phase"`
	Result      *attendance.Result `json:"result,omitempty"`
	Notices     []feedback.Notice  `json:"notices"`
	At          time.Time          `json:"at"`
}

type modelErrer interface {
	Err() error
}

// View returns the current snapshot. An expired result overlay is dropped.
func (k *Kiosk) View() View {
	now := k.now()
	ds := k.detector.State()
	v := View{
		Camera:      k.cam.Session(),
		Box:         ds.LastBox,
		Present:     ds.Present,
		ModelsReady: ds.ModelsReady,
		Phase:       k.tracker.Snapshot(now).State,
		At:          now,
	}
	if me, ok := k.model.(modelErrer); ok {
		if err := me.Err(); err != nil {
			v.ModelError = err.Error()
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cameraErr != nil {
		n := *k.cameraErr
		v.CameraError = &n
	}
	v.Loading = k.loading
	if k.result != nil && now.Before(k.resultUntil) {
		r := *k.result
		v.Result = &r
	} else {
		k.result = nil
	}
	v.Notices = append([]feedback.Notice{}, k.notices...)
	return v
}

// Subscribe returns a channel that receives the latest View after every change.
// Slow readers only ever see the most recent snapshot. Call cancel to stop.
func (k *Kiosk) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	k.mu.Lock()
	k.subs[ch] = struct{}{}
	k.mu.Unlock()

	var once bool
	cancel := func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		if once {
			return
		}
		once = true
		delete(k.subs, ch)
		close(ch)
	}
	return ch, cancel
}

func (k *Kiosk) broadcast() {
	v := k.View()
	k.mu.Lock()
	defer k.mu.Unlock()
	for ch := range k.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
