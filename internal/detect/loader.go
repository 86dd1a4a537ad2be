package detect

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrModelNotLoaded is returned by AsyncModel before loading finishes.
var ErrModelNotLoaded = errors.New("detect: model not loaded")

// LoadFunc loads a model from its fixed source.
type LoadFunc func(ctx context.Context) (Model, error)

// AsyncModel loads a model once in the background and reports Loaded only after success.
type AsyncModel struct {
	mu    sync.RWMutex
	model Model
	err   error
	done  chan struct{}
}

// LoadAsync starts loading and returns immediately.
func LoadAsync(ctx context.Context, load LoadFunc, log logrus.FieldLogger) *AsyncModel {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &AsyncModel{done: make(chan struct{})}
	go func() {
		defer close(a.done)
		m, err := load(ctx)
		a.mu.Lock()
		a.model, a.err = m, err
		a.mu.Unlock()
		if err != nil {
			log.WithError(err).Error("face detection model failed to load")
			return
		}
		log.Info("face detection model loaded")
	}()
	return a
}

// Done is closed once loading has finished, successfully or not.
func (a *AsyncModel) Done() <-chan struct{} {
	return a.done
}

// Err returns the load error, if any.
func (a *AsyncModel) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

func (a *AsyncModel) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model != nil && a.model.Loaded()
}

func (a *AsyncModel) DetectSingleFace(ctx context.Context, img image.Image) (*Detection, error) {
	a.mu.RLock()
	m := a.model
	a.mu.RUnlock()
	if m == nil {
		return nil, ErrModelNotLoaded
	}
	return m.DetectSingleFace(ctx, img)
}
