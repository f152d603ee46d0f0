// Package events delivers bag split notifications to registered observers.
package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jittakal/kafbag/pkg/bag"
)

// Callbacks groups the handlers an observer can register.
// Nil handlers are skipped.
type Callbacks struct {
	// WriteSplit is invoked after a bagfile was closed, and a new one opened unless
	// the writer is closing.
	WriteSplit func(info bag.BagSplitInfo)
}

// Notifier invokes registered callbacks synchronously, in registration order.
type Notifier struct {
	mu        sync.RWMutex
	callbacks []Callbacks
	logger    *zap.Logger
}

// NewNotifier creates a notifier with no callbacks.
func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{logger: logger}
}

// AddCallbacks registers cb. Callbacks cannot be removed.
func (n *Notifier) AddCallbacks(cb Callbacks) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.callbacks = append(n.callbacks, cb)
}

// Emit delivers info to every split callback on the calling goroutine.
// A panicking callback is logged and the remaining callbacks still run.
func (n *Notifier) Emit(info bag.BagSplitInfo) {
	n.mu.RLock()
	callbacks := make([]Callbacks, len(n.callbacks))
	copy(callbacks, n.callbacks)
	n.mu.RUnlock()

	for i, cb := range callbacks {
		if cb.WriteSplit == nil {
			continue
		}
		if err := invoke(cb.WriteSplit, info); err != nil {
			n.logger.Error("split callback failed",
				zap.Int("callback", i),
				zap.String("closed_file", info.ClosedFile),
				zap.String("opened_file", info.OpenedFile),
				zap.Error(err),
			)
		}
	}
}

func invoke(fn func(bag.BagSplitInfo), info bag.BagSplitInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	fn(info)
	return nil
}
