package config

import "sync"

// ConfigCallback lets packages that are initialised before the
// configuration is built (logger) react once it is available.
type ConfigCallback[T any] struct {
	callbacks []func(T)
	mu        sync.Mutex
}

func (cc *ConfigCallback[T]) AddCallback(callback func(T)) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	cc.callbacks = append(cc.callbacks, callback)
}

func (cc *ConfigCallback[T]) Call(cfg T) {
	cc.mu.Lock()
	callbacks := make([]func(T), len(cc.callbacks))
	copy(callbacks, cc.callbacks)
	cc.mu.Unlock()

	for _, callback := range callbacks {
		callback(cfg)
	}
}
