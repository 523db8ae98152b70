package cache

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"
)

// Provider is an interface for getting and setting cached objects
type Provider interface {
	Get(ctx context.Context, key string) (data []byte, err error)
	Set(ctx context.Context, key string, data []byte) (err error)
	// Purge drops every cached object
	Purge()
}

// LoaderFunc is a function for loading data into a cache
type LoaderFunc func(ctx context.Context) (data []byte, err error)

// Auto is a cache that loads objects on a miss
type Auto struct {
	Provider    Provider
	lookupGroup singleflight.Group
}

// Get returns an object from the cache if it exists, otherwise it calls loader,
// stores the result and returns it. Concurrent misses for the same key share a
// single loader call.
func (a *Auto) Get(ctx context.Context, key string, loader LoaderFunc) (data []byte, hit bool, err error) {
	data, err = a.Provider.Get(ctx, key)
	if err != ErrNotFound {
		return data, err == nil, err
	}

	var v interface{}
	v, err, _ = a.lookupGroup.Do(key, func() (interface{}, error) {
		data, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		if err := a.Provider.Set(ctx, key, data); err != nil {
			return nil, err
		}

		return data, nil
	})

	if err != nil {
		return nil, false, err
	}

	data, _ = v.([]byte)
	return data, false, nil
}

// Errors
var (
	ErrNotFound = errors.New("not found in cache")
)
