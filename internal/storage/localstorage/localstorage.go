//go:build js && wasm

// Package localstorage implements storage.KV on the browser's
// window.localStorage.
package localstorage

import (
	"context"
	"errors"
	"fmt"
	"syscall/js"
)

// ErrUnavailable is returned when the page has no usable localStorage
// (disabled cookies, some private browsing modes).
var ErrUnavailable = errors.New("localStorage unavailable")

// Store wraps window.localStorage.
type Store struct {
	ls js.Value
}

// New returns a Store, or ErrUnavailable if localStorage cannot be reached.
func New() (store *Store, err error) {
	defer func() {
		if r := recover(); r != nil {
			store, err = nil, fmt.Errorf("%w: %v", ErrUnavailable, r)
		}
	}()
	ls := js.Global().Get("localStorage")
	if ls.IsUndefined() || ls.IsNull() {
		return nil, ErrUnavailable
	}
	return &Store{ls: ls}, nil
}

func (s *Store) Get(_ context.Context, key string) (value string, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("localStorage.getItem(%q): %v", key, r)
		}
	}()
	v := s.ls.Call("getItem", key)
	if v.IsNull() || v.IsUndefined() {
		return "", false, nil
	}
	return v.String(), true, nil
}

func (s *Store) Set(_ context.Context, key, value string) (err error) {
	// setItem throws QuotaExceededError when storage is full
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("localStorage.setItem(%q): %v", key, r)
		}
	}()
	s.ls.Call("setItem", key, value)
	return nil
}
