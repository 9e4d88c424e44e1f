// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of AccessFlow

//go:build !lockdebug

// Package lock provides the mutex types used throughout the agent. The
// lockdebug build tag swaps in deadlock-detecting variants.
package lock

import (
	"sync"
)

// Mutex is an alias for sync.Mutex in production builds.
type Mutex struct {
	sync.Mutex
}

// RWMutex is an alias for sync.RWMutex in production builds.
type RWMutex struct {
	sync.RWMutex
}
