// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// breakerThreshold is the number of consecutive failures that opens a
// host's breaker.
const breakerThreshold = 5

// breakers holds one circuit breaker per registry host.
type breakers struct {
	mu     sync.RWMutex
	byHost map[string]*circuit.Breaker
}

func newBreakers() *breakers {
	return &breakers{byHost: make(map[string]*circuit.Breaker)}
}

func (bs *breakers) get(host string) *circuit.Breaker {
	bs.mu.RLock()
	b, ok := bs.byHost[host]
	bs.mu.RUnlock()
	if ok {
		return b
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok := bs.byHost[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(breakerThreshold),
	})
	bs.byHost[host] = b
	return b
}

// call runs fn through host's breaker. Only retryable errors count as
// failures; a 404 or a client error leaves the breaker untouched.
func (bs *breakers) call(host string, fn func() error) error {
	b := bs.get(host)
	if !b.Ready() {
		return &TransportError{URL: host, Err: fmt.Errorf("circuit breaker open: %w", circuit.ErrBreakerOpen)}
	}

	var result error
	err := b.Call(func() error {
		result = fn()
		if result != nil && !retryable(result) {
			return nil
		}
		return result
	}, 0)
	if result != nil {
		return result
	}
	return err
}
