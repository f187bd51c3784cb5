// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package cmd

import (
	"fmt"
	"time"

	"github.com/stagekit/padlink/pkg/smx"
	"github.com/stagekit/padlink/pkg/smx/link"
)

// pumpInterval is how often the pump goroutine drives the session when no
// wake signal arrives. Queued commands wake it immediately.
const pumpInterval = 10 * time.Millisecond

// padSession owns one device session and the goroutine pumping it.
// Commands build one of these, interact with the device through its public
// methods, and Close it on the way out.
type padSession struct {
	dev  *smx.Device
	wake chan struct{}
	stop chan struct{}
	errs chan error
}

// startSession attaches the session transport to an open connection and
// starts the pump goroutine.
func startSession(conn Connection) (*padSession, error) {
	wake := make(chan struct{}, 1)
	dev := smx.NewDevice(link.NewStream(nil), wake, nil)
	if err := dev.OpenDeviceHandle(conn); err != nil {
		return nil, err
	}

	s := &padSession{
		dev:  dev,
		wake: wake,
		stop: make(chan struct{}),
		errs: make(chan error, 1),
	}
	go s.pumpLoop()
	return s, nil
}

func (s *padSession) pumpLoop() {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		case <-s.wake:
		}

		if err := s.dev.Update(); err != nil {
			select {
			case s.errs <- err:
			default:
			}
			return
		}
	}
}

// waitConnected blocks until the session reports a usable pad (identity
// read and configuration round trip complete) or the timeout elapses.
func (s *padSession) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if s.dev.IsConnected() {
			return nil
		}
		select {
		case err := <-s.errs:
			return fmt.Errorf("pad connection failed: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for the pad to report its configuration")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Close stops the pump goroutine and disconnects.
func (s *padSession) Close() {
	close(s.stop)
	s.dev.CloseDevice()
}
