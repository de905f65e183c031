// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	pump "github.com/netreactor/pump"
	"github.com/netreactor/pump/poll"
	"github.com/netreactor/pump/timer"
)

// Service is the composition root: it owns N pollers and a [timer.Queue],
// and is the only object an application holds a long-lived reference to
// (spec §4 "Service", §9 "the Service holds no back-reference to
// transports").
type Service struct {
	pollers    []poll.Poller
	timers     *timer.Queue
	next       atomic.Uint64
	logger     pump.SLogger
	classifier pump.ErrClassifier
}

// NewService creates workerCount readiness pollers (or, if useCompletion
// is true, workerCount completion pollers) plus one shared timer queue,
// and starts all of them.
func NewService(cfg *pump.Config, workerCount int, useCompletion bool) (*Service, error) {
	if workerCount < 1 {
		workerCount = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pump.DefaultSLogger()
	}
	classifier := cfg.ErrClassifier
	if classifier == nil {
		classifier = pump.DefaultErrClassifier
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 3 * time.Millisecond
	}

	svc := &Service{logger: logger, classifier: classifier, timers: timer.NewQueue(nil)}
	for i := 0; i < workerCount; i++ {
		if useCompletion {
			svc.pollers = append(svc.pollers, poll.NewCompletionPoller(1, timeout, logger))
			continue
		}
		p, err := poll.NewReadinessPoller(1, timeout, logger)
		if err != nil {
			svc.Stop()
			return nil, fmt.Errorf("transport: create poller %d: %w", i, err)
		}
		svc.pollers = append(svc.pollers, p)
	}
	for _, p := range svc.pollers {
		if err := p.Start(); err != nil {
			svc.Stop()
			return nil, fmt.Errorf("transport: start poller: %w", err)
		}
	}
	svc.timers.Start()
	return svc, nil
}

// nextPoller round-robins transports across the Service's pollers.
func (s *Service) nextPoller() poll.Poller {
	i := s.next.Add(1) - 1
	return s.pollers[i%uint64(len(s.pollers))]
}

// Timers returns the Service's shared timer queue, used by dialers for
// connect timeouts (spec §4.6).
func (s *Service) Timers() *timer.Queue { return s.timers }

// Classifier returns the [pump.ErrClassifier] new transports should tag
// their abort/disconnect logging with.
func (s *Service) Classifier() pump.ErrClassifier { return s.classifier }

// Stop stops every poller and the timer queue, then waits for all of them
// to finish.
func (s *Service) Stop() {
	for _, p := range s.pollers {
		p.Stop()
	}
	s.timers.Stop()
	for _, p := range s.pollers {
		p.WaitStopped()
	}
	s.timers.WaitStopped()
}
