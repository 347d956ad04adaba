//
// Copyright 2024 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package injector

import (
	"github.com/sirupsen/logrus"

	"github.com/nestybox/sysbox-libs/pidmonitor"
)

// watchdogPoll is the pidmonitor sampling interval used while a remote
// injection session is in flight, in milliseconds (the unit of
// pidmonitor.Cfg.Poll); frequent enough to surface a mid-session
// target exit while it's still useful as a diagnostic.
const watchdogPoll = 50

// watchdog watches pid for exit while an Inject call is in progress.
// It never cancels the session in flight: Tracee's pidfd liveness check
// in Detach is what actually refuses to act on a recycled pid. The
// watchdog exists only to put a clear log line on the timeline when a
// target disappears mid-injection, instead of leaving the cause of a
// later ptrace failure a mystery.
type watchdog struct {
	pm   *pidmonitor.PidMon
	done chan struct{}
}

// startWatchdog begins monitoring pid for exit in the background. The
// returned watchdog must be stopped with stop() once the session ends,
// whether it succeeded or failed.
func startWatchdog(pid int) *watchdog {
	pm, err := pidmonitor.New(&pidmonitor.Cfg{Poll: watchdogPoll})
	if err != nil {
		log.WithError(err).Debug("pidmonitor unavailable, skipping injection watchdog")
		return &watchdog{}
	}

	if err := pm.AddEvent([]pidmonitor.PidEvent{{Pid: uint32(pid), Event: pidmonitor.Exit}}); err != nil {
		log.WithError(err).Debug("pidmonitor add event failed, skipping injection watchdog")
		pm.Close()
		return &watchdog{}
	}

	w := &watchdog{pm: pm, done: make(chan struct{})}
	go w.run(pid)
	return w
}

func (w *watchdog) run(pid int) {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		events := w.pm.WaitEvent()
		for _, e := range events {
			if e.Err != nil {
				log.WithError(e.Err).WithField("pid", pid).Debug("watchdog poll error")
				continue
			}
			if e.Pid == uint32(pid) && e.Event&pidmonitor.Exit != 0 {
				log.WithFields(logrus.Fields{"pid": pid}).Warn("target process exited during injection")
			}
		}
	}
}

// stop tears down the watchdog's background goroutine and pidmonitor
// instance. Safe to call on a zero-value watchdog (pidmonitor
// unavailable case).
func (w *watchdog) stop() {
	if w.pm == nil {
		return
	}
	close(w.done)
	w.pm.Close()
}
