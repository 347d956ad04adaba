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

// Command injector attaches to a running process and loads a shared
// library into it, calling a named entry point with the library's
// dlopen handle. Its arguments are positional, mirroring the original
// tool's interface; the one optional flag, -pushgateway, only controls
// where this run's own outcome/duration metrics are reported.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nestybox/sysbox-libs/capability"

	"github.com/nestybox/sysbox-ipc-interceptor/internal/injector"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/metrics"
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	fs := flag.NewFlagSet(filepath.Base(args[0]), flag.ContinueOnError)
	pushGateway := fs.String("pushgateway", "", "optional Prometheus Pushgateway URL to report injection outcome/duration to")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	rest := fs.Args()

	if len(rest) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s [-pushgateway url] <pid> <library_path> <entry_function_name>\n", filepath.Base(args[0]))
		return 1
	}

	pid, err := strconv.Atoi(rest[0])
	if err != nil || pid <= 0 {
		fmt.Fprintf(os.Stderr, "invalid pid: %s\n", rest[0])
		return 1
	}

	libPath, err := filepath.Abs(rest[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid library path: %s: %v\n", rest[1], err)
		return 1
	}
	libPath, err = filepath.EvalSymlinks(libPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid library path: %s: %v\n", rest[1], err)
		return 1
	}

	entryName := rest[2]

	checkPtraceCapability()

	// Best-effort priority bump so the injector isn't starved while the
	// tracee is stopped; failure here is never fatal.
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -20); err != nil {
		logrus.WithError(err).Warn("failed to raise injector priority")
	}

	// A one-shot CLI has no scrape window of its own, so its outcome
	// and duration are recorded against a private registry and pushed
	// to a gateway rather than served, the usual Prometheus pattern for
	// batch/short-lived jobs.
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	start := time.Now()
	injectErr := injector.Inject(pid, libPath, entryName)
	m.ObserveInjection(time.Since(start), injectErr == nil)

	if *pushGateway != "" {
		if err := push.New(*pushGateway, "sysbox_ipc_injector").Gatherer(reg).Push(); err != nil {
			logrus.WithError(err).Warn("failed to push injection metrics")
		}
	}

	if injectErr != nil {
		logrus.WithError(injectErr).Error("injection failed")
		return 1
	}
	return 0
}

// checkPtraceCapability logs a warning up front when CAP_SYS_PTRACE is
// missing from the effective set, since the eventual PTRACE_ATTACH
// failure this causes is otherwise indistinguishable from a bad pid.
func checkPtraceCapability() {
	caps, err := capability.NewPid2(0)
	if err != nil {
		logrus.WithError(err).Debug("capability lookup unavailable, skipping pre-check")
		return
	}
	if err := caps.Load(); err != nil {
		logrus.WithError(err).Debug("capability load failed, skipping pre-check")
		return
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_PTRACE) {
		logrus.Warn("CAP_SYS_PTRACE not in effective set, ptrace attach will likely fail")
	}
}
