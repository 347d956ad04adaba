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

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/transport"
)

// envPrefix makes every flag below also settable as an
// INTERCEPTCTL_-prefixed environment variable via viper, with
// flags-then-env-then-default precedence.
const envPrefix = "INTERCEPTCTL"

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "interceptctl",
		Short:         "Operate a running sysbox-ipc-interceptor agent's intercept registry",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().String("socket", "", "path to the agent's registry admin socket (required)")
	root.PersistentFlags().String("props-socket", "", "path to a cmd/propsvc-mock socket, for the props subcommand")
	_ = v.BindPFlag("socket", root.PersistentFlags().Lookup("socket"))
	_ = v.BindPFlag("props-socket", root.PersistentFlags().Lookup("props-socket"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	root.AddCommand(newRegisterCmd(v))
	root.AddCommand(newUnregisterCmd(v))
	root.AddCommand(newBackdoorCmd(v))
	root.AddCommand(newPropsCmd(v))

	return root
}

// dialRegistry connects to the agent socket named by v's "socket"
// setting, failing loudly if it isn't configured: unlike the agent's
// own fall-through-on-absence behaviors (spec §7's "property-service
// absence"), an admin tool with nothing to talk to has no useful
// default action.
func dialRegistry(v interface{ GetString(string) string }) (*transport.Client, error) {
	sock := v.GetString("socket")
	if sock == "" {
		return nil, errMissingSocket
	}
	return transport.Dial("unix", sock)
}

type ctlError string

func (e ctlError) Error() string { return string(e) }

const errMissingSocket = ctlError("--socket (or " + envPrefix + "_SOCKET) is required")
