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
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/intercept"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/propsvc"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/transport"
)

// newPropsCmd groups commands that talk to cmd/propsvc-mock rather
// than to a live agent — development/test tooling for spec §4.1's
// policy-service side, which spec.md itself treats as an external
// collaborator with no owned CLI.
func newPropsCmd(v *viper.Viper) *cobra.Command {
	props := &cobra.Command{
		Use:   "props",
		Short: "Drive a cmd/propsvc-mock instance for local development and testing",
	}
	props.AddCommand(newPropsSetCmd(v))
	return props
}

func newPropsSetCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Set the value a propsvc-mock instance returns for a property name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sock := v.GetString("props-socket")
			if sock == "" {
				return fmt.Errorf("--props-socket (or %s_PROPS_SOCKET) is required", envPrefix)
			}

			client, err := transport.Dial("unix", sock)
			if err != nil {
				return fmt.Errorf("dial propsvc-mock: %w", err)
			}
			defer client.Close()

			p := binder.NewParcel()
			p.WriteFramedBytes([]byte(args[0]))
			p.WriteFramedBytes([]byte(args[1]))

			resp, err := client.Call(transport.Request{Code: propsvc.AdminSetPropertyTransaction, Data: p.Bytes()})
			if err != nil {
				return fmt.Errorf("set transaction failed: %w", err)
			}
			if resp.Status != int32(intercept.StatusOK) {
				return fmt.Errorf("set declined: status %d", resp.Status)
			}
			cmd.Printf("%s = %q\n", args[0], args[1])
			return nil
		},
	}
}
