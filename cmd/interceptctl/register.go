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
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nestybox/sysbox-ipc-interceptor/pkg/binder"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/intercept"
	"github.com/nestybox/sysbox-ipc-interceptor/pkg/transport"
)

func newRegisterCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "register <target-handle> <interceptor-handle>",
		Short: "Register an interceptor for a target object (REGISTER, spec §6)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetID, interceptorID, err := parseHandlePair(args)
			if err != nil {
				return err
			}

			client, err := dialRegistry(v)
			if err != nil {
				return err
			}
			defer client.Close()

			p := binder.NewParcel()
			p.WriteUint64(targetID)
			p.WriteUint64(interceptorID)

			resp, err := client.Call(transport.Request{Code: intercept.CodeRegister, Data: p.Bytes()})
			if err != nil {
				return fmt.Errorf("register transaction failed: %w", err)
			}
			if resp.Status != int32(intercept.StatusOK) {
				return fmt.Errorf("register declined: status %d", resp.Status)
			}
			cmd.Println("registered")
			return nil
		},
	}
}

func newUnregisterCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <target-handle> <interceptor-handle>",
		Short: "Remove a target's interceptor registration (UNREGISTER, spec §6)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetID, interceptorID, err := parseHandlePair(args)
			if err != nil {
				return err
			}

			client, err := dialRegistry(v)
			if err != nil {
				return err
			}
			defer client.Close()

			p := binder.NewParcel()
			p.WriteUint64(targetID)
			p.WriteUint64(interceptorID)

			resp, err := client.Call(transport.Request{Code: intercept.CodeUnregister, Data: p.Bytes()})
			if err != nil {
				return fmt.Errorf("unregister transaction failed: %w", err)
			}
			if resp.Status != int32(intercept.StatusOK) {
				return fmt.Errorf("unregister declined: status %d", resp.Status)
			}
			cmd.Println("unregistered")
			return nil
		},
	}
}

func parseHandlePair(args []string) (a, b uint64, err error) {
	a, err = strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid target handle %q: %w", args[0], err)
	}
	b, err = strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid interceptor handle %q: %w", args[1], err)
	}
	return a, b, nil
}
