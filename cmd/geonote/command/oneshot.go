// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package command

import (
	"github.com/spf13/cobra"
)

var saveAfterFetch bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the current location and print its address",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err = a.serv.FetchCurrentLocation(cmd.Context()); err != nil {
			return quietErr(err)
		}
		if err = a.pres.RenderState(cmd.OutOrStdout(), a.serv.Snapshot()); err != nil {
			return err
		}
		if saveAfterFetch {
			return quietErr(a.serv.SaveCurrentLocation(cmd.Context()))
		}
		return nil
	},
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Fetch the current location and save it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err = a.serv.FetchCurrentLocation(cmd.Context()); err != nil {
			return quietErr(err)
		}
		if err = a.serv.SaveCurrentLocation(cmd.Context()); err != nil {
			return quietErr(err)
		}
		return a.pres.RenderList(cmd.OutOrStdout(), a.serv.Snapshot())
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the saved locations, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err = a.serv.ReloadSavedLocations(cmd.Context()); err != nil {
			return quietErr(err)
		}
		return a.pres.RenderList(cmd.OutOrStdout(), a.serv.Snapshot())
	},
}

var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Request location access and print the result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		_, err = a.serv.RequestPermission(cmd.Context())
		if rerr := a.pres.RenderState(cmd.OutOrStdout(), a.serv.Snapshot()); rerr != nil {
			return rerr
		}
		return quietErr(err)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the location and print every new address until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		unsubscribe := a.serv.OnChange(newStateRenderer(a, cmd.OutOrStdout()).onChange)
		defer unsubscribe()

		stop, err := a.serv.WatchLocation(cmd.Context())
		if err != nil {
			return quietErr(err)
		}
		defer stop()

		<-cmd.Context().Done()
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&saveAfterFetch, "save", false, "save the location after fetching it")
	rootCmd.AddCommand(fetchCmd, saveCmd, listCmd, permissionCmd, watchCmd)
}
