// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

//go:build linux

// Package main implements the geonote command line client.
package main

import "github.com/wneessen/geonote/cmd/geonote/command"

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	command.Execute(command.BuildInfo{Version: version, Commit: commit, Date: date})
}
