package main

import "github.com/fatih/color"

var (
	okLabel   = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnLabel = color.New(color.FgYellow).SprintFunc()
	errLabel  = color.New(color.FgRed).SprintFunc()
	headLabel = color.New(color.FgCyan).SprintFunc()
	dimLabel  = color.New(color.Faint).SprintFunc()
)
