package main

import (
	"github.com/alecthomas/kong"

	"github.com/guyernest/step-functions-agent-sub000/cmd/cli"
)

var app struct {
	Run  cli.RunCmd  `cmd:"" help:"Execute an automation script against a browser session."`
	Lint cli.LintCmd `cmd:"" help:"Validate an automation script without executing it."`
}

func main() {
	ctx := kong.Parse(&app,
		kong.Name("webauto"),
		kong.Description("Scripted browser automation with vision-assisted element location."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
