package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kariuki-john/remas-mobile/internal/session"
	"github.com/kariuki-john/remas-mobile/internal/shell"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		shell.Module(shell.Params{SessionName: sessionName}),
	)

	app.Run()
}
