package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatd/internal/daemon"
	"github.com/matheus3301/chatd/internal/session"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	flag.Parse()

	instanceName := session.Resolve(*instanceFlag)
	if err := session.ValidateName(instanceName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{InstanceName: instanceName, Listen: *listenFlag}),
	)

	app.Run()
}
