package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/charmbracelet/log"

	"github.com/ashishrp-aws/aws-toolkit-vscode/cmd"
)

func main() {
	// Exit with the correct POSIX code (128 + signal number) on termination.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		if s, ok := sig.(syscall.Signal); ok {
			os.Exit(128 + int(s))
		}
		os.Exit(130)
	}()

	os.Exit(run())
}

func run() int {
	if err := cmd.Execute(); err != nil {
		log.Error(err.Error())
		return 1
	}
	return 0
}
