// Command meshlined runs a standalone meshline node: it loads or
// generates a long-term Ed25519 identity, binds a listener, and drives
// the communicator until SIGINT/SIGTERM/SIGHUP.
//
// The upstream transport service meshline hands payloads to is out of
// scope for the module itself (spec.md §1); this command plugs in a
// minimal stdio-backed one (stdioUpstream, stdio_upstream.go) purely so
// the binary is runnable and demonstrates the wiring a real upstream
// service would replace.
//
// Grounded on the teacher's main.go for the signal-driven
// context.WithCancel shutdown, and on yuzhou8787-bdls/cmd/bdlsnode's
// urfave/cli/v2 App/Flags/Action structure for the command surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"meshline/infrastructure/communicator"
	"meshline/infrastructure/logging"
	"meshline/settings"
)

func main() {
	app := &cli.App{
		Name:  "meshlined",
		Usage: "run a meshline peer-to-peer transport node",
		Flags: settings.Flags(),
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Printf("meshlined: fatal: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := settings.FromCLI(c)
	logger := logging.NewStdLogger()

	identityPriv, identityPub, err := settings.LoadOrCreateIdentity(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("loading identity: %w", err)
	}
	logger.Printf("meshlined: identity %s", identityPub)

	upstreamSvc := newStdioUpstream(logger)

	comm, err := communicator.New(communicator.Config{
		BindTo:         cfg.BindTo,
		MaxQueueLength: cfg.MaxQueueLength,
		RekeyInterval:  cfg.RekeyInterval,
		RekeyMaxBytes:  cfg.RekeyMaxBytes,
		IdleWindow:     cfg.IdleWindow,
		ProtoTimeout:   cfg.ProtoTimeout,
	}, identityPriv, identityPub, upstreamSvc, logger)
	if err != nil {
		return fmt.Errorf("starting communicator: %w", err)
	}
	upstreamSvc.comm = comm

	appCtx, appCtxCancel := context.WithCancel(context.Background())
	defer appCtxCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigChan
		logger.Printf("meshlined: interrupt received, shutting down")
		appCtxCancel()
	}()

	runErrC := make(chan error, 1)
	go func() { runErrC <- comm.Run(appCtx) }()

	if handle, err := comm.Announce(0); err != nil {
		logger.Printf("meshlined: announce_address failed: %v", err)
	} else {
		logger.Printf("meshlined: announced as %s", handle)
	}

	go upstreamSvc.readCommands(appCtx)

	<-appCtx.Done()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := comm.Close(closeCtx); err != nil {
		logger.Printf("meshlined: close did not complete cleanly: %v", err)
	}

	if err := <-runErrC; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
