package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"inkframe/internal/app"
	"inkframe/internal/render"
	"inkframe/plugins/solid"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./device.json", "path to device config (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Register renderers (adding a plugin is Register() here plus an
	// instance in the device config).
	reg := render.NewRegistry()
	if err := solid.Register(reg); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	a, err := app.New(app.Options{
		ConfigPath: cfgPath,
		Registry:   reg,
	})
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.Stop(context.Background())
}
