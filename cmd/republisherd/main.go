package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"republisher/internal/app"
	"republisher/internal/republish"
)

func main() {
	var cfgPath string
	var runOnce bool
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.BoolVar(&runOnce, "once", false, "run a single batch and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if runOnce {
		res, err := a.Engine().RunBatch(ctx, republish.TriggerManual)
		_ = a.Stop(context.Background())
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		fmt.Printf("%s (successful=%d failed=%d)\n", res.Message, res.Successful, res.Failed)
		if !res.Success {
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	_ = a.Stop(context.Background())
}
