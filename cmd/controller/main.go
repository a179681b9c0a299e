// Command controller runs the home-automation controller: it loads the
// deployment config, builds the device table and the signal graph, and
// serves the HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"homectl-go/config"
	"homectl-go/device"
	"homectl-go/devices"
	"homectl-go/rs485"
	"homectl-go/runner"
	"homectl-go/web"

	// Device builders register themselves.
	_ "homectl-go/devices/avr/relay14"
	_ "homectl-go/devices/soft/flipflop"
	_ "homectl-go/devices/soft/ticker"
)

func main() {
	var (
		configPath string
		listen     string
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "controller",
		Short:        "Home-automation controller runtime",
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return run(configPath, listen, logLevel)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "controller.yaml", "deployment config path")
	root.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type masterPool map[string]*rs485.Master

func (p masterPool) Master(name string) (*rs485.Master, bool) {
	m, ok := p[name]
	return m, ok
}

func run(configPath, listen, logLevel string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}

	masters := masterPool{}
	defer func() {
		for _, m := range masters {
			_ = m.Close()
		}
	}()
	for _, mc := range cfg.Masters {
		port, err := rs485.Open(mc.Port)
		if err != nil {
			return fmt.Errorf("open master %s on %s: %w", mc.Name, mc.Port, err)
		}
		masters[mc.Name] = rs485.NewMaster(mc.Name, port)
		log.WithFields(logrus.Fields{"master": mc.Name, "port": mc.Port}).Info("bus master up")
	}

	devs := map[device.ID]device.Device{}
	for _, dc := range cfg.Devices {
		d, err := devices.Build(dc.Type, devices.BuildInput{
			ID:      device.ID(dc.ID),
			Name:    dc.Name,
			Params:  dc.Params,
			Masters: masters,
		})
		if err != nil {
			return fmt.Errorf("build device %d (%s): %w", dc.ID, dc.Type, err)
		}
		devs[device.ID(dc.ID)] = d
	}

	rn, err := runner.New(devs, cfg.ConnectionsRequested())
	if err != nil {
		return err
	}

	ctx, stop := osignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: cfg.Listen, Handler: web.NewRouter(rn)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rn.Run(gctx)
	})
	g.Go(func() error {
		log.WithField("listen", cfg.Listen).Info("http surface up")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("controller stopped")
	return err
}
