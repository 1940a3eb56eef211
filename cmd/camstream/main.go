// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

//go:build !js
// +build !js

// Package main runs the camera stream controller against a camera-streamer
// instance and exposes the host bridge.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/camstream/bridge"
	"github.com/pion/camstream/config"
	"github.com/pion/camstream/controller"
	plog "github.com/pion/camstream/logging"
	"github.com/pion/camstream/negotiated"
	"github.com/pion/camstream/pull"
	"github.com/pion/camstream/surface"
	"github.com/pion/logging"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath string
	listen     string
	origin     string
	record     string
	logLevel   string
	logFile    string
	rtpLog     string
	rtcpLog    string
	visible    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "camstream",
		Short:         "Drive a camera-streamer feed over mjpg or webrtc",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "settings file (ini), defaults apply when empty")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the stream controller and the host bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return realMain(cmd.Context(), opts)
		},
	}
	run.Flags().StringVarP(&opts.listen, "listen", "l", "127.0.0.1:8090", "bridge listen address")
	run.Flags().StringVar(&opts.origin, "origin", "http://127.0.0.1:8080/", "address relative camera urls resolve against")
	run.Flags().StringVar(&opts.record, "record", "", "save received video to files with this base path")
	run.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level: disabled, error, warn, info, debug, trace")
	run.Flags().StringVar(&opts.logFile, "log-file", "stderr", "log destination: stdout, stderr or a file path")
	run.Flags().StringVar(&opts.rtpLog, "rtp-log", "", "dump received RTP packets to this file")
	run.Flags().StringVar(&opts.rtcpLog, "rtcp-log", "", "dump sent RTCP packets to this file")
	run.Flags().BoolVar(&opts.visible, "visible", false, "start streaming without waiting for the host page")

	show := &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := loadSettings(opts.configPath, logging.NewDefaultLoggerFactory())
			if err != nil {
				return err
			}

			return printSettings(cmd.OutOrStdout(), source.Snapshot())
		},
	}

	root.AddCommand(run, show)

	return root
}

// settings is the config source used by the CLI. reload is nil when the
// defaults are in use.
type settings struct {
	config.Source
	reload func() error
}

func (s settings) Reload() error {
	if s.reload == nil {
		return nil
	}

	return s.reload()
}

func loadSettings(path string, loggerFactory logging.LoggerFactory) (settings, error) {
	if path == "" {
		return settings{Source: config.NewStatic(config.Default())}, nil
	}
	file, err := config.Load(path, config.SetLoggerFactory(loggerFactory))
	if err != nil {
		return settings{}, err
	}

	return settings{Source: file, reload: file.Reload}, nil
}

func printSettings(w io.Writer, snap config.Snapshot) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "pull: %s\nwebrtc: %s\nclass: %q\n",
		snap.PullURL(), snap.NegotiatedURL(), controller.Class(snap))

	return err
}

func realMain(ctx context.Context, opts *options) error {
	logWriter, err := plog.GetLogFile(opts.logFile)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := logWriter.Close(); closeErr != nil {
			log.Printf("failed to close log file: %v", closeErr)
		}
	}()
	loggerFactory, err := plog.NewLoggerFactory(opts.logLevel, logWriter)
	if err != nil {
		return err
	}
	logger := loggerFactory.NewLogger("camstream")

	source, err := loadSettings(opts.configPath, loggerFactory)
	if err != nil {
		return err
	}

	mjpeg, err := surface.NewMJPEG(
		surface.SetOrigin(opts.origin),
		surface.SetMJPEGLoggerFactory(loggerFactory),
	)
	if err != nil {
		return err
	}
	recorderOpts := []surface.RecorderOption{surface.SetRecorderLoggerFactory(loggerFactory)}
	if opts.record != "" {
		recorderOpts = append(recorderOpts, surface.SaveVideo(opts.record))
	}
	recorder, err := surface.NewRecorder(recorderOpts...)
	if err != nil {
		return err
	}

	pullAdapter, err := pull.NewAdapter(mjpeg, pull.SetLoggerFactory(loggerFactory))
	if err != nil {
		return err
	}

	negotiatedOpts := []negotiated.Option{
		negotiated.SetLoggerFactory(loggerFactory),
		negotiated.SetOrigin(opts.origin),
		negotiated.SetConfigSource(source),
		negotiated.DefaultInterceptors(),
	}
	if opts.rtpLog != "" || opts.rtcpLog != "" {
		rtpWriter, rtcpWriter, closeDumps, dumpErr := packetDumps(opts.rtpLog, opts.rtcpLog)
		if dumpErr != nil {
			return dumpErr
		}
		defer closeDumps()
		negotiatedOpts = append(negotiatedOpts, negotiated.PacketLogWriter(rtpWriter, rtcpWriter))
	}
	negotiatedAdapter, err := negotiated.NewAdapter(recorder, negotiatedOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := negotiatedAdapter.Close(); closeErr != nil {
			logger.Warnf("failed to close webrtc adapter: %v", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctrl, err := controller.New(source, pullAdapter, negotiatedAdapter,
		controller.SetLoggerFactory(loggerFactory),
		controller.WithContext(ctx),
	)
	if err != nil {
		return err
	}

	bridgeOpts := []bridge.Option{
		bridge.SetLoggerFactory(loggerFactory),
		bridge.WithVideo(recorder),
		bridge.WithFrames(mjpeg),
	}
	if source.reload != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithSettings(source))
	}
	host, err := bridge.New(ctrl, bridgeOpts...)
	if err != nil {
		return err
	}
	defer host.Close()

	if opts.visible {
		ctrl.RequestVisible(true)
	}

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return host.Start(ctx, opts.listen)
	})
	wg.Go(func() error {
		return handleSignals(ctx, cancel, source, ctrl, logger)
	})

	if err = wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// handleSignals reloads settings on SIGHUP and tears the stream down on
// SIGINT or SIGTERM.
func handleSignals(
	ctx context.Context,
	cancel context.CancelFunc,
	source settings,
	ctrl *controller.Controller,
	logger logging.LeveledLogger,
) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	for {
		select {
		case <-ctx.Done():
			ctrl.OnUnload()

			return nil
		case sig := <-signals:
			if sig != syscall.SIGHUP {
				logger.Infof("Received %s, shutting down", sig)
				ctrl.OnUnload()
				cancel()

				return nil
			}
			if err := source.Reload(); err != nil {
				logger.Errorf("Failed to reload settings: %v", err)

				continue
			}
			ctrl.OnSettingsChanged()
		}
	}
}

func packetDumps(rtpPath, rtcpPath string) (io.Writer, io.Writer, func(), error) {
	rtpWriter, err := plog.GetLogFile(rtpPath)
	if err != nil {
		return nil, nil, nil, err
	}
	rtcpWriter, err := plog.GetLogFile(rtcpPath)
	if err != nil {
		_ = rtpWriter.Close()

		return nil, nil, nil, err
	}

	return rtpWriter, rtcpWriter, func() {
		_ = rtpWriter.Close()
		_ = rtcpWriter.Close()
	}, nil
}
