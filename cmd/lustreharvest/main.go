// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/google/gops/agent"

	"github.com/plaguedbypenguins/lustreharvest/internal/client"
	"github.com/plaguedbypenguins/lustreharvest/internal/config"
	"github.com/plaguedbypenguins/lustreharvest/internal/counterreader"
	"github.com/plaguedbypenguins/lustreharvest/internal/dnscache"
	"github.com/plaguedbypenguins/lustreharvest/internal/emitter"
	"github.com/plaguedbypenguins/lustreharvest/internal/metrics"
	"github.com/plaguedbypenguins/lustreharvest/internal/phase"
	"github.com/plaguedbypenguins/lustreharvest/internal/relay"
	"github.com/plaguedbypenguins/lustreharvest/internal/server"
	"github.com/plaguedbypenguins/lustreharvest/internal/wire"
	"github.com/plaguedbypenguins/lustreharvest/pkg/log"
	"github.com/plaguedbypenguins/lustreharvest/pkg/runtimeEnv"
)

func main() {
	args := parseFlags()

	if flagVerbose {
		log.SetLogLevel("debug")
	} else {
		log.SetLogLevel("info")
	}

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatalf("loading config: %s", err.Error())
	}

	if flagSecretFile != "" {
		cfg.SecretFile = flagSecretFile
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}

	secret, err := loadSecret(cfg.SecretFile)
	if err != nil {
		log.Fatalf("loading secret file: %s", err.Error())
	}

	if len(args) == 0 {
		runServer(cfg, secret)
	} else {
		runClient(cfg, secret, args[0], args[1:])
	}
}

// loadSecret reads the shared secret from path; it is a fatal startup
// error for the file to be missing or contain only whitespace (spec.md
// §6: "must contain at least one non-whitespace byte").
func loadSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return bytes.TrimSpace(data), nil
}

func runClient(cfg *config.Config, secret []byte, serverHost string, filesystems []string) {
	if flagInterface != "" {
		log.Fatal("--interface is an option for the server only")
	}
	if len(filesystems) == 0 {
		log.Fatal("client mode requires at least one filesystem name argument")
	}

	reader := counterreader.New(cfg.BaseDirs())
	sched := phase.New(cfg.GatherRate)
	serverAddr := net.JoinHostPort(serverHost, strconv.Itoa(cfg.Port))

	eng := client.New(serverAddr, filesystems, reader, secret, sched)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("shutting down")
		cancel()
	}()

	log.Infof("client: sending %v to %s every %s", filesystems, serverAddr, sched.Period())
	eng.Run(ctx)
	log.Info("client: graceful shutdown completed")
}

func runServer(cfg *config.Config, secret []byte) {
	addr := net.JoinHostPort(flagInterface, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("binding %s: %s", addr, err.Error())
	}
	log.Infof("server: listening on %s", addr)

	if err := runtimeEnv.DropPrivileges("", ""); err != nil {
		log.Warnf("dropping privileges: %s", err.Error())
	}

	sched := phase.New(cfg.GatherRate)
	eng := server.New(ln, secret, sched.Period())

	metricsReg := metrics.New()
	eng.Metrics = metricsReg
	if cfg.MetricsListen != "" {
		go func() {
			if err := metricsReg.Serve(cfg.MetricsListen); err != nil {
				log.Errorf("metrics server: %s", err.Error())
			}
		}()
	}

	resolver := dnscache.New(cfg.Resolver)

	var publisher emitter.Publisher
	if !flagDryRun && cfg.Publisher.Host != "" {
		pub, err := emitter.NewGmetricPublisher(cfg.Publisher.Host, cfg.Publisher.Port, cfg.Publisher.Protocol)
		if err != nil {
			log.Fatalf("connecting to downstream publisher: %s", err.Error())
		}
		publisher = pub
		defer pub.Close()
	}

	eng.Emitter = &emitter.Emitter{
		Publisher: publisher,
		Resolver:  resolver,
		Aliases:   cfg.FilesystemAlias,
		DryRun:    flagDryRun || publisher == nil,
		Metrics:   metricsReg,
	}

	if hostname, err := os.Hostname(); err == nil {
		if clusters, ok := cfg.RelayTopology[hostname]; ok && len(clusters) > 0 {
			destinations := map[string]string{}
			for _, cluster := range clusters {
				head, ok := cfg.HeadNodes[cluster]
				if !ok {
					log.Warnf("relay: cluster %q has no headNodes entry, skipping", cluster)
					continue
				}
				destinations[cluster] = net.JoinHostPort(head, strconv.Itoa(cfg.Port))
			}
			if len(destinations) > 0 {
				r := relay.New(destinations, secret)
				r.Codec = wire.NewCodec()
				r.Metrics = metricsReg
				eng.Relay = r
				defer r.Close()
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		ln.Close()
	}()

	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	log.Info("server: graceful shutdown completed")
}
