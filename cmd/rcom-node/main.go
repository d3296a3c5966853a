// Command rcom-node runs a generic rcom node: it registers an HTTP service
// with the registry and serves it until asked to shut down.
package main

import (
	"fmt"
	"os"

	"github.com/romi/rcom/proxy"
	"github.com/romi/rcom/rapp"
	"github.com/romi/rcom/registry"
	"github.com/romi/rcom/rlog"
	"github.com/romi/rcom/service"
)

func main() {
	cfg, err := rapp.ParseFlags("rcom-node", 0, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.PrintOnly {
		fmt.Printf("%+v\n", cfg)
		return
	}

	stop := rapp.Init(cfg)
	defer stop()

	svc, err := service.New(cfg.Name, fmt.Sprintf("%s:%d", cfg.IP, cfg.Port))
	if err != nil {
		rlog.L.Error().Err(err).Msg("failed to start service server")
		os.Exit(1)
	}
	defer svc.Close()

	p, err := proxy.Connect(cfg.RegistryAddr)
	if err != nil {
		rlog.L.Error().Err(err).Msg("failed to connect to registry")
		os.Exit(1)
	}
	defer p.Close()

	entry, err := p.Register(cfg.Name, "rcom.node", registry.TypeService, svc.Addr())
	if err != nil {
		rlog.L.Error().Err(err).Msg("failed to register service")
		os.Exit(1)
	}

	rlog.L.Info().Str("id", entry.ID).Str("addr", svc.Addr()).Msg("node registered")
	rapp.WaitForQuit()
}
