// Command rcom-registry runs the rcom registry node: the hub that accepts
// messagelink connections from every other node and tracks the shared
// service table.
package main

import (
	"fmt"
	"os"

	"github.com/romi/rcom/hub"
	"github.com/romi/rcom/registry"
	"github.com/romi/rcom/rapp"
	"github.com/romi/rcom/rlog"
)

func main() {
	cfg, err := rapp.ParseFlags("rcom-registry", rapp.DefaultRegistryPort, os.Args[1:])
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

	store := registry.NewStore()

	addr := fmt.Sprintf(":%d", cfg.Port)
	h, err := hub.New(addr, nil, nil)
	if err != nil {
		rlog.L.Error().Err(err).Msg("failed to start registry hub")
		os.Exit(1)
	}
	defer h.Close()

	server := registry.NewServer(store, h)
	h.SetOnConnect(server.OnConnect)

	rlog.L.Info().Str("addr", h.Addr()).Msg("registry listening")
	rapp.WaitForQuit()
}
