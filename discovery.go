package airsync

import (
	"log/slog"
	"os"

	"github.com/grandcat/zeroconf"
)

const (
	discoveryService = "_airsync._tcp"
	discoveryDomain  = "local."
)

// Advertiser is the LAN discovery collaborator. The zeroconf implementation
// below is the default; tests substitute their own.
type Advertiser interface {
	Shutdown()
}

type zeroconfAdvertiser struct {
	srv *zeroconf.Server
}

func (a *zeroconfAdvertiser) Shutdown() {
	a.srv.Shutdown()
}

func advertise(log *slog.Logger, port int) (Advertiser, error) {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = "airsync"
	}
	srv, err := zeroconf.Register(instance, discoveryService, discoveryDomain, port, []string{"txtv=0"}, nil)
	if err != nil {
		return nil, err
	}
	log.Info("service discovery active", "instance", instance, "service", discoveryService, "port", port)
	return &zeroconfAdvertiser{srv: srv}, nil
}
