// Command basenode runs one node of the module/RPC/routing fabric: it
// loads a config file, connects to the coordination service, brings up
// the websocket transport and Cluster Router, loads the configured
// business modules, and drives the main tick loop until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nodefabric/basenode/internal/clusterrouter"
	"github.com/nodefabric/basenode/internal/config"
	"github.com/nodefabric/basenode/internal/container"
	"github.com/nodefabric/basenode/internal/container/staticloader"
	"github.com/nodefabric/basenode/internal/discovery"
	"github.com/nodefabric/basenode/internal/idhash"
	"github.com/nodefabric/basenode/internal/log"
	"github.com/nodefabric/basenode/internal/modules/echo"
	"github.com/nodefabric/basenode/internal/moduleapi"
	"github.com/nodefabric/basenode/internal/network/wsboundary"
	"github.com/nodefabric/basenode/internal/registry"
	"github.com/nodefabric/basenode/internal/router"
	"github.com/nodefabric/basenode/internal/svcinstance"
	"github.com/nodefabric/basenode/internal/zkclient/zkconn"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run is main's body, factored out so defers actually run before process
// exit (os.Exit does not unwind deferred calls).
func run() int {
	logger := log.L()

	configPath := config.DefaultConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("basenode: failed to load config", zap.String("path", configPath), zap.Error(err))
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("basenode: invalid config", zap.Error(err))
		return 1
	}
	logger.Info("basenode: config loaded", zap.String("path", configPath))

	zkServers := splitNonEmpty(cfg.Zk.Hosts, ",")
	conn, err := zkconn.Dial(zkServers, time.Duration(cfg.Zk.SessionTimeoutMs)*time.Millisecond)
	if err != nil {
		logger.Error("basenode: failed to connect to coordination service", zap.Error(err))
		return 1
	}
	defer conn.Close()
	logger.Info("basenode: connected to coordination service", zap.Strings("servers", zkServers))

	reg := registry.New(conn, cfg.Zk.Root)
	disc := discovery.New(conn, cfg.Zk.Root)
	rt := router.New()
	boundary := wsboundary.New()

	loader := staticloader.New()
	loader.Register("echo.Module", echo.New)
	loader.Register(clusterrouter.ClassName, func() (moduleapi.Module, error) {
		return clusterrouter.New(disc, boundary, rt)
	})

	c := container.New(loader, rt)
	if err := c.Load(cfg.Modules); err != nil {
		logger.Error("basenode: module load failed", zap.Error(err))
		return 1
	}
	if err := c.PostInit(); err != nil {
		logger.Error("basenode: post-init failed", zap.Error(err))
	}

	if err := boundary.Listen(context.Background(), cfg.Network.Listen.IP, cfg.Network.Listen.Port); err != nil {
		logger.Error("basenode: failed to bind listener", zap.Error(err))
		return 1
	}
	logger.Info("basenode: listening", zap.String("ip", cfg.Network.Listen.IP), zap.Int("port", cfg.Network.Listen.Port))

	if err := advertiseModules(rt, reg, cfg); err != nil {
		logger.Error("basenode: failed to advertise services", zap.Error(err))
	}

	stop := make(chan struct{})
	setupSignalHandler(stop)

	logger.Info("basenode: entering main loop")
	c.Run(stop)

	logger.Info("basenode: shutting down")
	c.Shutdown()
	return 0
}

// advertiseModules registers a ServiceInstance per service key this node
// exposes, one per module that registered at least one handler, so the
// Cluster Router on other nodes can discover and route to this process.
func advertiseModules(rt *router.Router, reg *registry.Registry, cfg *config.Config) error {
	host, portStr, err := splitHostPort(cfg.ServiceHost)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("basenode: invalid service_hosts port %q: %w", portStr, err)
	}

	for _, name := range cfg.Modules {
		m, ok := rt.ModuleByID(idhash.HashModuleID(name))
		if !ok {
			continue
		}
		for _, svcName := range m.ServiceNames() {
			inst := svcinstance.Instance{
				ServiceName: svcName,
				ModuleName:  m.ClassName(),
				InstanceID:  fmt.Sprintf("%s-%s", m.ClassName(), svcName),
				Host:        host,
				Port:        port,
				Healthy:     true,
			}
			if err := reg.RegisterService(context.Background(), inst); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitHostPort(hostPort string) (string, string, error) {
	idx := strings.LastIndex(hostPort, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("basenode: service_hosts %q must be host:port", hostPort)
	}
	return hostPort[:idx], hostPort[idx+1:], nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setupSignalHandler closes stop on SIGINT/SIGTERM so Container.Run exits
// its loop and main proceeds to Shutdown, mirroring the teacher's
// setupCloseHandler in cmd/master/main.go and cmd/worker/main.go.
func setupSignalHandler(stop chan struct{}) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.L().Info("basenode: signal received, stopping")
		close(stop)
	}()
}
