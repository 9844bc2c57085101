// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command netfence-sim runs the firewall core against simulated collaborators
// (internal/sim) instead of a real platform, for local demoing and manual
// exercising of mode switches, backend failover, and network/screen events.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/netfence/internal/backend"
	"grimm.is/netfence/internal/backend/netpolicy"
	"grimm.is/netfence/internal/backend/packetfilter"
	"grimm.is/netfence/internal/backend/policychain"
	"grimm.is/netfence/internal/backend/virtualdevice"
	"grimm.is/netfence/internal/config"
	"grimm.is/netfence/internal/logging"
	"grimm.is/netfence/internal/manager"
	"grimm.is/netfence/internal/metrics"
	"grimm.is/netfence/internal/model"
	"grimm.is/netfence/internal/notification"
	"grimm.is/netfence/internal/ports"
	"grimm.is/netfence/internal/sim"
	"grimm.is/netfence/internal/state"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL tunables file")
	statePath := flag.String("state", "netfence-sim.db", "Path to the persisted state SQLite file")
	wgInterface := flag.String("wg-interface", "wg0", "WireGuard interface name the VirtualDevice backend observes")
	mode := flag.String("mode", "auto", "Initial firewall mode: auto, packetfilter, policychain, netpolicy, virtualdevice")
	metricsAddr := flag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")
	flag.Parse()

	logger := logging.Default()

	var tunables manager.Config
	if *configPath != "" {
		f, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		tunables, err = f.Resolve()
		if err != nil {
			log.Fatalf("resolve config: %v", err)
		}
	} else {
		tunables = manager.DefaultConfig()
	}

	store, err := state.NewSQLiteStore(state.DefaultOptions(*statePath))
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer store.Close()

	intent, err := config.LoadIntent(store)
	if err != nil {
		log.Fatalf("load intent: %v", err)
	}

	parsedMode, ok := model.ParseMode(*mode)
	if !ok {
		log.Fatalf("unknown mode %q", *mode)
	}

	ruleStore := sim.NewRuleStore()
	packageSource := sim.NewPackageSource(
		model.AppInfo{UID: 10001, PackageName: "com.example.browser", RequestsNetworkPermission: true},
		model.AppInfo{UID: 10002, PackageName: "com.example.mail", RequestsNetworkPermission: true},
		model.AppInfo{UID: 10050, PackageName: "com.example.system", RequestsNetworkPermission: true, IsSystemCritical: true},
	)
	privilegeProbe := sim.NewPrivilegeProbe(true, true, true, 33)
	osObserver := sim.NewOsObserver()
	notifySink := sim.NewNotificationSink(logger)
	dispatcher := notification.NewDispatcher(notifySink, notification.DefaultConfig(), nil, logger)
	assist := sim.NewAssistChannel(logger)
	controller := sim.NewVPNServiceController(*wgInterface, logger)
	metricsCollector := metrics.NewMetrics()

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metricsCollector.Registry(), promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	newBackend := func(bt model.BackendType) (backend.Backend, error) {
		switch bt {
		case model.BackendPacketFilter:
			return packetfilter.New("netfence", nil, logger), nil
		case model.BackendPolicyChain:
			return policychain.New(assist, logger), nil
		case model.BackendNetPolicy:
			return netpolicy.New(assist, logger), nil
		case model.BackendVirtualDevice:
			return virtualdevice.New(controller, logger), nil
		default:
			return nil, fmt.Errorf("no backend wired for %s", bt)
		}
	}

	deps := manager.Deps{
		RuleStore:      ruleStore,
		PackageSource:  packageSource,
		PrivilegeProbe: privilegeProbe,
		OsObserver:     osObserver,
		Notifier:       dispatcher,
		NewBackend:     newBackend,
		Logger:         logger,
		Metrics:        metricsCollector,
	}

	mgr := manager.New(deps, tunables, parsedMode, intent.DefaultPolicy, intent.AllowCritical)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logStateChanges(ctx, mgr.FirewallStateObservable(), logger)
	logActiveBackend(ctx, mgr.ActiveBackendObservable(), logger)

	if intent.FirewallEnabled {
		if err := mgr.Start(ctx, nil); err != nil {
			log.Fatalf("start manager: %v", err)
		}
	}

	logger.Info("netfence-sim running", "mode", parsedMode.String(), "state_db", *statePath)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Warn("stop manager", "error", err)
	}
}

func logStateChanges(ctx context.Context, ch ports.FirewallStateObservable, logger *logging.Logger) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-ch:
				if !ok {
					return
				}
				logger.Info("firewall state changed", "state", st.String())
			}
		}
	}()
}

func logActiveBackend(ctx context.Context, ch ports.ActiveBackendObservable, logger *logging.Logger) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case bt, ok := <-ch:
				if !ok {
					return
				}
				if bt == nil {
					logger.Info("active backend changed", "backend", "none")
					continue
				}
				logger.Info("active backend changed", "backend", bt.String())
			}
		}
	}()
}
