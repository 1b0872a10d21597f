// Command stcpd is a demo STCP endpoint: it dials or listens for a single
// STCP connection carried over UDP, echoing whatever it reads from stdin
// to the connection and whatever it reads from the connection to stdout,
// while serving Prometheus metrics on /metrics.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	"github.com/ardnew/stcp"
	"github.com/ardnew/stcp/eventmux"
	"github.com/ardnew/stcp/udpnet"
)

func main() {
	var (
		listen      = flag.String("listen", "", "UDP address to listen on (passive open)")
		remote      = flag.String("remote", "", "UDP address to dial (active open)")
		metricsAddr = flag.String("metrics", ":9109", "address to serve /metrics on")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if (*listen == "") == (*remote == "") {
		log.Error("exactly one of -listen or -remote is required")
		os.Exit(2)
	}

	collector := stcp.NewMetricsCollector()
	prometheus.MustRegister(collector)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("serving metrics", slog.String("addr", *metricsAddr))
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Error("metrics server exited", slog.String("err", err.Error()))
		}
	}()

	ctx := context.Background()

	var uc *net.UDPConn
	var err error
	if *remote != "" {
		raddr, rerr := net.ResolveUDPAddr("udp", *remote)
		if rerr != nil {
			log.Error("resolve remote", slog.String("err", rerr.Error()))
			os.Exit(1)
		}
		uc, err = net.DialUDP("udp", nil, raddr)
	} else {
		laddr, lerr := net.ResolveUDPAddr("udp", *listen)
		if lerr != nil {
			log.Error("resolve listen", slog.String("err", lerr.Error()))
			os.Exit(1)
		}
		uc, err = net.ListenUDP("udp", laddr)
	}
	if err != nil {
		log.Error("udp setup", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer uc.Close()

	netSvc := udpnet.New(uc)
	newMux := func(appDataReady, closeRequested <-chan struct{}) stcp.EventMux {
		return eventmux.NewChannel(netSvc.Ready(), appDataReady, closeRequested)
	}

	var (
		conn *stcp.Conn
		id   xid.ID
	)
	if *remote != "" {
		id = xid.New()
		conn = stcp.NewConn(id, netSvc, int(stcp.LocalRecvWindow), log)
		conn.SetEventMux(newMux(conn.AppDataReady(), conn.CloseRequested()))

		loopDone := make(chan error, 1)
		go func() { loopDone <- conn.Run(ctx, netSvc) }()
		defer func() {
			if err := <-loopDone; err != nil {
				log.Error("event loop exited", slog.String("err", err.Error()))
			}
		}()

		log.Info("dialing", slog.String("remote", *remote))
		if err := conn.Dial(ctx); err != nil {
			log.Error("dial", slog.String("err", err.Error()))
			os.Exit(1)
		}
	} else {
		listener := stcp.NewListener(netSvc, newMux, int(stcp.LocalRecvWindow), log)
		log.Info("accepting", slog.String("listen", *listen))
		var err error
		conn, err = listener.Accept(ctx)
		if err != nil {
			log.Error("accept", slog.String("err", err.Error()))
			os.Exit(1)
		}
		id = conn.ControlBlock().ID()
	}
	collector.Track(conn.ControlBlock())
	defer collector.Untrack(id)
	log.Info("established", slog.String("conn", id.String()))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := io.Copy(os.Stdout, conn); err != nil && err != io.EOF {
			log.Error("copy to stdout", slog.String("err", err.Error()))
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := io.Copy(conn, os.Stdin); err != nil {
			log.Error("copy from stdin", slog.String("err", err.Error()))
		}
		_ = conn.Close()
	}()
	wg.Wait()
}
