// Command shvbroker runs an SHV broker: a peer hub accepting logins
// over TCP, Unix domain sockets, and WebSocket, routing requests and
// signals between connected peers per their mount points.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"

	"golang.org/x/net/websocket"

	log "github.com/silicon-heaven/shvgo/pkg/minilog"

	"github.com/silicon-heaven/shvgo/internal/frame"
	"github.com/silicon-heaven/shvgo/internal/rpcbroker"
)

var (
	fLogLevel = flag.String("level", "info", "set log level: [debug, info, warn, error, fatal]")
	fConfig   = flag.String("config", "", "path to the broker's JSON config file (users, roles, autosetup)")
	fTCP      = flag.String("tcp", ":3755", "address to listen on for tcp:// connections, empty to disable")
	fUnix     = flag.String("unix", "", "unix socket path to listen on for unix:// connections, empty to disable")
	fWS       = flag.String("ws", "", "address to listen on for ws:// connections (HTTP Upgrade), empty to disable")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	level, err := log.ParseLevel(*fLogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.AddLogger("stderr", os.Stderr, level, true)

	if *fConfig == "" {
		log.Fatal("shvbroker: -config is required")
	}
	fc, err := loadConfig(*fConfig)
	if err != nil {
		log.Fatal("shvbroker: %v", err)
	}
	brokerCfg, err := buildBrokerConfig(fc)
	if err != nil {
		log.Fatal("shvbroker: %v", err)
	}
	broker := rpcbroker.New(brokerCfg)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		log.Info("shvbroker: caught signal, shutting down")
		cancel()
	}()

	if *fTCP != "" {
		go serveTCP(ctx, broker, *fTCP)
	}
	if *fUnix != "" {
		go serveUnix(ctx, broker, *fUnix)
	}
	if *fWS != "" {
		go serveWebSocket(ctx, broker, *fWS)
	}

	<-ctx.Done()
}

func usage() {
	fmt.Println("usage: shvbroker -config <file> [options]")
	flag.PrintDefaults()
}

func serveTCP(ctx context.Context, broker *rpcbroker.Broker, addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("shvbroker: tcp listen on %s: %v", addr, err)
	}
	log.Info("shvbroker: listening tcp on %s", addr)
	acceptLoop(ctx, ln, broker, frame.ChainPack)
}

func serveUnix(ctx context.Context, broker *rpcbroker.Broker, path string) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		log.Fatal("shvbroker: unix listen on %s: %v", path, err)
	}
	log.Info("shvbroker: listening unix on %s", path)
	acceptLoop(ctx, ln, broker, frame.ChainPack)
}

func acceptLoop(ctx context.Context, ln net.Listener, broker *rpcbroker.Broker, kind frame.Kind) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("shvbroker: accept: %v", err)
			continue
		}
		go broker.Accept(ctx, frame.NewStreamFramer(conn, conn), kind)
	}
}

func serveWebSocket(ctx context.Context, broker *rpcbroker.Broker, addr string) {
	handler := websocket.Server{
		Handshake: frame.Handshake,
		Handler: func(ws *websocket.Conn) {
			broker.Accept(ctx, frame.NewWebSocketFramer(ws), frame.ChainPack)
		},
	}
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Info("shvbroker: listening ws on %s", addr)
	if err := srv.ListenAndServe(); err != nil && ctx.Err() == nil {
		log.Fatal("shvbroker: ws listen on %s: %v", addr, err)
	}
}
