package main

import (
	"context"
	"crypto/tls"
	"flag"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"airlift/internal/config"
	"airlift/internal/connserver"
	"airlift/internal/httpserver"
	"airlift/internal/logger"
	"airlift/internal/sandbox"
	"airlift/internal/tlsutil"
)

func main() {
	var (
		addr       = flag.String("addr", "", "listen address (default 0.0.0.0:8080)")
		root       = flag.String("root", "", "directory to serve (required if -config is not set)")
		credential = flag.String("auth", "", "require basic auth, format user:pass")
		enableTLS  = flag.Bool("tls", false, "enable HTTPS (self-signed unless -cert/-key given)")
		certFile   = flag.String("cert", "", "TLS certificate file")
		keyFile    = flag.String("key", "", "TLS key file")
		stateDir   = flag.String("state", "", "state dir for the thumbnail cache (default: <root>/.airlift)")
		cfgPath    = flag.String("config", "", "path to config yaml (optional)")
		logLevel   = flag.String("log-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Error("config: %v", err)
		os.Exit(1)
	}

	// Flags override file and environment.
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *credential != "" {
		cfg.Credential = *credential
	}
	if *enableTLS {
		cfg.TLS.Enabled = true
	}
	if *certFile != "" {
		cfg.TLS.CertFile = *certFile
	}
	if *keyFile != "" {
		cfg.TLS.KeyFile = *keyFile
	}
	if *stateDir != "" {
		cfg.StateDir = *stateDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if err := config.Validate(cfg); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	sbRoot, err := sandbox.NewRoot(cfg.Root)
	if err != nil {
		logger.Error("root %s: %v", cfg.Root, err)
		os.Exit(1)
	}
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(sbRoot.Dir(), ".airlift")
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		logger.Error("mkdir state: %v", err)
		os.Exit(1)
	}

	var tlsConf *tls.Config
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile != "" {
			tlsConf, err = tlsutil.Load(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			tlsConf, err = tlsutil.SelfSigned()
		}
		if err != nil {
			logger.Error("tls setup: %v", err)
			os.Exit(1)
		}
	}

	handler, err := httpserver.New(httpserver.Options{
		Root:       sbRoot,
		Credential: cfg.Credential,
		StateDir:   cfg.StateDir,
	})
	if err != nil {
		logger.Error("server init: %v", err)
		os.Exit(1)
	}

	srv := connserver.New(cfg.Addr, handler, tlsConf)
	if err := srv.Listen(); err != nil {
		logger.Error("listen %s: %v", cfg.Addr, err)
		os.Exit(1)
	}

	scheme := "http"
	if tlsConf != nil {
		scheme = "https"
	}
	logger.Info("airlift listening on %s://%s (root=%s)", scheme, srv.Addr(), sbRoot.Dir())
	if ip := localIP(); ip != "" {
		if _, port, err := net.SplitHostPort(srv.Addr().String()); err == nil {
			logger.Info("network: %s://%s:%s", scheme, ip, port)
		}
	}
	if cfg.Credential != "" {
		logger.Info("auth: enabled")
	}
	if cfg.TLS.Enabled && cfg.TLS.CertFile == "" {
		logger.Info("tls: self-signed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		logger.Error("serve: %v", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}

// localIP finds the outbound interface address without sending traffic.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return a.IP.String()
	}
	return ""
}
