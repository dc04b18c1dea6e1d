package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tdln.foundry/receipts/api"
	"tdln.foundry/receipts/config"

	_ "tdln.foundry/receipts/storage/grpccas"
	_ "tdln.foundry/receipts/storage/ipfs"
	_ "tdln.foundry/receipts/storage/localfs"
)

func main() {
	fs := flag.NewFlagSet("tdln-certd", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Config file (YAML); default $TDLN_CONFIG")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	server, closeStore, err := newServer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf("tdln-certd listening on %s (mode=%s)", cfg.Listen, cfg.Mode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func newServer(ctx context.Context, cfg *config.Config) (*http.Server, func() error, error) {
	store, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc, err := cfg.Certify(store)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	profiles, err := cfg.LoadProfiles()
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	if svc.Signer == nil {
		log.Printf("warning: no seal key configured; receipt previews are unsigned")
	}
	if store == nil {
		log.Printf("no object store configured; /v1/objects answers 503")
	}

	h := &api.Handler{
		Certify:  svc,
		Profiles: profiles,
		Mode:     cfg.Mode,
		Hasher:   svc.Hasher,
		Store:    store,
		MaxBody:  cfg.MaxBody,
	}
	if closeStore == nil {
		closeStore = func() error { return nil }
	}
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}, closeStore, nil
}
