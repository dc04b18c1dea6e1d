package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"tdln.foundry/receipts/storage"
	"tdln.foundry/receipts/storage/casconfig"
	"tdln.foundry/receipts/storage/casregistry"
	"tdln.foundry/receipts/storage/grpccas"

	_ "tdln.foundry/receipts/storage/ipfs"
	_ "tdln.foundry/receipts/storage/localfs"
)

func main() {
	fs := flag.NewFlagSet("tdln-casgrpcd", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	backend := fs.String("backend", "localfs", "CAS backend name")
	casConfig := fs.String("cas-config", "", "Multi-backend config (YAML); overrides --backend")
	maxMsg := fs.Int("max-msg-bytes", 16<<20, "Largest object accepted or returned, in bytes")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")

	openers := casregistry.RegisterFlags(fs, casregistry.UsageDaemon)

	_ = fs.Parse(os.Args[1:])
	if *listBackends {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(os.Stdout, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\n", b.Name, b.Description)
		}
		return
	}

	ctx := context.Background()
	var (
		cas     storage.CAS
		closeFn func() error
		err     error
		name    = *backend
	)
	if *casConfig != "" {
		cfg, lerr := casconfig.LoadFile(*casConfig)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, lerr)
			os.Exit(2)
		}
		cas, closeFn, err = cfg.Open(ctx, casregistry.UsageDaemon, "")
		name = *casConfig
	} else {
		cas, closeFn, err = openers.Open(ctx, *backend)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer(grpc.MaxRecvMsgSize(*maxMsg), grpc.MaxSendMsgSize(*maxMsg))
	grpccas.RegisterCASServer(s, &grpccas.Server{CAS: cas})

	sig, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sig.Done()
		s.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "tdln-casgrpcd listening on %s (backend=%s)\n", lis.Addr().String(), name)
	if err := s.Serve(lis); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
