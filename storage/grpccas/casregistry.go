package grpccas

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"tdln.foundry/receipts/storage"
	"tdln.foundry/receipts/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "grpc",
		Description: "gRPC object store client (talks to tdln-casgrpcd)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		Flags: func(fs *flag.FlagSet) casregistry.OpenFunc {
			target := fs.String("grpc-target", "", "gRPC target host:port (for --backend=grpc)")
			timeout := fs.Duration("grpc-timeout", 10*time.Second, "per-RPC timeout (for --backend=grpc)")
			maxMsg := fs.Int("grpc-max-msg-bytes", 0, "max gRPC message size in bytes; 0 uses grpc defaults")
			return func(context.Context) (storage.CAS, func() error, error) {
				t := strings.TrimSpace(*target)
				if t == "" {
					return nil, nil, fmt.Errorf("missing --grpc-target")
				}
				client, err := Dial(t, DialOptions{MaxMsgBytes: *maxMsg})
				if err != nil {
					return nil, nil, err
				}
				client.Timeout = *timeout
				return client, client.Close, nil
			}
		},
	})
}
