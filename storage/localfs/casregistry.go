package localfs

import (
	"context"
	"flag"
	"fmt"

	"tdln.foundry/receipts/storage"
	"tdln.foundry/receipts/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "localfs",
		Description: "Local filesystem object store (directory)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		Flags: func(fs *flag.FlagSet) casregistry.OpenFunc {
			dir := fs.String("localfs-dir", "", "object store directory (for --backend=localfs)")
			return func(context.Context) (storage.CAS, func() error, error) {
				if *dir == "" {
					return nil, nil, fmt.Errorf("missing --localfs-dir")
				}
				cas, err := New(*dir)
				return cas, nil, err
			}
		},
	})
}
