package ipfs

import (
	"context"
	"flag"
	"os"

	"tdln.foundry/receipts/storage"
	"tdln.foundry/receipts/storage/casregistry"
)

func init() {
	casregistry.MustRegister(casregistry.Backend{
		Name:        "ipfs",
		Description: "Local Kubo repository via the ipfs CLI (offline)",
		Usage:       casregistry.UsageCLI | casregistry.UsageDaemon,
		Flags: func(fs *flag.FlagSet) casregistry.OpenFunc {
			bin := fs.String("ipfs-bin", "ipfs", "path to the ipfs binary (for --backend=ipfs)")
			repo := fs.String("ipfs-path", "", "IPFS_PATH for the repository; empty uses the environment")
			pin := fs.Bool("ipfs-pin", false, "pin written blocks")
			return func(context.Context) (storage.CAS, func() error, error) {
				var env []string
				if *repo != "" {
					env = append(os.Environ(), "IPFS_PATH="+*repo)
				}
				return New(Options{Bin: *bin, Env: env, Pin: *pin}), nil, nil
			}
		},
	})
}
