package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cipherbid",
		Short: "Confidential sealed-bid auction service",
		Long: `cipherbid runs a sealed-bid auction whose bids stay encrypted until the
round is claimed. Bids are compared by an encryption co-processor, either
in-process or inside an enclave reached over vsock.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newVerifyCmd(),
	)
	return root
}
