package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// errAuditFailed signals a page that failed its integrity check.
var errAuditFailed = errors.New("integrity check failed")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "giftlens",
		Short:         "GiftLens storefront with a session-scoped wishlist.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newAuditCmd())
	return root
}
