package main

import (
	"fmt"

	"github.com/alovak/threeds-flow/internal/brand"
	"github.com/spf13/cobra"
)

func NewBrandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "brand [code]",
		Short: "Show which payment family a brand code belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := args[0]
			kind, err := brand.Resolve(code)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "brand:    %s\n", code)
			fmt.Fprintf(out, "kind:     %s\n", kind)
			fmt.Fprintf(out, "web only: %t\n", brand.IsWebOnlyBrand(code))
			return nil
		},
	}
}

func NewKlarnaCountryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "klarna-country [locale]",
		Short: "Map a shopper locale to the Klarna market used for checkout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), brand.KlarnaCountryForLocale(args[0]))
			return nil
		},
	}
}
