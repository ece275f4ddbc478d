package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"

	"finitefield.org/giftlens/internal/giftlens/catalog"
	"finitefield.org/giftlens/internal/giftlens/dom"
	"finitefield.org/giftlens/internal/giftlens/integrity"
	"finitefield.org/giftlens/internal/giftlens/reflector"
)

func newAuditCmd() *cobra.Command {
	var pageName string
	cmd := &cobra.Command{
		Use:   "audit <file.html>",
		Short: "Check a saved page against its integrity rules and list its products.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return audit(cmd.OutOrStdout(), f, pageName)
		},
	}
	cmd.Flags().StringVar(&pageName, "page", catalog.PageResults, "page type whose rules apply")
	return cmd
}

func audit(out io.Writer, r io.Reader, pageName string) error {
	cat, err := catalog.Default()
	if err != nil {
		return err
	}
	p, err := cat.Page(pageName)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}

	report := integrity.Evaluate(p.Integrity, doc)
	if len(report.Findings) == 0 {
		fmt.Fprintf(out, "integrity: ok (%s)\n", p.Name)
	} else {
		fmt.Fprintf(out, "integrity: %d finding(s) (%s)\n", len(report.Findings), p.Name)
		for _, f := range report.Findings {
			severity := "warn"
			if f.Fatal {
				severity = "FAIL"
			}
			fmt.Fprintf(out, "  [%s] %s: %s\n", severity, f.Landmark, f.Message)
		}
	}

	products := dom.NewIndex(p.Attributes).All(doc)
	fmt.Fprintf(out, "\nproducts: %d\n", len(products))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE\tSOURCE")
	for _, prod := range products {
		id := prod.ID
		if prod.Placeholder {
			id += " (placeholder)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, prod.Name, reflector.FormatMoney(prod.Price), prod.Source)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !report.OK {
		return errAuditFailed
	}
	return nil
}
