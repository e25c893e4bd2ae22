package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arloliu/mcapkit/record"
	"github.com/arloliu/mcapkit/schema"
)

func (a *app) schemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <input>",
		Short: "Print the field tables of the IDL schemas in a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetUint16("id")
			flatten, _ := cmd.Flags().GetBool("flatten")

			c, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			for _, s := range c.Schemas() {
				if id != 0 && s.ID != id {
					continue
				}
				if s.Encoding != "omgidl" {
					fmt.Fprintf(out, "schema %d %s: %s encoding, skipped\n\n", s.ID, s.Name, s.Encoding)
					continue
				}
				if err := a.printSchema(out, s, flatten); err != nil {
					return fmt.Errorf("schema %d %s: %w", s.ID, s.Name, err)
				}
			}

			return nil
		},
	}
	cmd.Flags().Uint16("id", 0, "print only the schema with this id")
	cmd.Flags().Bool("flatten", false, "inline nested structs")

	return cmd
}

func (a *app) printSchema(out io.Writer, s *record.Schema, flatten bool) error {
	desc, err := schema.Load(s.Name, int(s.ID), s.Data, schema.WithLogger(a.logger))
	if err != nil {
		return err
	}
	root := desc.Root
	if flatten {
		if root, err = desc.Flatten(); err != nil {
			return err
		}
	}
	if root == nil {
		fmt.Fprintf(out, "schema %d %s: no struct\n\n", s.ID, s.Name)
		return nil
	}

	fmt.Fprintf(out, "schema %d %s: root %s\n", s.ID, s.Name, root.Name)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tTYPE\tKIND\tMAX")
	for _, f := range root.Fields {
		typ := f.Type
		if f.IsVector {
			typ = fmt.Sprintf("sequence<%s>", f.ElementType)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", f.Name, typ, f.Kind, f.MaxLength)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)

	return nil
}
