package ext

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/eKV/cmd/util"
	"github.com/ValentinKolb/eKV/lib/ext/relationship"
	"github.com/ValentinKolb/eKV/lib/ext/secondaryindex"
	"github.com/ValentinKolb/eKV/lib/ext/view"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/spf13/cobra"
)

// Commands query registered extensions. They are added to the root command.
var Commands = []*cobra.Command{viewCmd, queryCmd, edgesCmd, extensionsCmd}

var (
	viewCmd = &cobra.Command{
		Use:   "view [name] [group]",
		Short: "Lists the groups of a view, or the keys of one group in view order",
		Args:  cobra.RangeArgs(1, 2),
		RunE: util.WithStore(false, func(cmd *cobra.Command, args []string, s store.IStore) error {
			out := cmd.OutOrStdout()
			return s.Read(func(tx store.ReadTxn) error {
				v := view.Read(tx, args[0])
				if v == nil {
					return fmt.Errorf("no view named %q", args[0])
				}
				if len(args) == 1 {
					for _, g := range v.Groups() {
						fmt.Fprintf(out, "%s\t%d\n", g, v.NumberOfItemsInGroup(g))
					}
					return nil
				}
				for i, ck := range v.Keys(args[1]) {
					fmt.Fprintf(out, "%d\t%s\n", i, ck)
				}
				return nil
			})
		}),
	}
	queryCmd = &cobra.Command{
		Use:   "query [index] [query] [params...]",
		Short: "Runs a query against a secondary index",
		Long: util.WrapString(`Runs a query like "WHERE age > ? ORDER BY name DESC" against a secondary index and prints the matching keys.
Parameters are parsed as integers, reals, JSON lists (for IN) or taken as text. Quote a parameter in single quotes to force text.`),
		Args: cobra.MinimumNArgs(2),
		RunE: util.WithStore(false, func(cmd *cobra.Command, args []string, s store.IStore) error {
			out := cmd.OutOrStdout()
			params := make([]any, 0, len(args)-2)
			for _, a := range args[2:] {
				params = append(params, parseParam(a))
			}
			q := secondaryindex.NewQuery(args[1], params...)
			aggregate, _ := cmd.Flags().GetString("aggregate")
			column, _ := cmd.Flags().GetString("column")

			return s.Read(func(tx store.ReadTxn) error {
				idx := secondaryindex.Read(tx, args[0])
				if idx == nil {
					return fmt.Errorf("no secondary index named %q", args[0])
				}
				if aggregate != "" {
					fn, err := secondaryindex.ParseAggregateFunc(aggregate)
					if err != nil {
						return err
					}
					v, err := idx.Aggregate(fn, column, q)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, v)
					return nil
				}
				if column != "" {
					values, err := idx.IndexedValues(column, q)
					if err != nil {
						return err
					}
					for ck, v := range values {
						fmt.Fprintf(out, "%s\t%v\n", ck, v)
					}
					return nil
				}
				keys, err := idx.Keys(q)
				if err != nil {
					return err
				}
				for ck := range keys {
					fmt.Fprintln(out, ck)
				}
				return nil
			})
		}),
	}
	edgesCmd = &cobra.Command{
		Use:   "edges [relationship]",
		Short: "Lists the edges of a relationship",
		Args:  cobra.ExactArgs(1),
		RunE: util.WithStore(false, func(cmd *cobra.Command, args []string, s store.IStore) error {
			var q relationship.Query
			q.Name, _ = cmd.Flags().GetString("name")
			for flag, ck := range map[string]*store.CollectionKey{"source": &q.Source, "destination": &q.Destination} {
				if v, _ := cmd.Flags().GetString(flag); v != "" {
					parsed, err := util.ParseCK(v)
					if err != nil {
						return fmt.Errorf("--%s: %w", flag, err)
					}
					*ck = parsed
				}
			}
			onlyCount, _ := cmd.Flags().GetBool("count")
			out := cmd.OutOrStdout()

			return s.Read(func(tx store.ReadTxn) error {
				r := relationship.Read(tx, args[0])
				if r == nil {
					return fmt.Errorf("no relationship named %q", args[0])
				}
				if onlyCount {
					fmt.Fprintln(out, r.Count(q))
					return nil
				}
				for e := range r.Edges(q) {
					fmt.Fprintln(out, e)
				}
				return nil
			})
		}),
	}
	extensionsCmd = &cobra.Command{
		Use:   "extensions",
		Short: "Lists the registered extensions",
		Args:  cobra.NoArgs,
		RunE: util.WithStore(false, func(cmd *cobra.Command, args []string, s store.IStore) error {
			for _, e := range s.Extensions() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tgeneration %d\n", e.Name, e.Generation)
			}
			return nil
		}),
	}
)

func init() {
	queryCmd.Flags().String("aggregate", "", util.WrapString("Aggregate the matching rows instead of listing them (count, sum, avg, min, max)"))
	queryCmd.Flags().String("column", "", util.WrapString("Print the indexed values of this column, or the column to aggregate"))

	edgesCmd.Flags().String("name", "", "Only edges with this name")
	edgesCmd.Flags().String("source", "", "Only edges starting at collection/key")
	edgesCmd.Flags().String("destination", "", "Only edges ending at collection/key")
	edgesCmd.Flags().Bool("count", false, "Only print the number of edges")
}

// parseParam reads a query parameter: quoted text, integer, real, JSON list, null or text
func parseParam(arg string) any {
	if len(arg) >= 2 && arg[0] == '\'' && arg[len(arg)-1] == '\'' {
		return arg[1 : len(arg)-1]
	}
	if i, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(arg, 64); err == nil {
		return f
	}
	if strings.HasPrefix(arg, "[") {
		var list []any
		if err := json.Unmarshal([]byte(arg), &list); err == nil {
			return list
		}
	}
	if arg == "null" {
		return nil
	}
	return arg
}
