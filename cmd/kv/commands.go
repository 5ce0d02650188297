package kv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/eKV/cmd/util"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [collection] [key]",
		Short: "Prints a row as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: util.WithStore(false, func(cmd *cobra.Command, args []string, s store.IStore) error {
			return s.Read(func(tx store.ReadTxn) error {
				row, ok := tx.GetRow(args[0], args[1])
				if !ok {
					return fmt.Errorf("row %s not found", store.CK(args[0], args[1]))
				}
				return util.PrintJSON(cmd.OutOrStdout(), rowJSON{
					Collection: row.Collection,
					Key:        row.Key,
					Version:    row.Version,
					Object:     row.Object,
					Metadata:   row.Metadata,
				})
			})
		}),
	}
	setCmd = &cobra.Command{
		Use:   "set [collection] [key] [value]",
		Short: "Sets the object of a row, the value is parsed as JSON",
		Args:  cobra.ExactArgs(3),
		RunE: util.WithStore(true, func(cmd *cobra.Command, args []string, s store.IStore) error {
			var metadata any
			if m, _ := cmd.Flags().GetString("metadata"); m != "" {
				metadata = util.ParseValue(m)
			}
			cs, err := s.Write(cmd.Context(), func(tx store.WriteTxn) error {
				return tx.Set(args[0], args[1], util.ParseValue(args[2]), metadata)
			})
			if err != nil {
				return err
			}
			printCommit(cmd.OutOrStdout(), "set", cs)
			return nil
		}),
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [collection] [key]",
		Short: "Deletes a row (and whatever the relationships cascade to)",
		Args:  cobra.ExactArgs(2),
		RunE: util.WithStore(true, func(cmd *cobra.Command, args []string, s store.IStore) error {
			cs, err := s.Write(cmd.Context(), func(tx store.WriteTxn) error {
				return tx.Delete(args[0], args[1])
			})
			if err != nil {
				return err
			}
			printCommit(cmd.OutOrStdout(), "delete", cs)
			return nil
		}),
	}
	deleteCollectionCmd = &cobra.Command{
		Use:   "delete-collection [collection]",
		Short: "Deletes every row of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: util.WithStore(true, func(cmd *cobra.Command, args []string, s store.IStore) error {
			cs, err := s.Write(cmd.Context(), func(tx store.WriteTxn) error {
				return tx.DeleteAllInCollection(args[0])
			})
			if err != nil {
				return err
			}
			printCommit(cmd.OutOrStdout(), "delete-collection", cs)
			return nil
		}),
	}
	keysCmd = &cobra.Command{
		Use:   "keys [collection]",
		Short: "Lists the keys of a collection, or the collections if none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: util.WithStore(false, func(cmd *cobra.Command, args []string, s store.IStore) error {
			onlyCount, _ := cmd.Flags().GetBool("count")
			out := cmd.OutOrStdout()
			return s.Read(func(tx store.ReadTxn) error {
				if len(args) == 0 {
					for _, c := range tx.Collections() {
						fmt.Fprintf(out, "%s\t%d\n", c, tx.Count(c))
					}
					return nil
				}
				if onlyCount {
					fmt.Fprintln(out, tx.Count(args[0]))
					return nil
				}
				for k := range tx.Keys(args[0]) {
					fmt.Fprintln(out, k)
				}
				return nil
			})
		}),
	}
	importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Imports rows from JSON lines",
		Long: util.WrapString(`Imports rows from a file (or stdin if the file is "-") with one JSON object
per line: {"collection": "...", "key": "...", "object": ..., "metadata": ...}`),
		Args: cobra.ExactArgs(1),
		RunE: util.WithStore(true, func(cmd *cobra.Command, args []string, s store.IStore) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			batch, _ := cmd.Flags().GetInt("batch")
			n, err := importRows(cmd, s, in, max(batch, 1))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rows\n", n)
			return nil
		}),
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints the configuration, database info, extensions and metrics",
		Args:  cobra.NoArgs,
		RunE: util.WithStore(false, func(cmd *cobra.Command, args []string, s store.IStore) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, util.GetStoreConfig().String())

			info := s.GetDBInfo()
			fmt.Fprintln(out, "Database:")
			fmt.Fprintf(out, "  %-12s %s\n", "engine:", info.DbType)
			fmt.Fprintf(out, "  %-12s %d\n", "version:", info.Version)
			fmt.Fprintf(out, "  %-12s %d\n", "rows:", info.Rows)
			fmt.Fprintf(out, "  %-12s %d\n", "size:", info.SizeBytes)
			fmt.Fprintf(out, "  %-12s %v\n", "features:", info.SupportedFeatures)
			if info.Metadata != nil {
				fmt.Fprintf(out, "  %-12s %v\n", "metadata:", info.Metadata)
			}

			fmt.Fprintln(out, "\nExtensions:")
			for _, e := range s.Extensions() {
				stats, _ := s.ExtensionStats(e.Name)
				fmt.Fprintf(out, "  %-20s calls=%d errors=%d mean=%s p99=%s\n",
					e.Name, stats.Calls, stats.Errors, stats.Mean, stats.P99)
			}

			fmt.Fprintln(out, "\nMetrics:")
			s.WriteMetrics(out)
			return nil
		}),
	}
)

type rowJSON struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Version    uint64 `json:"version,omitempty"`
	Object     any    `json:"object"`
	Metadata   any    `json:"metadata,omitempty"`
}

func importRows(cmd *cobra.Command, s store.IStore, in io.Reader, batch int) (int, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)

	var (
		pending []rowJSON
		total   int
		line    int
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		_, err := s.Write(cmd.Context(), func(tx store.WriteTxn) error {
			for _, r := range pending {
				if err := tx.Set(r.Collection, r.Key, r.Object, r.Metadata); err != nil {
					return err
				}
			}
			return nil
		})
		total += len(pending)
		pending = pending[:0]
		return err
	}

	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r rowJSON
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return total, errors.Wrapf(err, "line %d", line)
		}
		if r.Collection == "" || r.Key == "" {
			return total, errors.Newf("line %d: collection and key are required", line)
		}
		pending = append(pending, r)
		if len(pending) >= batch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return total, err
	}
	return total, flush()
}

func printCommit(w io.Writer, op string, cs *store.ChangeSet) {
	if cs == nil {
		fmt.Fprintf(w, "%s: nothing changed\n", op)
		return
	}
	fmt.Fprintf(w, "%s successfully (version %d, %d changes)\n", op, cs.Version, len(cs.Changes))
}
