package view

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"
)

// TestChangesDataDriven replays recorded write sequences and checks the changes
// reported for a mappings of the view. Commands:
//
//	mappings [groups=(a,b)] [dynamic]   create and bind the mappings
//	range group=a length=2 offset=0 [pin=end]
//	reverse group=a
//	deps group=a offsets=(1,-1)
//	write                               one transaction, input lines:
//	                                    set <key> <group> <title> | delete <key>
//	changes                             changes since the last changes/mappings
func TestChangesDataDriven(t *testing.T) {
	datadriven.Walk(t, "testdata", func(t *testing.T, path string) {
		var (
			s       store.IStore
			m       *Mappings
			pending []*store.ChangeSet
		)
		ctx := context.Background()

		datadriven.RunTest(t, path, func(t *testing.T, d *datadriven.TestData) string {
			switch d.Cmd {
			case "mappings":
				s = newTestStore(t)
				require.NoError(t, s.Register(ctx, "v", mustView(t, Options{Grouping: byGroupField, Sorting: byTitle})))
				if d.HasArg("dynamic") {
					m = NewDynamicMappings("v", nil, nil)
					m.SetIsDynamicSectionForAllGroups(true)
				} else {
					var groups []string
					d.ScanArgs(t, "groups", &groups)
					m = NewMappings("v", groups...)
				}
				update(t, s, m)
				pending = nil
				return printLayout(m)

			case "range":
				var group string
				var length, offset int
				d.ScanArgs(t, "group", &group)
				d.ScanArgs(t, "length", &length)
				d.ScanArgs(t, "offset", &offset)
				pin := PinBeginning
				if d.HasArg("pin") {
					var p string
					d.ScanArgs(t, "pin", &p)
					if p == "end" {
						pin = PinEnd
					}
				}
				m.SetRangeOptions(group, FixedRange(length, offset, pin))
				return printLayout(m)

			case "reverse":
				var group string
				d.ScanArgs(t, "group", &group)
				m.SetIsReversed(group, true)
				return printLayout(m)

			case "deps":
				var group string
				var raw []string
				d.ScanArgs(t, "group", &group)
				d.ScanArgs(t, "offsets", &raw)
				offsets := make([]int, len(raw))
				for i, o := range raw {
					n, err := strconv.Atoi(o)
					require.NoError(t, err)
					offsets[i] = n
				}
				m.SetCellDrawingDependencyOffsets(group, offsets...)
				return "ok"

			case "write":
				cs, err := s.Write(ctx, func(tx store.WriteTxn) error {
					for _, line := range strings.Split(strings.TrimSpace(d.Input), "\n") {
						f := strings.Fields(line)
						switch {
						case len(f) == 4 && f[0] == "set":
							doc := map[string]any{"group": f[2], "title": f[3]}
							if err := tx.Set("todos", f[1], doc, nil); err != nil {
								return err
							}
						case len(f) == 2 && f[0] == "delete":
							if err := tx.Delete("todos", f[1]); err != nil {
								return err
							}
						default:
							return fmt.Errorf("bad line %q", line)
						}
					}
					return nil
				})
				if err != nil {
					return err.Error()
				}
				if cs != nil {
					pending = append(pending, cs)
				}
				return "ok"

			case "changes":
				changes, err := GetChanges("v", pending, m)
				if err != nil {
					return err.Error()
				}
				pending = nil
				return printChanges(changes) + printLayout(m)

			default:
				t.Fatalf("unknown command %q", d.Cmd)
				return ""
			}
		})
	})
}

func printChanges(c *Changes) string {
	var b strings.Builder
	if c.Reset {
		b.WriteString("reset\n")
	}
	for _, sc := range c.Sections {
		fmt.Fprintf(&b, "section %s %d %s\n", sc.Type, sc.Index, sc.Group)
	}
	for _, rc := range c.Rows {
		fmt.Fprintln(&b, rc)
	}
	if c.IsEmpty() {
		b.WriteString("no changes\n")
	}
	return b.String()
}

func printLayout(m *Mappings) string {
	if m.NumberOfSections() == 0 {
		return "no sections\n"
	}
	var b strings.Builder
	for i, sec := range m.lay.sections {
		keys := make([]string, len(sec.keys))
		for j, ck := range sec.keys {
			keys[j] = ck.Key
		}
		fmt.Fprintf(&b, "%d %s: [%s]\n", i, sec.group, strings.Join(keys, " "))
	}
	return b.String()
}
