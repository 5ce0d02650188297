package secondaryindex

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// dump prints a parsed expression as an s-expression
func dump(n *node) string {
	if n == nil {
		return "true"
	}
	var parts []string
	switch {
	case n.and != nil:
		for _, c := range n.and {
			parts = append(parts, dump(c))
		}
		return "(and " + strings.Join(parts, " ") + ")"
	case n.or != nil:
		for _, c := range n.or {
			parts = append(parts, dump(c))
		}
		return "(or " + strings.Join(parts, " ") + ")"
	}
	for _, o := range n.operands {
		if o.param >= 0 {
			parts = append(parts, fmt.Sprintf("$%d", o.param))
		} else {
			parts = append(parts, fmt.Sprintf("%#v", o.lit))
		}
	}
	return fmt.Sprintf("(%s %s %s)", n.op, n.column, strings.Join(parts, " "))
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		query string
		want  string
	}{
		{"", "true"},
		{"ORDER BY age", "true order age"},
		{"order by age desc", "true order age desc"},
		{"WHERE a = 1", "(= a 1)"},
		{"WHERE a == -2.5e1", "(= a -25)"},
		{"WHERE a <> 'x'", "(!= a \"x\")"},
		{"WHERE a = 1 AND b < ? OR c >= ?", "(or (and (= a 1) (< b $0)) (>= c $1))"},
		{"WHERE a = 1 AND (b < 2 OR c > 3)", "(and (= a 1) (or (< b 2) (> c 3)))"},
		{"WHERE a IN (1, ?, 'it''s') ORDER BY b ASC", "(IN a 1 $0 \"it's\") order b"},
		{"  where\ta<=.5\nand b>=1.  ", "(and (<= a 0.5) (>= b 1))"},
		{"WHERE a = 99999999999999999999", "(= a 1e+20)"},
	} {
		t.Run(tc.query, func(t *testing.T) {
			p, err := parse(tc.query)
			require.NoError(t, err)
			got := dump(p.where)
			if p.order != "" {
				got += " order " + p.order
				if p.desc {
					got += " desc"
				}
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, q := range []string{
		"WHERE",
		"WHERE a",
		"WHERE a =",
		"WHERE a = b",
		"WHERE and = 1",
		"WHERE a IN 1",
		"WHERE a IN (1 2)",
		"WHERE a = 1)",
		"WHERE a = 1 ORDER",
		"ORDER BY",
		"WHERE a = \"x\"",
		"WHERE a = 1e",
		"WHERE a = -",
		"SELECT *",
	} {
		t.Run(q, func(t *testing.T) {
			_, err := parse(q)
			require.Error(t, err)
		})
	}
}

func TestParamCount(t *testing.T) {
	p, err := parse("WHERE a IN (?, ?) AND b = ?")
	require.NoError(t, err)
	require.Equal(t, 3, p.params)
}
