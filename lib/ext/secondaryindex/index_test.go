package secondaryindex

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/ValentinKolb/eKV/lib/db"
	"github.com/ValentinKolb/eKV/lib/db/engines/maple"
	"github.com/ValentinKolb/eKV/lib/store"
	"github.com/ValentinKolb/eKV/lib/store/lstore"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func newTestStore(t *testing.T) store.IStore {
	t.Helper()
	s, err := lstore.Open(lstore.DefaultOptions(func() (db.KVDB, error) {
		return maple.NewMapleDB(maple.DefaultOptions()), nil
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type person struct {
	name  string
	age   int
	score float64
	city  string
}

func (p person) doc() map[string]any {
	d := map[string]any{"name": p.name, "age": p.age, "score": p.score}
	if p.city != "" {
		d["city"] = p.city
	}
	return d
}

// field extracts a document field
func field(name string) Extractor {
	return func(_, _ string, object, _ any) (any, bool) {
		doc, ok := object.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := doc[name]
		return v, ok
	}
}

func peopleSetup() *Setup {
	return NewSetup().
		AddColumn("name", Text, field("name")).
		AddColumn("age", Integer, field("age")).
		AddColumn("score", Real, field("score")).
		AddColumn("city", Text, field("city"))
}

func register(t *testing.T, s store.IStore, opts Options) {
	t.Helper()
	if opts.Setup == nil {
		opts.Setup = peopleSetup()
	}
	idx, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, s.Register(context.Background(), "people", idx))
}

func write(t *testing.T, s store.IStore, fn func(tx store.WriteTxn) error) *store.ChangeSet {
	t.Helper()
	cs, err := s.Write(context.Background(), fn)
	require.NoError(t, err)
	return cs
}

func put(t *testing.T, s store.IStore, people map[string]person) {
	t.Helper()
	keys := make([]string, 0, len(people))
	for k := range people {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	write(t, s, func(tx store.WriteTxn) error {
		for _, k := range keys {
			if err := tx.Set("people", k, people[k].doc(), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

var sample = map[string]person{
	"ann": {name: "ann", age: 30, score: 1.5, city: "Berlin"},
	"bob": {name: "bob", age: 40, score: 2.5, city: "Paris"},
	"cid": {name: "cid", age: 50, score: 3.5},
	"dan": {name: "dan", age: 30, score: 4.5, city: "Rome"},
	"eve": {name: "O'Neil", age: 20, score: 5.5, city: "Berlin"},
}

func query(t *testing.T, s store.IStore, text string, params ...any) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.Read(func(tx store.ReadTxn) error {
		keys, err := Read(tx, "people").Keys(NewQuery(text, params...))
		if err != nil {
			return err
		}
		for ck := range keys {
			out = append(out, ck.Key)
		}
		return nil
	}))
	return out
}

func queryErr(t *testing.T, s store.IStore, text string, params ...any) error {
	t.Helper()
	var qerr error
	require.NoError(t, s.Read(func(tx store.ReadTxn) error {
		_, qerr = Read(tx, "people").Keys(NewQuery(text, params...))
		return nil
	}))
	return qerr
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestIntegerNormalizeBounds(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want any
		ok   bool
	}{
		{in: float64(math.MaxInt64)}, // rounds up to 2^63
		{in: math.Ldexp(1, 62), want: int64(1) << 62, ok: true},
		{in: float64(math.MinInt64), want: int64(math.MinInt64), ok: true},
		{in: -math.Ldexp(1, 64)},
		{in: math.Inf(1)},
		{in: 2.5},
		{in: int64(math.MaxInt64), want: int64(math.MaxInt64), ok: true},
	} {
		got, ok := Integer.normalize(tc.in)
		require.Equal(t, tc.ok, ok, "%v", tc.in)
		require.Equal(t, tc.want, got, "%v", tc.in)
	}

	// an out of range value is NULL and matches no comparison
	s := newTestStore(t)
	register(t, s, Options{})
	write(t, s, func(tx store.WriteTxn) error {
		return tx.Set("people", "big", map[string]any{"name": "big", "age": float64(math.MaxInt64)}, nil)
	})
	require.Empty(t, query(t, s, "WHERE age < 0"))
	require.Empty(t, query(t, s, "WHERE age > 0"))
	require.Equal(t, []string{"big"}, query(t, s, "WHERE name = 'big'"))
}

func TestNewValidatesSetup(t *testing.T) {
	noop := field("x")
	for name, setup := range map[string]*Setup{
		"nil":       nil,
		"empty":     NewSetup(),
		"bad name":  NewSetup().AddColumn("1st", Text, noop),
		"keyword":   NewSetup().AddColumn("order", Text, noop),
		"duplicate": NewSetup().AddColumn("a", Text, noop).AddColumn("a", Integer, noop),
		"no type":   NewSetup().AddColumn("a", 0, noop),
		"no func":   NewSetup().AddColumn("a", Text, nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(Options{Setup: setup})
			require.Error(t, err)
			require.True(t, errors.Is(err, store.ErrInvalidOperation))
		})
	}
}

func TestQueries(t *testing.T) {
	s := newTestStore(t)
	register(t, s, Options{})
	put(t, s, sample)

	for _, tc := range []struct {
		query  string
		params []any
		want   []string
	}{
		{query: "", want: []string{"ann", "bob", "cid", "dan", "eve"}},
		// the driving column orders the result, ties by key
		{query: "WHERE age >= 30", want: []string{"ann", "dan", "bob", "cid"}},
		{query: "WHERE age > ? AND age <= ?", params: []any{20, 40}, want: []string{"ann", "dan", "bob"}},
		{query: "WHERE age == 30", want: []string{"ann", "dan"}},
		{query: "WHERE age = 30.5"},
		{query: "WHERE score < 3", want: []string{"ann", "bob"}},
		{query: "WHERE age != 30", want: []string{"bob", "cid", "eve"}},
		{query: "WHERE age <> 30 AND score > 3", want: []string{"cid", "eve"}},
		{query: "WHERE city = 'Berlin' OR age = 50", want: []string{"ann", "cid", "eve"}},
		{query: "WHERE (age = 30 OR age = 20) AND city = 'Berlin'", want: []string{"ann", "eve"}},
		{query: "WHERE name = 'O''Neil'", want: []string{"eve"}},
		{query: "where city in ('Rome', 'Paris') order by age desc", want: []string{"bob", "dan"}},
		{query: "WHERE city IN (?)", params: []any{[]string{"Paris", "Berlin"}}, want: []string{"ann", "eve", "bob"}},
		{query: "WHERE age IN (?, 50)", params: []any{[]int{20, 40}}, want: []string{"eve", "bob", "cid"}},
		// comparisons with NULL are false
		{query: "WHERE city != 'Berlin'", want: []string{"bob", "dan"}},
		{query: "WHERE city = ?", params: []any{nil}},
		{query: "ORDER BY city", want: []string{"cid", "ann", "eve", "bob", "dan"}},
		{query: "ORDER BY city DESC", want: []string{"dan", "bob", "eve", "ann", "cid"}},
		{query: "WHERE age >= 30 ORDER BY age DESC", want: []string{"cid", "bob", "dan", "ann"}},
		{query: "WHERE age >= 30 ORDER BY score DESC", want: []string{"dan", "cid", "bob", "ann"}},
		{query: "WHERE score > 1e0 AND score < 3.0", want: []string{"ann", "bob"}},
		{query: "WHERE age < -1"},
	} {
		t.Run(tc.query, func(t *testing.T) {
			require.Equal(t, tc.want, query(t, s, tc.query, tc.params...))
		})
	}
}

func TestQueryErrors(t *testing.T) {
	s := newTestStore(t)
	register(t, s, Options{})
	put(t, s, sample)

	for _, tc := range []struct {
		query  string
		params []any
		want   error
	}{
		{query: "WHERE height > 3", want: store.ErrInvalidQuery},
		{query: "WHERE age >", want: store.ErrInvalidQuery},
		{query: "WHERE age = 1 AND", want: store.ErrInvalidQuery},
		{query: "WHERE name = 'open", want: store.ErrInvalidQuery},
		{query: "WHERE (age = 1", want: store.ErrInvalidQuery},
		{query: "WHERE age IN ()", want: store.ErrInvalidQuery},
		{query: "WHERE age ! 3", want: store.ErrInvalidQuery},
		{query: "ORDER age", want: store.ErrInvalidQuery},
		{query: "ORDER BY height", want: store.ErrInvalidQuery},
		{query: "WHERE age = 1 LIMIT 3", want: store.ErrInvalidQuery},
		{query: "WHERE age = 'thirty'", want: store.ErrInvalidQuery},
		{query: "WHERE name = 3", want: store.ErrInvalidQuery},
		{query: "WHERE age = ?", params: []any{"thirty"}, want: store.ErrInvalidQuery},
		{query: "WHERE age IN (?)", params: []any{[]any{1, "two"}}, want: store.ErrInvalidQuery},
		{query: "WHERE age = ?", want: store.ErrParameterCountMismatch},
		{query: "WHERE age = ?", params: []any{1, 2}, want: store.ErrParameterCountMismatch},
		{query: "", params: []any{1}, want: store.ErrParameterCountMismatch},
	} {
		t.Run(tc.query, func(t *testing.T) {
			err := queryErr(t, s, tc.query, tc.params...)
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.Contains(t, err.Error(), "people")
		})
	}

	// the query text is part of the error
	require.Contains(t, queryErr(t, s, "WHERE height > 3").Error(), "WHERE height > 3")
}

func TestRowsAndIndexedValues(t *testing.T) {
	s := newTestStore(t)
	register(t, s, Options{})
	put(t, s, sample)

	require.NoError(t, s.Read(func(tx store.ReadTxn) error {
		r := Read(tx, "people")
		require.Len(t, r.Columns(), 4)

		rows, err := r.Rows(NewQuery("WHERE age = ?", 40))
		require.NoError(t, err)
		var names []any
		for row := range rows {
			names = append(names, row.Object.(map[string]any)["name"])
		}
		require.Equal(t, []any{"bob"}, names)

		values, err := r.IndexedValues("city", NewQuery("WHERE score < 4"))
		require.NoError(t, err)
		got := map[string]any{}
		for ck, v := range values {
			got[ck.Key] = v
		}
		require.Equal(t, map[string]any{"ann": "Berlin", "bob": "Paris", "cid": nil}, got)

		// sequences can be ranged over more than once and stopped early
		keys, err := r.Keys(NewQuery("ORDER BY age"))
		require.NoError(t, err)
		for range 2 {
			n := 0
			for range keys {
				n++
				if n == 2 {
					break
				}
			}
			require.Equal(t, 2, n)
		}

		_, err = r.IndexedValues("height", NewQuery(""))
		require.True(t, errors.Is(err, store.ErrInvalidQuery))
		return nil
	}))
}

func TestCountAndAggregate(t *testing.T) {
	s := newTestStore(t)
	register(t, s, Options{})
	put(t, s, sample)

	require.NoError(t, s.Read(func(tx store.ReadTxn) error {
		r := Read(tx, "people")
		all := NewQuery("")
		n, err := r.Count(all)
		require.NoError(t, err)
		require.Equal(t, 5, n)
		n, err = r.Count(NewQuery("WHERE age < 35"))
		require.NoError(t, err)
		require.Equal(t, 3, n)

		for _, tc := range []struct {
			fn     AggregateFunc
			column string
			q      Query
			want   any
		}{
			{fn: Count, column: "*", q: all, want: 5},
			{fn: Count, column: "city", q: all, want: 4},
			{fn: Sum, column: "age", q: all, want: int64(170)},
			{fn: Sum, column: "score", q: NewQuery("WHERE age = 30"), want: 6.0},
			{fn: Avg, column: "age", q: NewQuery("WHERE city = 'Berlin'"), want: 25.0},
			{fn: Min, column: "city", q: all, want: "Berlin"},
			{fn: Max, column: "age", q: all, want: int64(50)},
			{fn: Max, column: "score", q: NewQuery("WHERE age > 100"), want: nil},
			{fn: Sum, column: "age", q: NewQuery("WHERE age > 100"), want: nil},
		} {
			got, err := r.Aggregate(tc.fn, tc.column, tc.q)
			require.NoError(t, err, "%s(%s)", tc.fn, tc.column)
			require.Equal(t, tc.want, got, "%s(%s) %s", tc.fn, tc.column, tc.q)
		}

		_, err = r.Aggregate(Sum, "city", all)
		require.True(t, errors.Is(err, store.ErrInvalidQuery))
		_, err = r.Aggregate(Min, "height", all)
		require.True(t, errors.Is(err, store.ErrInvalidQuery))
		_, err = r.Aggregate(Count, "*", NewQuery("WHERE age = ?"))
		require.True(t, errors.Is(err, store.ErrParameterCountMismatch))
		return nil
	}))

	for _, s := range []string{"count", "SUM", "Avg", "min", "max"} {
		_, err := ParseAggregateFunc(s)
		require.NoError(t, err)
	}
	_, err := ParseAggregateFunc("median")
	require.Error(t, err)
}

func TestMaintenance(t *testing.T) {
	s := newTestStore(t)
	put(t, s, map[string]person{"ann": sample["ann"], "bob": sample["bob"]})
	// rows existing at registration are populated
	register(t, s, Options{})
	require.Equal(t, []string{"ann", "bob"}, query(t, s, "WHERE age > 0"))

	cs := write(t, s, func(tx store.WriteTxn) error {
		return tx.Set("people", "ann", person{name: "ann", age: 45}.doc(), nil)
	})
	n, ok := cs.Ext("people")
	require.True(t, ok)
	require.Equal(t, []store.CollectionKey{store.CK("people", "ann")}, n.(*Notification).Updated)
	require.Equal(t, []string{"bob", "ann"}, query(t, s, "WHERE age > 0"))
	require.Empty(t, query(t, s, "WHERE city = 'Berlin'"))

	// a document without any indexed value leaves the index
	cs = write(t, s, func(tx store.WriteTxn) error {
		return tx.Set("people", "bob", map[string]any{"nickname": "b"}, nil)
	})
	n, _ = cs.Ext("people")
	require.Equal(t, []store.CollectionKey{store.CK("people", "bob")}, n.(*Notification).Removed)
	require.Equal(t, []string{"ann"}, query(t, s, ""))

	cs = write(t, s, func(tx store.WriteTxn) error { return tx.Delete("people", "ann") })
	n, _ = cs.Ext("people")
	require.Equal(t, []store.CollectionKey{store.CK("people", "ann")}, n.(*Notification).Removed)
	require.Empty(t, query(t, s, ""))

	put(t, s, sample)
	write(t, s, func(tx store.WriteTxn) error { return tx.DeleteAllInCollection("people") })
	require.Empty(t, query(t, s, "ORDER BY name"))
}

func TestUsesAndCollections(t *testing.T) {
	s := newTestStore(t)
	register(t, s, Options{Uses: UsesObject, Collections: []string{"people"}})
	put(t, s, sample)

	cs := write(t, s, func(tx store.WriteTxn) error { return tx.SetMetadata("people", "ann", "vip") })
	_, ok := cs.Ext("people")
	require.False(t, ok)

	cs = write(t, s, func(tx store.WriteTxn) error {
		return tx.Set("robots", "r2", person{name: "r2", age: 40}.doc(), nil)
	})
	_, ok = cs.Ext("people")
	require.False(t, ok)
	require.Equal(t, []string{"bob"}, query(t, s, "WHERE age = 40"))
}

func TestWriteTransactionQueries(t *testing.T) {
	s := newTestStore(t)
	register(t, s, Options{})
	put(t, s, sample)

	write(t, s, func(tx store.WriteTxn) error {
		r := Read(tx, "people")
		require.NotNil(t, r)
		before, err := r.Keys(NewQuery("WHERE age > 45"))
		require.NoError(t, err)

		require.NoError(t, tx.Set("people", "zed", person{name: "zed", age: 99}.doc(), nil))
		require.NoError(t, tx.Flush())
		after, err := r.Keys(NewQuery("WHERE age > 45"))
		require.NoError(t, err)

		require.Equal(t, []store.CollectionKey{store.CK("people", "cid")}, slices.Collect(before))
		require.Equal(t, []store.CollectionKey{store.CK("people", "cid"), store.CK("people", "zed")}, slices.Collect(after))
		return nil
	})
}

func TestReadersKeepTheirSnapshot(t *testing.T) {
	s := newTestStore(t)
	register(t, s, Options{})
	put(t, s, sample)

	old := s.BeginRead()
	defer old.Close()
	write(t, s, func(tx store.WriteTxn) error { return tx.Delete("people", "cid") })

	keys, err := Read(old, "people").Keys(NewQuery("WHERE age = 50"))
	require.NoError(t, err)
	require.Equal(t, []store.CollectionKey{store.CK("people", "cid")}, slices.Collect(keys))
	require.Empty(t, query(t, s, "WHERE age = 50"))
}

// template is a query with a matching predicate over the model
type template func(rnd *rand.Rand) (q Query, match func(p person) bool)

var cities = []string{"", "Berlin", "Paris", "Rome"}

var templates = []template{
	func(rnd *rand.Rand) (Query, func(person) bool) {
		a := 18 + rnd.IntN(43)
		return NewQuery("WHERE age > ?", a), func(p person) bool { return p.age > a }
	},
	func(rnd *rand.Rand) (Query, func(person) bool) {
		a, c := 18+rnd.IntN(43), cities[1+rnd.IntN(3)]
		return NewQuery("WHERE age >= ? AND city = ?", a, c), func(p person) bool { return p.age >= a && p.city == c }
	},
	func(rnd *rand.Rand) (Query, func(person) bool) {
		cs, sc := []string{cities[1+rnd.IntN(3)], cities[1+rnd.IntN(3)]}, float64(rnd.IntN(100))
		return NewQuery("WHERE city IN (?) OR score < ?", cs, sc), func(p person) bool {
			return (p.city != "" && slices.Contains(cs, p.city)) || p.score < sc
		}
	},
	func(rnd *rand.Rand) (Query, func(person) bool) {
		lo, hi, n := 18+rnd.IntN(43), 18+rnd.IntN(43), fmt.Sprintf("n%d", rnd.IntN(4))
		return NewQuery("WHERE (age < ? OR age > ?) AND name != ?", lo, hi, n), func(p person) bool {
			return (p.age < lo || p.age > hi) && p.name != n
		}
	},
	func(rnd *rand.Rand) (Query, func(person) bool) {
		a := 18 + rnd.IntN(43)
		return NewQuery("WHERE age = ? ORDER BY score DESC", a), func(p person) bool { return p.age == a }
	},
	func(*rand.Rand) (Query, func(person) bool) {
		return NewQuery("ORDER BY city"), func(person) bool { return true }
	},
	func(rnd *rand.Rand) (Query, func(person) bool) {
		sc, a, b := float64(rnd.IntN(100)), 18+rnd.IntN(43), 18+rnd.IntN(43)
		return NewQuery("WHERE score <= ? AND age IN (?, ?) ORDER BY age DESC", sc, a, b), func(p person) bool {
			return p.score <= sc && (p.age == a || p.age == b)
		}
	},
	func(*rand.Rand) (Query, func(person) bool) {
		return NewQuery(""), func(person) bool { return true }
	},
	func(rnd *rand.Rand) (Query, func(person) bool) {
		n := fmt.Sprintf("n%d", rnd.IntN(4))
		return NewQuery("where name = '" + n + "' order by age asc"), func(p person) bool { return p.name == n }
	},
	func(rnd *rand.Rand) (Query, func(person) bool) {
		sc := float64(rnd.IntN(1000)) / 10
		return NewQuery("WHERE city <> 'Rome' AND score > ?", sc), func(p person) bool {
			return p.city != "" && p.city != "Rome" && p.score > sc
		}
	},
}

// column returns the indexed value of a person
func column(p person, name string) any {
	switch name {
	case "name":
		return p.name
	case "age":
		return int64(p.age)
	case "score":
		return p.score
	}
	if p.city == "" {
		return nil
	}
	return p.city
}

// expected evaluates a query by brute force. Without ORDER BY the result is
// compared as a set.
func expected(model map[string]person, q Query, match func(person) bool) []string {
	pq, err := parse(q.Text)
	if err != nil {
		panic(err)
	}
	var keys []string
	for k, p := range model {
		if match(p) {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b string) int {
		if pq.order != "" {
			if c := compareNullable(column(model[a], pq.order), column(model[b], pq.order)); c != 0 {
				return c
			}
		}
		return store.CK("people", a).Compare(store.CK("people", b))
	})
	if pq.order != "" && pq.desc {
		slices.Reverse(keys)
	}
	return keys
}

func TestRandomizedAgainstBruteForce(t *testing.T) {
	s := newTestStore(t)
	register(t, s, Options{})
	rnd := rand.New(rand.NewPCG(3, 5))
	model := map[string]person{}

	for round := 0; round < 200; round++ {
		write(t, s, func(tx store.WriteTxn) error {
			for range 1 + rnd.IntN(4) {
				k := fmt.Sprintf("k%02d", rnd.IntN(30))
				if rnd.IntN(4) == 0 {
					delete(model, k)
					if err := tx.Delete("people", k); err != nil {
						return err
					}
					continue
				}
				p := person{
					name:  fmt.Sprintf("n%d", rnd.IntN(4)),
					age:   18 + rnd.IntN(43),
					score: float64(rnd.IntN(1000)) / 10,
					city:  cities[rnd.IntN(len(cities))],
				}
				model[k] = p
				if err := tx.Set("people", k, p.doc(), nil); err != nil {
					return err
				}
			}
			return nil
		})
		if round%5 != 0 {
			continue
		}
		for i, tmpl := range templates {
			q, match := tmpl(rnd)
			want := expected(model, q, match)
			got := query(t, s, q.Text, q.Params...)
			pq, err := parse(q.Text)
			require.NoError(t, err)
			if pq.order == "" {
				slices.Sort(got)
			}
			require.Equal(t, want, got, "round %d template %d: %s %v", round, i, q, q.Params)
		}
	}
}
