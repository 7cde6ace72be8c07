package ordering

import (
	"math/rand"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type card struct {
	id     string
	parent string
	order  int
}

func (c card) RankKey() string { return c.id }
func (c card) Rank() int       { return c.order }

func (c card) Ranked(order int) card {
	c.order = order
	return c
}

func (c card) Rehomed(parent string) card {
	c.parent = parent
	return c
}

func cards(parent string, ids ...string) Container[card] {
	items := make([]card, len(ids))
	for i, id := range ids {
		items[i] = card{id: id, parent: parent, order: i}
	}
	return NewContainer(parent, items)
}

func ids(c Container[card]) []string {
	out := make([]string, len(c.Items))
	for i, item := range c.Items {
		out[i] = item.id
	}
	return out
}

func TestReorder_MovesFirstToLast(t *testing.T) {
	in := cards("l1", "A", "B", "C")

	out, err := Reorder(in, 0, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C", "A"}, ids(out))
	assert.True(t, Dense(out.Items))
	assert.Equal(t, []string{"A", "B", "C"}, ids(in), "input must not be modified")
	assert.Equal(t, 0, in.Items[0].order)
}

func TestReorder_MovesLastToFirst(t *testing.T) {
	out, err := Reorder(cards("l1", "A", "B", "C", "D"), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"D", "A", "B", "C"}, ids(out))
	assert.True(t, Dense(out.Items))
}

func TestReorder_SameIndexIsUntouched(t *testing.T) {
	in := NewContainer("l1", []card{{id: "A", order: 4}, {id: "B", order: 9}})

	out, err := Reorder(in, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReorder_RejectsOutOfRange(t *testing.T) {
	in := cards("l1", "A", "B")

	tests := []struct {
		name     string
		src, dst int
	}{
		{"negative source", -1, 0},
		{"source past end", 2, 0},
		{"negative destination", 0, -1},
		{"destination past shortened end", 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Reorder(in, tt.src, tt.dst)
			assert.ErrorIs(t, err, ErrInvalidIndex)
			assert.Equal(t, in, out)
		})
	}
}

func TestReorder_EmptyContainer(t *testing.T) {
	_, err := Reorder(cards("l1"), 0, 0)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestMove_IntoEmptyContainer(t *testing.T) {
	src := cards("todo", "T1", "T2")
	dst := cards("done")

	srcOut, dstOut, err := Move(src, dst, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"T2"}, ids(srcOut))
	assert.Equal(t, []string{"T1"}, ids(dstOut))
	assert.Equal(t, 0, srcOut.Items[0].order)
	assert.Equal(t, 0, dstOut.Items[0].order)
	assert.Equal(t, "done", dstOut.Items[0].parent)
	assert.Equal(t, "todo", src.Items[0].parent, "input must not be modified")
}

func TestMove_IntoMiddleAndEnd(t *testing.T) {
	src := cards("a", "A1", "A2", "A3")
	dst := cards("b", "B1", "B2")

	_, mid, err := Move(src, dst, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"B1", "A2", "B2"}, ids(mid))
	assert.True(t, Dense(mid.Items))

	_, end, err := Move(src, dst, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"B1", "B2", "A3"}, ids(end))
}

func TestMove_Errors(t *testing.T) {
	src := cards("a", "A1")
	dst := cards("b", "B1")

	_, _, err := Move(src, src, 0, 0)
	assert.ErrorIs(t, err, ErrSameContainer)

	_, _, err = Move(src, dst, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, _, err = Move(src, dst, 0, 2)
	assert.ErrorIs(t, err, ErrInvalidIndex)

	s, d, err := Move(src, dst, 0, -1)
	assert.ErrorIs(t, err, ErrInvalidIndex)
	assert.Equal(t, src, s)
	assert.Equal(t, dst, d)
}

func TestAppend(t *testing.T) {
	out := Append(cards("l1", "X", "Y"), card{id: "Z", order: 42})
	assert.Equal(t, []string{"X", "Y", "Z"}, ids(out))
	assert.Equal(t, 2, out.Items[2].order)
	assert.True(t, Dense(out.Items))
}

func TestRemove(t *testing.T) {
	out, ok := Remove(cards("l1", "X", "Y", "Z"), "Y")
	require.True(t, ok)
	assert.Equal(t, []string{"X", "Z"}, ids(out))
	assert.Equal(t, 1, out.Items[1].order)

	in := cards("l1", "X")
	same, ok := Remove(in, "nope")
	assert.False(t, ok)
	assert.Equal(t, in, same)
}

// Runs random operations over a small board and checks the invariants after each step.
func TestOperations_PreserveInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	containers := map[string]Container[card]{
		"a": cards("a", "a0", "a1", "a2"),
		"b": cards("b", "b0"),
		"c": cards("c"),
	}
	names := []string{"a", "b", "c"}
	next := 0

	allIDs := func() []string {
		var out []string
		for _, c := range containers {
			out = append(out, ids(c)...)
		}
		sort.Strings(out)
		return out
	}

	for step := 0; step < 500; step++ {
		from := names[rng.Intn(len(names))]
		to := names[rng.Intn(len(names))]
		src := containers[from]

		switch op := rng.Intn(4); {
		case op == 0:
			next++
			containers[from] = Append(src, card{id: "n" + strconv.Itoa(next), parent: from})
		case op == 1 && src.Len() > 0:
			containers[from], _ = Remove(src, src.Items[rng.Intn(src.Len())].id)
		case op == 2 && src.Len() > 0:
			out, err := Reorder(src, rng.Intn(src.Len()), rng.Intn(src.Len()))
			require.NoError(t, err)
			containers[from] = out
		case op == 3 && src.Len() > 0 && from != to:
			before := allIDs()
			dst := containers[to]
			i := rng.Intn(src.Len())
			moved := src.Items[i].id
			s, d, err := Move(src, dst, i, rng.Intn(dst.Len()+1))
			require.NoError(t, err)
			containers[from], containers[to] = s, d

			require.Equal(t, src.Len()+dst.Len(), s.Len()+d.Len())
			require.Equal(t, before, allIDs())
			require.Equal(t, -1, s.IndexOf(moved))
			require.Equal(t, to, d.Items[d.IndexOf(moved)].parent)
		}

		for name, c := range containers {
			require.Truef(t, Dense(c.Items), "step %d: container %s not dense: %+v", step, name, c.Items)
		}
	}
}
