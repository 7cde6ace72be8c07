package ordering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupOf(cs ...Container[card]) Lookup[card] {
	byID := make(map[string]Container[card], len(cs))
	for _, c := range cs {
		byID[c.ID] = c
	}
	return func(id string) (Container[card], bool) {
		c, ok := byID[id]
		return c, ok
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want Outcome
	}{
		{"no destination", Request{SourceContainerID: "a", SourceIndex: 1}, OutcomeCancelled},
		{"same spot", Request{SourceContainerID: "a", SourceIndex: 1, DestContainerID: "a", DestIndex: 1}, OutcomeNoOp},
		{"same container", Request{SourceContainerID: "a", SourceIndex: 1, DestContainerID: "a", DestIndex: 0}, OutcomeReorder},
		{"other container same index", Request{SourceContainerID: "a", SourceIndex: 1, DestContainerID: "b", DestIndex: 1}, OutcomeMove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.req))
		})
	}
}

func TestApply_CancelledNeverLooksUpContainers(t *testing.T) {
	lookup := func(string) (Container[card], bool) {
		t.Fatal("lookup must not be called for a cancelled drag")
		return Container[card]{}, false
	}

	res, err := Apply(Request{Kind: KindItem, SourceContainerID: "a", SourceIndex: 0}, lookup)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Empty(t, res.Source.Items)
	assert.Empty(t, res.Dest.Items)
}

func TestApply_NoOp(t *testing.T) {
	res, err := Apply(Request{SourceContainerID: "a", DestContainerID: "a", SourceIndex: 2, DestIndex: 2}, lookupOf())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, res.Outcome)
}

func TestApply_Reorder(t *testing.T) {
	req := Request{ItemID: "A", Kind: KindItem, SourceContainerID: "a", SourceIndex: 0, DestContainerID: "a", DestIndex: 2}

	res, err := Apply(req, lookupOf(cards("a", "A", "B", "C")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReorder, res.Outcome)
	assert.Equal(t, []string{"B", "C", "A"}, ids(res.Source))
	assert.Equal(t, "A", res.Item.id)
	assert.Equal(t, 2, res.Item.order)
}

func TestApply_Move(t *testing.T) {
	req := Request{ItemID: "T1", Kind: KindItem, SourceContainerID: "todo", SourceIndex: 0, DestContainerID: "done", DestIndex: 0}

	res, err := Apply(req, lookupOf(cards("todo", "T1", "T2"), cards("done")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMove, res.Outcome)
	assert.Equal(t, []string{"T2"}, ids(res.Source))
	assert.Equal(t, []string{"T1"}, ids(res.Dest))
	assert.Equal(t, "done", res.Item.parent)
}

func TestApply_Errors(t *testing.T) {
	lookup := lookupOf(cards("a", "A", "B"), cards("b"))

	_, err := Apply(Request{SourceContainerID: "x", DestContainerID: "a", DestIndex: 1}, lookup)
	assert.ErrorIs(t, err, ErrUnknownContainer)

	_, err = Apply(Request{SourceContainerID: "a", DestContainerID: "x"}, lookup)
	assert.ErrorIs(t, err, ErrUnknownContainer)

	_, err = Apply(Request{ItemID: "B", SourceContainerID: "a", SourceIndex: 0, DestContainerID: "b"}, lookup)
	assert.ErrorIs(t, err, ErrUnknownItem)

	_, err = Apply(Request{SourceContainerID: "a", SourceIndex: 5, DestContainerID: "b"}, lookup)
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = Apply(Request{SourceContainerID: "a", SourceIndex: 0, DestContainerID: "a", DestIndex: 2}, lookup)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestApplyReorder(t *testing.T) {
	board := cards("board-1", "todo", "doing", "done")

	res, err := ApplyReorder(Request{ItemID: "done", Kind: KindContainer, SourceContainerID: "board-1", SourceIndex: 2, DestContainerID: "board-1", DestIndex: 0}, board)
	require.NoError(t, err)
	assert.Equal(t, []string{"done", "todo", "doing"}, ids(res.Source))

	_, err = ApplyReorder(Request{Kind: KindContainer, SourceContainerID: "board-1", DestContainerID: "board-2"}, board)
	assert.ErrorIs(t, err, ErrUnknownContainer)

	_, err = ApplyReorder(Request{Kind: KindContainer, SourceContainerID: "board-2", DestContainerID: "board-2", DestIndex: 1}, board)
	assert.ErrorIs(t, err, ErrUnknownContainer)

	res, err = ApplyReorder(Request{Kind: KindContainer, SourceContainerID: "board-1"}, board)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}
