package ordering

import "fmt"

// Kind distinguishes reordering containers from moving items between them.
type Kind string

const (
	KindContainer Kind = "container"
	KindItem      Kind = "item"
)

// Outcome classifies what a completed drag asked for.
type Outcome string

const (
	OutcomeCancelled Outcome = "cancelled"
	OutcomeNoOp      Outcome = "noop"
	OutcomeReorder   Outcome = "reorder"
	OutcomeMove      Outcome = "move"
)

// Request is the result of a drag gesture. An empty DestContainerID means the item was
// dropped outside any container.
type Request struct {
	ItemID            string `json:"itemId"`
	Kind              Kind   `json:"kind"`
	SourceContainerID string `json:"sourceContainerId"`
	SourceIndex       int    `json:"sourceIndex"`
	DestContainerID   string `json:"destContainerId,omitempty"`
	DestIndex         int    `json:"destIndex"`
}

// Classify decides how a request should be applied without looking at any container.
func Classify(req Request) Outcome {
	switch {
	case req.DestContainerID == "":
		return OutcomeCancelled
	case req.SourceContainerID == req.DestContainerID && req.SourceIndex == req.DestIndex:
		return OutcomeNoOp
	case req.SourceContainerID == req.DestContainerID:
		return OutcomeReorder
	default:
		return OutcomeMove
	}
}

// Lookup resolves a container id to its current contents.
type Lookup[T Rankable[T]] func(id string) (Container[T], bool)

// Result carries the containers touched by an applied request. Source and Dest are the
// same container for a reorder; both are empty for cancelled and no-op requests.
type Result[T Rankable[T]] struct {
	Outcome Outcome
	Item    T
	Source  Container[T]
	Dest    Container[T]
}

// Apply classifies req and runs the matching operation against the containers
// returned by lookup.
func Apply[T Movable[T]](req Request, lookup Lookup[T]) (Result[T], error) {
	res := Result[T]{Outcome: Classify(req)}
	if res.Outcome == OutcomeCancelled || res.Outcome == OutcomeNoOp {
		return res, nil
	}

	src, ok := lookup(req.SourceContainerID)
	if !ok {
		return res, fmt.Errorf("container %s: %w", req.SourceContainerID, ErrUnknownContainer)
	}
	if err := checkItem(src, req); err != nil {
		return res, err
	}
	res.Item = src.Items[req.SourceIndex]

	if res.Outcome == OutcomeReorder {
		out, err := Reorder(src, req.SourceIndex, req.DestIndex)
		if err != nil {
			return res, err
		}
		res.Source, res.Dest = out, out
		res.Item = out.Items[req.DestIndex]
		return res, nil
	}

	dst, ok := lookup(req.DestContainerID)
	if !ok {
		return res, fmt.Errorf("container %s: %w", req.DestContainerID, ErrUnknownContainer)
	}
	srcOut, dstOut, err := Move(src, dst, req.SourceIndex, req.DestIndex)
	if err != nil {
		return res, err
	}
	res.Source, res.Dest = srcOut, dstOut
	res.Item = dstOut.Items[req.DestIndex]
	return res, nil
}

// ApplyReorder is Apply for containers whose members never change parent, such as the
// lists of a board. Cross-container requests are rejected.
func ApplyReorder[T Rankable[T]](req Request, c Container[T]) (Result[T], error) {
	res := Result[T]{Outcome: Classify(req)}
	if res.Outcome == OutcomeCancelled || res.Outcome == OutcomeNoOp {
		return res, nil
	}
	if req.SourceContainerID != c.ID {
		return res, fmt.Errorf("container %s: %w", req.SourceContainerID, ErrUnknownContainer)
	}
	if res.Outcome == OutcomeMove {
		return res, fmt.Errorf("container %s: %w", req.DestContainerID, ErrUnknownContainer)
	}
	if err := checkItem(c, req); err != nil {
		return res, err
	}
	out, err := Reorder(c, req.SourceIndex, req.DestIndex)
	if err != nil {
		return res, err
	}
	res.Source, res.Dest = out, out
	res.Item = out.Items[req.DestIndex]
	return res, nil
}

func checkItem[T Rankable[T]](c Container[T], req Request) error {
	if req.SourceIndex < 0 || req.SourceIndex >= len(c.Items) {
		return fmt.Errorf("container %s: source %d of %d: %w", c.ID, req.SourceIndex, len(c.Items), ErrInvalidIndex)
	}
	if req.ItemID != "" && c.Items[req.SourceIndex].RankKey() != req.ItemID {
		return fmt.Errorf("item %s at %s[%d]: %w", req.ItemID, c.ID, req.SourceIndex, ErrUnknownItem)
	}
	return nil
}
