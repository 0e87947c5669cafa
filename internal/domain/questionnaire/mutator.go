package questionnaire

// FindResponseItem returns the first response item with linkID in a
// depth-first, pre-order walk of tree, or nil.
func FindResponseItem(tree []ResponseItem, linkID string) *ResponseItem {
	for i := range tree {
		if tree[i].LinkID == linkID {
			return &tree[i]
		}
		if found := FindResponseItem(tree[i].Item, linkID); found != nil {
			return found
		}
	}
	return nil
}

// UpdateAnswer returns a copy of tree with the answer of linkID replaced. A nil
// answer clears the node's answers but keeps the node. The input tree is not
// modified; only the nodes on the path to the change are copied.
//
// When no node matches and answer is non-nil a new top-level node is
// appended, even when the definition nests linkID inside a group. Later
// updates find that node through the recursive search.
func UpdateAnswer(tree []ResponseItem, linkID string, answer *Answer) []ResponseItem {
	if updated, ok := replaceAnswer(tree, linkID, answer); ok {
		return updated
	}
	if answer == nil {
		return tree
	}
	out := make([]ResponseItem, len(tree), len(tree)+1)
	copy(out, tree)
	return append(out, ResponseItem{LinkID: linkID, Answer: []Answer{*answer}})
}

// replaceAnswer checks the items of this level first, then descends into each
// item's children in order.
func replaceAnswer(items []ResponseItem, linkID string, answer *Answer) ([]ResponseItem, bool) {
	for i := range items {
		if items[i].LinkID != linkID {
			continue
		}
		out := cloneLevel(items)
		out[i].Answer = answerSlice(answer)
		return out, true
	}
	for i := range items {
		if len(items[i].Item) == 0 {
			continue
		}
		children, ok := replaceAnswer(items[i].Item, linkID, answer)
		if !ok {
			continue
		}
		out := cloneLevel(items)
		out[i].Item = children
		return out, true
	}
	return nil, false
}

func cloneLevel(items []ResponseItem) []ResponseItem {
	out := make([]ResponseItem, len(items))
	copy(out, items)
	return out
}

func answerSlice(answer *Answer) []Answer {
	if answer == nil {
		return nil
	}
	return []Answer{*answer}
}
