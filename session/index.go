package session

import "sort"

// adjacency maps a parent key to its set of child keys. A parent whose set
// becomes empty is removed, so len(a) is the number of live parents.
type adjacency map[string]map[string]struct{}

func (a adjacency) add(parent, child string) {
	set, ok := a[parent]
	if !ok {
		set = make(map[string]struct{})
		a[parent] = set
	}
	set[child] = struct{}{}
}

// remove unlinks child and reports whether parent was dropped as a result.
func (a adjacency) remove(parent, child string) bool {
	set, ok := a[parent]
	if !ok {
		return false
	}
	delete(set, child)
	if len(set) == 0 {
		delete(a, parent)
		return true
	}
	return false
}

func (a adjacency) members(parent string) []string {
	set := a[parent]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for child := range set {
		out = append(out, child)
	}
	sort.Strings(out)
	return out
}
