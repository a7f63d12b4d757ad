package supervisor

// Strategy is the node-level restart strategy, evaluated once per failure
// event. It is orthogonal to the per-child RestartPolicy.
type Strategy uint8

const (
	// OneForOne restarts only the failed child.
	OneForOne Strategy = iota

	// OneForAll stops and restarts every sibling, in original startup
	// order, when any one child fails.
	OneForAll

	// RestForOne stops and restarts the failed child and every sibling
	// started after it, preserving startup-order dependencies.
	RestForOne
)

// String returns the string representation of Strategy.
func (s Strategy) String() string {
	switch s {
	case OneForOne:
		return "one-for-one"
	case OneForAll:
		return "one-for-all"
	case RestForOne:
		return "rest-for-one"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case OneForOne, OneForAll, RestForOne:
		return true
	default:
		return false
	}
}

// affected returns the indexes of children (in declared start order) that a
// failure at failedIdx touches under this strategy, in restart order.
func (s Strategy) affected(count, failedIdx int) []int {
	switch s {
	case OneForAll:
		idx := make([]int, count)
		for i := range idx {
			idx[i] = i
		}
		return idx
	case RestForOne:
		idx := make([]int, 0, count-failedIdx)
		for i := failedIdx; i < count; i++ {
			idx = append(idx, i)
		}
		return idx
	default: // OneForOne
		return []int{failedIdx}
	}
}
