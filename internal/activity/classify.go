package activity

import "strings"

// IsActiveTask reports whether node, or any descendant reachable through
// wrapper processes, is real foreground work.
//
// selfSignature excludes the prober's own invocation, which shows up as a
// transient child while a probe runs. An empty signature disables the check.
func IsActiveTask(node *ProcessNode, selfSignature string) bool {
	if node == nil {
		return false
	}
	if selfSignature != "" && strings.Contains(node.CommandLine(), selfSignature) {
		return false
	}

	switch node.Status {
	case StatusUnreachable:
		return false
	case StatusFaulted:
		// Could not tell what this is. Err toward "still running".
		return true
	}

	if len(node.Cmdline) == 0 {
		return false
	}
	if !IsWrapper(node.Cmdline) {
		return true
	}

	// A wrapper only counts through an active descendant. The chain can
	// nest: pixi shell -> bash -> make.
	for _, child := range node.Children {
		if IsActiveTask(child, selfSignature) {
			return true
		}
	}
	return false
}
