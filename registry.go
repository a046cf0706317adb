package pathwatch

import (
	"fmt"
	"os"
	"strings"
)

// The registry is a trie keyed on the path segments of each subscription's
// canonical directory. A node either just routes (interior) or owns a native
// watcher (leaf). A leaf serves the subscriptions rooted exactly at its path
// (counted in refs) plus any subscriptions it absorbed on behalf of
// descendant directories (counted per relative path in childPaths).
//
// The registry decides, per attach, whether to reuse an existing watcher,
// consolidate several watchers under a common ancestor, or create a fresh
// one; and per detach, whether to split or narrow a shared watcher. All of it
// runs on the session's dispatch goroutine.
type registry struct {
	session *Session
	root    *regNode
}

type regNode struct {
	parent   *regNode
	name     string
	children map[string]*regNode
	leaf     *regLeaf
}

type regLeaf struct {
	native     *nativeWatcher
	refs       int
	childPaths map[string]int // relative directory → subscription count
}

func newRegistry(s *Session) *registry {
	return &registry{session: s, root: &regNode{children: make(map[string]*regNode)}}
}

func (r *registry) reset() {
	r.root = &regNode{children: make(map[string]*regNode)}
}

func (r *registry) cfg() Config { return r.session.cfg }

// attach finds or creates the native watcher serving sub and binds sub to it.
// On any backend failure the registry is left exactly as it was found.
func (r *registry) attach(sub *Subscription) error {
	segs := splitSegments(sub.registryPath)

	// Walk as deep as the trie goes, remembering the deepest leaf at or
	// above the subscription's directory.
	node := r.root
	depth := 0
	leafNode, leafDepth := (*regNode)(nil), 0
	if node.leaf != nil {
		leafNode, leafDepth = node, 0
	}
	for _, seg := range segs {
		child := node.children[seg]
		if child == nil {
			break
		}
		node, depth = child, depth+1
		if node.leaf != nil {
			leafNode, leafDepth = node, depth
		}
	}
	exact := depth == len(segs)

	if leafNode != nil {
		if exact && leafNode == node {
			// A watcher exists for this very directory; share it
			// unconditionally, there can only be one per directory.
			return r.attachExisting(sub, leafNode.leaf, func(l *regLeaf) { l.refs++ }, func(l *regLeaf) { l.refs-- })
		}
		if r.cfg().ReuseAncestorWatchers {
			rel := strings.Join(segs[leafDepth:], string(sep))
			return r.attachExisting(sub, leafNode.leaf,
				func(l *regLeaf) { l.childPaths[rel]++ },
				func(l *regLeaf) {
					if l.childPaths[rel]--; l.childPaths[rel] <= 0 {
						delete(l.childPaths, rel)
					}
				})
		}
		// Reuse disabled: fall through to a standalone watcher below the
		// existing one.
		return r.createLeaf(sub, segs)
	}

	if exact {
		// Subscribing above existing watchers: replace them with one
		// watcher here, if allowed.
		if r.cfg().RelocateDescendantWatchers && len(r.leavesBelow(node)) > 0 {
			return r.consolidate(node, sub.registryPath, sub, true)
		}
		return r.createLeaf(sub, segs)
	}

	// The path diverges at `node`. If other watchers live below this common
	// ancestor and the subscription is close enough to it, consolidate
	// everything under the ancestor.
	if r.cfg().MergeWatchersWithCommonAncestors && node != r.root && len(r.leavesBelow(node)) > 0 {
		dist := len(splitSegments(sub.targetPath)) - depth
		if limit := r.cfg().MaxCommonAncestorLevel; limit <= 0 || dist <= limit {
			return r.consolidate(node, r.nodePath(node), sub, false)
		}
	}

	return r.createLeaf(sub, segs)
}

// attachExisting binds sub to an existing leaf's native watcher, recording it
// with record and undoing the record if the watcher cannot start.
func (r *registry) attachExisting(sub *Subscription, leaf *regLeaf, record, undo func(*regLeaf)) error {
	record(leaf)
	if err := sub.attachTo(leaf.native); err != nil {
		undo(leaf)
		return err
	}
	return nil
}

// createLeaf makes a standalone watcher on the subscription's own directory.
func (r *registry) createLeaf(sub *Subscription, segs []string) error {
	node := r.ensurePath(segs)
	if node.leaf != nil {
		// Only reachable when reuse is disabled and a leaf sits higher up;
		// the directory itself can still have at most one watcher.
		return r.attachExisting(sub, node.leaf, func(l *regLeaf) { l.refs++ }, func(l *regLeaf) { l.refs-- })
	}
	native := newNativeWatcher(r.session, sub.registryPath)
	if err := sub.attachTo(native); err != nil {
		r.prune(node)
		return err
	}
	node.leaf = &regLeaf{native: native, refs: 1, childPaths: make(map[string]int)}
	if debug {
		fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: registry leaf %q\n", sub.registryPath)
	}
	return nil
}

// consolidate replaces every leaf below ancestor with a single leaf on
// ancestor itself, migrating all of their subscribers onto one new native
// watcher. The new watcher is started (by attaching sub) before any existing
// watcher stops, so subscribers never lose coverage. ownsAncestor says
// whether sub's directory is the ancestor itself rather than a descendant.
func (r *registry) consolidate(ancestor *regNode, ancestorPath string, sub *Subscription, ownsAncestor bool) error {
	absorbed := r.leavesBelow(ancestor)

	native := newNativeWatcher(r.session, ancestorPath)
	if err := sub.attachTo(native); err != nil {
		// Nothing was recorded yet; the absorbed leaves stay as they are.
		return err
	}

	leaf := &regLeaf{native: native, childPaths: make(map[string]int)}
	if ownsAncestor {
		leaf.refs = 1
	} else {
		leaf.childPaths[r.relTo(ancestorPath, sub.registryPath)] = 1
	}
	for _, a := range absorbed {
		rel := r.relTo(ancestorPath, a.path)
		if a.leaf.refs > 0 {
			leaf.childPaths[rel] += a.leaf.refs
		}
		for childRel, count := range a.leaf.childPaths {
			leaf.childPaths[rel+string(sep)+childRel] += count
		}
	}
	ancestor.leaf = leaf
	if debug {
		fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: registry consolidate %d leaves under %q\n",
			len(absorbed), ancestorPath)
	}

	// Detach the absorbed leaves from the trie, then offer their
	// subscribers the replacement; each one re-attaches before letting go
	// of its old native, which stops once its last subscriber hops off.
	for _, a := range absorbed {
		a.node.leaf = nil
		r.prune(a.node)
	}
	for _, a := range absorbed {
		a.leaf.native.shouldDetach(native)
	}
	return nil
}

// detach removes one subscription from the registry, splitting or narrowing
// its leaf when it was the last subscription holding the leaf in place.
func (r *registry) detach(sub *Subscription) {
	if sub.native == nil {
		return
	}
	// Walk by the attach-time key: normalizedPath may have followed the
	// target deeper into the tree since, but the leaf bookkeeping was
	// recorded under the original directory.
	segs := splitSegments(sub.registryPath)

	// Find the leaf actually serving this subscription: the deepest node at
	// or above its directory owning the subscription's native watcher.
	node := r.root
	leafNode, leafDepth := (*regNode)(nil), 0
	if node.leaf != nil && node.leaf.native == sub.native {
		leafNode, leafDepth = node, 0
	}
	for depth, seg := range segs {
		node = node.children[seg]
		if node == nil {
			break
		}
		if node.leaf != nil && node.leaf.native == sub.native {
			leafNode, leafDepth = node, depth+1
		}
	}
	if leafNode == nil {
		return
	}
	leaf := leafNode.leaf

	if leafDepth == len(segs) {
		// The subscription sat directly on the leaf.
		if leaf.refs--; leaf.refs > 0 {
			return
		}
		if len(leaf.childPaths) > 0 {
			r.splitLeaf(leafNode)
			return
		}
		r.removeLeaf(leafNode)
		return
	}

	// The subscription was one of the child paths absorbed by an ancestor
	// leaf.
	rel := strings.Join(segs[leafDepth:], string(sep))
	if leaf.childPaths[rel]--; leaf.childPaths[rel] <= 0 {
		delete(leaf.childPaths, rel)
	}
	if leaf.refs > 0 {
		return
	}
	switch {
	case len(leaf.childPaths) == 0:
		r.removeLeaf(leafNode)
	case len(leaf.childPaths) == 1 && r.cfg().RelocateAncestorWatchers:
		// One descendant left and nobody watching the ancestor itself:
		// narrow the watcher down to the survivor.
		r.splitLeaf(leafNode)
	}
}

// splitLeaf converts a leaf back into an interior node, rehoming every
// absorbed child path as a new, tighter leaf on its own directory. The old
// native watcher keeps running until the last migrated subscriber has hopped
// onto its replacement.
func (r *registry) splitLeaf(node *regNode) {
	leaf := node.leaf
	node.leaf = nil
	base := r.nodePath(node)

	replacements := make(map[string]*nativeWatcher, len(leaf.childPaths))
	for rel, count := range leaf.childPaths {
		path := withTrailingSep(base) + rel
		child := r.ensurePath(splitSegments(path))
		native := newNativeWatcher(r.session, path)
		child.leaf = &regLeaf{native: native, refs: count, childPaths: make(map[string]int)}
		replacements[path] = native
	}
	if debug {
		fmt.Fprintf(os.Stderr, "PATHWATCH_DEBUG: registry split %q into %d leaves\n",
			base, len(replacements))
	}

	// Each subscriber is offered exactly the leaf rehomed on its own
	// directory; one child path may be an ancestor of another, so a blanket
	// broadcast could land a subscriber on the wrong replacement.
	for _, sub := range leaf.native.snapshot() {
		if replacement, ok := replacements[sub.registryPath]; ok {
			sub.handleShouldDetach(replacement)
		}
	}
	r.prune(node)
}

func (r *registry) removeLeaf(node *regNode) {
	node.leaf = nil
	r.prune(node)
}

// prune removes empty interior nodes bottom-up.
func (r *registry) prune(node *regNode) {
	for node != nil && node != r.root && node.leaf == nil && len(node.children) == 0 {
		parent := node.parent
		delete(parent.children, node.name)
		node = parent
	}
}

func (r *registry) ensurePath(segs []string) *regNode {
	node := r.root
	for _, seg := range segs {
		child := node.children[seg]
		if child == nil {
			child = &regNode{parent: node, name: seg, children: make(map[string]*regNode)}
			node.children[seg] = child
		}
		node = child
	}
	return node
}

func (r *registry) nodePath(node *regNode) string {
	var segs []string
	for n := node; n != nil && n.parent != nil; n = n.parent {
		segs = append(segs, n.name)
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return joinSegments(segs)
}

func (r *registry) relTo(ancestorPath, path string) string {
	return strings.TrimPrefix(path, withTrailingSep(ancestorPath))
}

type absorbedLeaf struct {
	node *regNode
	leaf *regLeaf
	path string
}

// leavesBelow collects every leaf strictly below node.
func (r *registry) leavesBelow(node *regNode) []absorbedLeaf {
	var out []absorbedLeaf
	var walk func(n *regNode)
	walk = func(n *regNode) {
		if n != node && n.leaf != nil {
			out = append(out, absorbedLeaf{node: n, leaf: n.leaf, path: r.nodePath(n)})
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(node)
	return out
}

// leafCount reports the number of leaves in the registry; it always equals
// the number of distinct directories watched at the OS level.
func (r *registry) leafCount() int {
	var count int
	var walk func(n *regNode)
	walk = func(n *regNode) {
		if n.leaf != nil {
			count++
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(r.root)
	return count
}
