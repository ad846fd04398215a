// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package trie

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kraklabs/kidmon/pkg/progress"
)

// NodeID is a handle into a Trie's node arena. It replaces the owning
// parent/child pointers and the borrowed name pointer of a naive tree with
// a single integer per relationship, which is how this implementation
// avoids both of the reference cycles called out for the original design
// (child->parent back-pointers, and node->name views into a separate
// store): parent is just another NodeID, and name is just another Ref.
type NodeID int32

// NoNode is the zero value meaning "no parent" (used only by the root).
const NoNode NodeID = -1

type node struct {
	name     Ref
	parent   NodeID
	children map[Ref]NodeID
	depth    int
	size     int64
	sha      string // hex sha256, cached; empty until computed
	hashed   bool   // sha has been computed (possibly to "" only for dirs, never for leaves)
}

func (nd *node) isLeaf() bool {
	return len(nd.children) == 0
}

// Trie stores an observed file-system forest rooted at a single scan
// anchor. It owns every node's subtree; nodes never outlive the Trie.
type Trie struct {
	names *InternedNames
	nodes []node
	root  NodeID
}

// New returns an empty trie with a single (empty) root node.
func New() *Trie {
	t := &Trie{names: NewInternedNames()}
	t.root = t.newNode(Ref(-1), NoNode)
	return t
}

// Names returns the interned-segment store backing this trie.
func (t *Trie) Names() *InternedNames { return t.names }

// Root returns the id of the anchor node. The root is never considered a
// file, even when it happens to have no children (see EnumLeafs).
func (t *Trie) Root() NodeID { return t.root }

func (t *Trie) newNode(name Ref, parent NodeID) NodeID {
	id := NodeID(len(t.nodes))
	depth := 0
	if parent != NoNode {
		depth = t.nodes[parent].depth + 1
	}
	t.nodes = append(t.nodes, node{
		name:     name,
		parent:   parent,
		children: make(map[Ref]NodeID),
		depth:    depth,
	})
	return id
}

func splitPath(path string) []string {
	clean := filepath.Clean(path)
	parts := strings.Split(clean, string(filepath.Separator))
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AddFile inserts path into the trie, interning each segment at most once
// and creating any missing intermediate nodes. Re-adding the same path is
// a no-op and returns the existing leaf id. Complexity is O(depth).
func (t *Trie) AddFile(path string) NodeID {
	segs := splitPath(path)
	cur := t.root
	for _, seg := range segs {
		ref := t.names.Intern(seg)
		children := t.nodes[cur].children
		child, ok := children[ref]
		if !ok {
			child = t.newNode(ref, cur)
			t.nodes[cur].children[ref] = child
		}
		cur = child
	}
	return cur
}

// FullPath reconstructs the path for id by walking parent pointers and
// reversing. O(depth).
func (t *Trie) FullPath(id NodeID) string {
	var segs []string
	for cur := id; cur != t.root && cur != NoNode; cur = t.nodes[cur].parent {
		segs = append(segs, t.names.String(t.nodes[cur].name))
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return filepath.Join(segs...)
}

// Size returns the cached size of id: byte length for a leaf, sum of
// descendant leaf sizes for an internal node (valid after Update).
func (t *Trie) Size(id NodeID) int64 { return t.nodes[id].size }

// Depth returns id's depth (root is 0).
func (t *Trie) Depth(id NodeID) int { return t.nodes[id].depth }

// IsLeaf reports whether id is a file (no children). The root is never a
// leaf regardless of whether it currently has children — an empty trie
// must enumerate zero files, never the root itself.
func (t *Trie) IsLeaf(id NodeID) bool {
	return id != t.root && t.nodes[id].isLeaf()
}

// Parent returns id's parent, or NoNode for the root.
func (t *Trie) Parent(id NodeID) NodeID { return t.nodes[id].parent }

// enumChildrenStable returns id's children ordered so that internal
// (directory) children come before leaf (file) children at the same
// level — the ordering EnumNodes promises to keep tree dumps readable.
func (t *Trie) enumChildrenStable(id NodeID) []NodeID {
	children := t.nodes[id].children
	ids := make([]NodeID, 0, len(children))
	for _, c := range children {
		ids = append(ids, c)
	}
	sort.Slice(ids, func(i, j int) bool {
		li, lj := t.nodes[ids[i]].isLeaf(), t.nodes[ids[j]].isLeaf()
		if li != lj {
			return !li // internal (li==false) sorts first
		}
		return t.names.String(t.nodes[ids[i]].name) < t.names.String(t.nodes[ids[j]].name)
	})
	return ids
}

// EnumNodes visits every node depth-first starting at id, visiting
// internal children before leaf children at a given level. f returning
// false halts the walk.
func (t *Trie) EnumNodes(id NodeID, f func(NodeID) bool) bool {
	if !f(id) {
		return false
	}
	for _, c := range t.enumChildrenStable(id) {
		if !t.EnumNodes(c, f) {
			return false
		}
	}
	return true
}

// EnumLeafs visits every leaf (file) reachable from id, in the same
// stable order as EnumNodes. The root is never emitted, even if it
// happens to have no children.
func (t *Trie) EnumLeafs(id NodeID, f func(NodeID) bool) bool {
	return t.EnumNodes(id, func(n NodeID) bool {
		if n == t.root || !t.IsLeaf(n) {
			return true
		}
		return f(n)
	})
}

// LeafCount returns the number of files discovered so far via AddFile.
func (t *Trie) LeafCount() int {
	n := 0
	t.EnumLeafs(t.root, func(NodeID) bool { n++; return true })
	return n
}

// Update is the post-scan materialization pass: stat every leaf to set its
// size, clear cached hashes on interior nodes, then bubble sizes upward so
// that sum(leaf.size for leaf in subtree(n)) == n.size for every n.
// progress fires once per leaf.
func (t *Trie) Update(reporter progress.Reporter) error {
	if reporter == nil {
		reporter = progress.Noop
	}
	total := int64(t.LeafCount())
	var done int64
	var walkErr error
	t.EnumLeafs(t.root, func(id NodeID) bool {
		full := t.FullPath(id)
		info, err := os.Stat(full)
		if err != nil {
			walkErr = err
			return true // per-path errors are reported, not fatal; caller decides
		}
		t.nodes[id].size = info.Size()
		done++
		reporter.Report(done, total, progress.PhaseStat)
		return true
	})
	// Clear cached hashes on interior nodes (they are always derived) and
	// recompute sizes bottom-up. A second depth-first pass, processing
	// children before parents, keeps this O(nodes).
	var bubble func(id NodeID) int64
	bubble = func(id NodeID) int64 {
		nd := &t.nodes[id]
		if nd.isLeaf() && id != t.root {
			return nd.size
		}
		nd.sha = ""
		nd.hashed = false
		var sum int64
		for _, c := range nd.children {
			sum += bubble(c)
		}
		nd.size = sum
		return sum
	}
	bubble(t.root)
	return walkErr
}

// Reset clears every cached hash in the trie, forcing recomputation on
// next access.
func (t *Trie) Reset() {
	for i := range t.nodes {
		t.nodes[i].sha = ""
		t.nodes[i].hashed = false
	}
}

// ResetHash clears the cached hash for a single node.
func (t *Trie) ResetHash(id NodeID) {
	t.nodes[id].sha = ""
	t.nodes[id].hashed = false
}

const hashChunkSize = 4096

// Sha256 returns the cached hex sha256 digest of the leaf at id, computing
// it via a streaming chunked read on first access. Interior nodes never
// carry a canonical hash; calling Sha256 on one returns ("", nil).
func (t *Trie) Sha256(id NodeID) (string, error) {
	nd := &t.nodes[id]
	if !nd.isLeaf() {
		return "", nil
	}
	if nd.hashed {
		return nd.sha, nil
	}
	f, err := os.Open(t.FullPath(id))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return "", rerr
		}
	}
	nd.sha = hex.EncodeToString(h.Sum(nil))
	nd.hashed = true
	return nd.sha, nil
}
