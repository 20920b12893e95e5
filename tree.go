// This package supports browsing the filesystem at the tree level.

package ntfs

import (
	"reflect"
	"strings"

	"github.com/dsoprea/go-logging"
)

// TreeNode is one resolved file or directory. Children are kept in the
// order the directory index yields them (entries in on-disk order within
// each block, blocks in runlist order) — the same order Readdir presents,
// so a listing and a readdir loop agree.
type TreeNode struct {
	name string

	inode *Inode
	fn    *FileNameAttr

	loaded bool

	children    []*TreeNode
	childrenMap map[string]*TreeNode
}

func newTreeNode(name string, inode *Inode, fn *FileNameAttr) (tn *TreeNode) {
	return &TreeNode{
		name:  name,
		inode: inode,
		fn:    fn,

		childrenMap: make(map[string]*TreeNode),
	}
}

func (tn *TreeNode) Name() string {
	return tn.name
}

// Inode returns the node's materialised inode.
func (tn *TreeNode) Inode() *Inode {
	return tn.inode
}

// FileNameAttr returns the index key the node was discovered through (nil
// on the root).
func (tn *TreeNode) FileNameAttr() *FileNameAttr {
	return tn.fn
}

func (tn *TreeNode) IsDirectory() bool {
	return tn.inode != nil && tn.inode.IsDirectory()
}

// Children returns the node's children in index order. Only populated
// once the containing directory has been loaded.
func (tn *TreeNode) Children() []*TreeNode {
	return tn.children
}

func (tn *TreeNode) GetChild(filename string) *TreeNode {
	return tn.childrenMap[filename]
}

func (tn *TreeNode) addChild(name string, inode *Inode, fn *FileNameAttr) *TreeNode {
	childNode := newTreeNode(name, inode, fn)

	tn.children = append(tn.children, childNode)
	tn.childrenMap[name] = childNode

	return childNode
}

// Tree browses the directory hierarchy, loading each directory's index
// lazily.
type Tree struct {
	nr       *NtfsReader
	rootNode *TreeNode
}

func NewTree(nr *NtfsReader) *Tree {
	return &Tree{
		nr:       nr,
		rootNode: newTreeNode("", nil, nil),
	}
}

// loadDirectory enumerates the node's index and attaches one child per
// keyed entry, in enumeration order.
func (tree *Tree) loadDirectory(node *TreeNode) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	cb := func(ie *IndexEntry) (doContinue bool, err error) {
		defer func() {
			if errRaw := recover(); errRaw != nil {
				err = log.Wrap(errRaw.(error))
			}
		}()

		if ie.FileName == nil || ie.FileName.FileNameType == FileNameTypeDos {
			return true, nil
		}

		name, err := tree.nr.cvtLongname(ie.NameUnits)
		if err != nil {
			// A name outside the active codepage; not reachable by path.
			return true, nil
		}

		childInode, err := tree.nr.indexInodeSetup(ie.MftNo())
		if err != nil {
			if log.Is(err, ErrNotFound) == true {
				return true, nil
			}

			log.Panic(err)
		}

		fn := *ie.FileName

		node.addChild(name, childInode, &fn)

		return true, nil
	}

	err = tree.nr.EnumerateIndexEntries(node.inode, cb)
	log.PanicIf(err)

	node.loaded = true

	return nil
}

func (tree *Tree) Load() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	rootInode, err := tree.nr.IgetRoot()
	log.PanicIf(err)

	tree.rootNode.inode = rootInode

	err = tree.loadDirectory(tree.rootNode)
	log.PanicIf(err)

	return nil
}

// Lookup descends the tree one component at a time, loading directories
// on first touch. A miss returns a nil node, not an error.
func (tree *Tree) Lookup(pathParts []string) (node *TreeNode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	node = tree.rootNode

	for _, part := range pathParts {
		if node.IsDirectory() != true {
			return nil, nil
		}

		if node.loaded != true {
			err := tree.loadDirectory(node)
			log.PanicIf(err)
		}

		node = node.childrenMap[part]
		if node == nil {
			return nil, nil
		}
	}

	return node, nil
}

type TreeVisitorFunc func(pathParts []string, node *TreeNode) (err error)

// Visit walks the whole tree depth-first, presenting each directory's
// children in index order — the readdir order of every directory, applied
// recursively.
func (tree *Tree) Visit(cb TreeVisitorFunc) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	err = tree.visit(make([]string, 0), tree.rootNode, cb)
	log.PanicIf(err)

	return nil
}

func (tree *Tree) visit(pathParts []string, node *TreeNode, cb TreeVisitorFunc) (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			err = log.Wrap(errRaw.(error))
		}
	}()

	err = cb(pathParts, node)
	log.PanicIf(err)

	if node.IsDirectory() != true {
		return nil
	}

	if node.loaded != true {
		err := tree.loadDirectory(node)
		log.PanicIf(err)
	}

	for _, childNode := range node.children {
		childPathParts := make([]string, len(pathParts)+1)
		copy(childPathParts, pathParts)
		childPathParts[len(childPathParts)-1] = childNode.name

		err := tree.visit(childPathParts, childNode, cb)
		log.PanicIf(err)
	}

	return nil
}

// List returns every path in the tree, forward-slash joined, in visit
// order.
func (tree *Tree) List() (files []string, nodes map[string]*TreeNode, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(err).Name(), err)
			}
		}
	}()

	files = make([]string, 0)
	nodes = make(map[string]*TreeNode)

	cb := func(pathParts []string, node *TreeNode) (err error) {
		if len(pathParts) == 0 {
			return nil
		}

		nodePath := strings.Join(pathParts, "/")

		files = append(files, nodePath)
		nodes[nodePath] = node

		return nil
	}

	err = tree.Visit(cb)
	log.PanicIf(err)

	return files, nodes, nil
}
