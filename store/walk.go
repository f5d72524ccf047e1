package store

import "errors"

// SkipGroup can be returned by a WalkFunc for a group to skip its members.
var SkipGroup = errors.New("skip this group")

// WalkFunc is called for each object during traversal.
// path is the full path to the object.
// obj is either *Group or *Dataset.
// Return nil to continue walking, SkipGroup to skip a group's members,
// or any other error to stop.
type WalkFunc func(path string, obj any) error

// Walk traverses all objects (groups and datasets) in the hierarchy starting from g,
// in creation order. The callback is called for each group and dataset,
// including the starting group.
//
// Example:
//
//	Walk(root, func(path string, obj any) error {
//	    switch o := obj.(type) {
//	    case *Group:
//	        fmt.Println("Group:", path)
//	    case *Dataset:
//	        fmt.Println("Dataset:", path, "len:", o.Len())
//	    }
//	    return nil
//	})
func Walk(g *Group, fn WalkFunc) error {
	if err := g.check(); err != nil {
		return err
	}
	err := walkNode(g.file, g.node, fn)
	if errors.Is(err, SkipGroup) {
		return nil
	}
	return err
}

func walkNode(f *File, n *node, fn WalkFunc) error {
	if !n.isGroup() {
		return fn(n.path(), &Dataset{file: f, node: n})
	}
	if err := fn(n.path(), &Group{file: f, node: n}); err != nil {
		return err
	}
	// Copy so the callback may unlink members.
	children := append([]*node(nil), n.children...)
	for _, c := range children {
		if c.removed {
			continue
		}
		err := walkNode(f, c, fn)
		if errors.Is(err, SkipGroup) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Datasets returns the paths of all datasets below g in walk order.
func Datasets(g *Group) ([]string, error) {
	var paths []string
	err := Walk(g, func(path string, obj any) error {
		if _, ok := obj.(*Dataset); ok {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
