package nn

import "strings"

// Node is one entry of a flattened module tree: the module, its stable
// dotted path, and the container slot holding it so the invocation can be
// replaced in place. The root module appears with an empty path and no
// parent.
type Node struct {
	Path   string
	Name   string
	Parent Container
	Module Module
}

// Walk flattens the tree below root in deterministic pre-order. Paths join
// slot names with dots; their order is the insertion order guaranteed to
// targeting and persistence.
func Walk(root Module) []Node {
	nodes := []Node{{Module: root}}
	walk(root, "", &nodes)
	return nodes
}

func walk(m Module, prefix string, nodes *[]Node) {
	c, ok := m.(Container)
	if !ok {
		return
	}
	for _, child := range c.Children() {
		path := child.Name
		if prefix != "" {
			path = prefix + "." + child.Name
		}
		*nodes = append(*nodes, Node{
			Path:   path,
			Name:   child.Name,
			Parent: c,
			Module: child.Module,
		})
		walk(child.Module, path, nodes)
	}
}

// ParamsByPath returns every parameter below root keyed by its dotted path
// ("block0.query.weight"), in tree order.
func ParamsByPath(root Module) []Param {
	var out []Param
	for _, n := range Walk(root) {
		p, ok := n.Module.(Parametric)
		if !ok {
			continue
		}
		for _, param := range p.Params() {
			name := param.Name
			if n.Path != "" {
				name = n.Path + "." + param.Name
			}
			out = append(out, Param{Name: name, Value: param.Value})
		}
	}
	return out
}

// HasSuffix reports whether path ends with the given dotted fragment on a
// segment boundary: "query" matches "block0.query" but not "subquery".
func HasSuffix(path, fragment string) bool {
	if path == fragment {
		return true
	}
	return strings.HasSuffix(path, "."+fragment)
}
