// Package policy resolves which departments a role may read.
//
// An Engine is built once from a policy document and never mutated; it is safe for
// concurrent use without locking. Reloading produces a new Engine that is published
// through a Store.
package policy

import (
	"errors"
	"sort"
	"strings"

	"github.com/hyperjump/kakuri/internal/errs"
	"github.com/hyperjump/kakuri/pkg/utils"
)

// Access is the resolved set of departments for one role.
type Access struct {
	All         bool
	departments map[string]struct{}
}

// Contains reports whether dept is visible under this access set. Comparison is
// case-insensitive whole-value equality.
func (a Access) Contains(dept string) bool {
	if a.All {
		return true
	}
	_, ok := a.departments[utils.FoldKey(dept)]
	return ok
}

// Departments returns the explicit departments in sorted order. It is empty for the
// "all" sentinel.
func (a Access) Departments() []string {
	out := make([]string, 0, len(a.departments))
	for d := range a.departments {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (a Access) String() string {
	if a.All {
		return AllSentinel
	}
	return strings.Join(a.Departments(), ",")
}

// Engine answers access questions for a single policy version.
type Engine struct {
	version   string
	roles     map[string]Access
	defaults  Access
	unlabeled string
}

// Load reads, validates and compiles the policy file at path.
func Load(path string) (*Engine, error) {
	doc, version, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	e, err := New(doc, version)
	if err != nil {
		return nil, withSource(err, path)
	}
	return e, nil
}

// New compiles doc into an Engine. Inheritance is flattened here so lookups are a single
// map access. Cycles and references to undefined roles are configuration errors.
func New(doc *Document, version string) (*Engine, error) {
	if doc == nil {
		return nil, errs.Config("", "", "policy document is nil")
	}

	direct := make(map[string]DepartmentList, len(doc.DepartmentAccess))
	for role, list := range doc.DepartmentAccess {
		key := utils.FoldKey(role)
		if key == "" {
			return nil, errs.Config("", "department_access", "empty role name")
		}
		for _, d := range list.Departments {
			if utils.FoldKey(d) == AllSentinel {
				return nil, errs.Config("", "department_access", "role %q lists %q inside a department list; use it as the sole value", role, AllSentinel)
			}
		}
		if _, dup := direct[key]; dup {
			return nil, errs.Config("", "department_access", "role %q is defined more than once (role names are case-insensitive)", role)
		}
		direct[key] = list
	}

	parents := make(map[string][]string, len(doc.Hierarchy))
	for role, ps := range doc.Hierarchy {
		key := utils.FoldKey(role)
		if key == "" {
			return nil, errs.Config("", "hierarchy", "empty role name")
		}
		if _, dup := parents[key]; dup {
			return nil, errs.Config("", "hierarchy", "role %q is defined more than once (role names are case-insensitive)", role)
		}
		parents[key] = make([]string, 0, len(ps))
		for _, p := range ps {
			parents[key] = append(parents[key], utils.FoldKey(p))
		}
	}
	for role, ps := range parents {
		for _, p := range ps {
			if _, ok := direct[p]; ok {
				continue
			}
			if _, ok := parents[p]; ok {
				continue
			}
			return nil, errs.Config("", "hierarchy", "role %q inherits from undefined role %q", role, p)
		}
	}

	e := &Engine{
		version:   version,
		roles:     make(map[string]Access, len(direct)+len(parents)),
		unlabeled: utils.FoldKey(doc.UnlabeledDepartment),
	}
	if e.unlabeled == "" {
		e.unlabeled = defaultUnlabeledDepartment
	}

	defaults := doc.DefaultDepartments
	if len(defaults) == 0 {
		defaults = []string{defaultDepartment}
	}
	e.defaults = Access{departments: make(map[string]struct{}, len(defaults))}
	for _, d := range defaults {
		key := utils.FoldKey(d)
		if key == "" || key == AllSentinel {
			return nil, errs.Config("", "default_departments", "invalid default department %q", d)
		}
		e.defaults.departments[key] = struct{}{}
	}

	r := resolver{direct: direct, parents: parents, state: map[string]int{}, done: e.roles}
	for role := range direct {
		if _, err := r.resolve(role); err != nil {
			return nil, err
		}
	}
	for role := range parents {
		if _, err := r.resolve(role); err != nil {
			return nil, err
		}
	}
	return e, nil
}

const (
	unvisited = iota
	visiting
	visited
)

type resolver struct {
	direct  map[string]DepartmentList
	parents map[string][]string
	state   map[string]int
	done    map[string]Access
}

var errCycle = errors.New("inheritance cycle")

func (r *resolver) resolve(role string) (Access, error) {
	switch r.state[role] {
	case visited:
		return r.done[role], nil
	case visiting:
		return Access{}, errs.Config("", "hierarchy", "%w through role %q", errCycle, role)
	}
	r.state[role] = visiting

	acc := Access{departments: map[string]struct{}{}}
	if list, ok := r.direct[role]; ok {
		acc.All = list.All
		for _, d := range list.Departments {
			acc.departments[utils.FoldKey(d)] = struct{}{}
		}
	}
	for _, p := range r.parents[role] {
		inherited, err := r.resolve(p)
		if err != nil {
			return Access{}, err
		}
		acc.All = acc.All || inherited.All
		for d := range inherited.departments {
			acc.departments[d] = struct{}{}
		}
	}
	if acc.All {
		acc.departments = nil
	}

	r.state[role] = visited
	r.done[role] = acc
	return acc, nil
}

// Version identifies the policy document this engine was built from.
func (e *Engine) Version() string {
	if e == nil {
		return ""
	}
	return e.version
}

// UnlabeledDepartment is the department assumed for chunks without department metadata.
func (e *Engine) UnlabeledDepartment() string { return e.unlabeled }

// Known reports whether role is defined by the policy.
func (e *Engine) Known(role string) bool {
	_, ok := e.roles[utils.FoldKey(role)]
	return ok
}

// Resolve returns the access set for role and whether the role is defined. Unknown roles
// get the configured default departments, never the sentinel.
func (e *Engine) Resolve(role string) (Access, bool) {
	if acc, ok := e.roles[utils.FoldKey(role)]; ok {
		return acc, true
	}
	return e.defaults, false
}

// AllowedDepartments returns the access set for role.
func (e *Engine) AllowedDepartments(role string) Access {
	acc, _ := e.Resolve(role)
	return acc
}

// IsAllowed reports whether role may read department. An empty department is treated as
// the unlabeled department.
func (e *Engine) IsAllowed(role, department string) bool {
	if utils.FoldKey(department) == "" {
		department = e.unlabeled
	}
	return e.AllowedDepartments(role).Contains(department)
}

// Roles returns every defined role in sorted order.
func (e *Engine) Roles() []string {
	out := make([]string, 0, len(e.roles))
	for r := range e.roles {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Defaults returns the access set applied to unknown roles.
func (e *Engine) Defaults() Access { return e.defaults }

func withSource(err error, path string) error {
	var ce *errs.ConfigError
	if errors.As(err, &ce) && ce.Source == "" {
		ce.Source = path
	}
	return err
}
