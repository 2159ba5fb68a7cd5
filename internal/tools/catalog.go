// Package tools defines the task and process procedures served over RPC.
//
// Each file registers its procedure factories at init time; Discover
// instantiates every registered factory against one set of dependencies.
package tools

import (
	"sort"
	"sync"

	"github.com/ShayCichocki/shepherd/internal/rpc"
	"github.com/ShayCichocki/shepherd/internal/supervisor"
	"github.com/ShayCichocki/shepherd/internal/taskstore"
)

// Deps are the components procedures operate on.
type Deps struct {
	Store      *taskstore.Store
	Supervisor *supervisor.Supervisor
}

// Factory builds one procedure bound to deps.
type Factory func(deps Deps) rpc.Procedure

var (
	catalogMu sync.Mutex
	catalog   = map[string]Factory{}
)

// Register adds a factory under name. It panics on a duplicate name since
// registration happens at init time.
func Register(name string, f Factory) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	if _, dup := catalog[name]; dup {
		panic("tools: duplicate registration of " + name)
	}
	catalog[name] = f
}

// Names returns the registered procedure names, sorted.
func Names() []string {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Discover instantiates every registered procedure, in name order.
func Discover(deps Deps) []rpc.Procedure {
	names := Names()
	catalogMu.Lock()
	defer catalogMu.Unlock()
	procs := make([]rpc.Procedure, 0, len(names))
	for _, name := range names {
		procs = append(procs, catalog[name](deps))
	}
	return procs
}

// NewRegistry discovers every procedure and builds the dispatch table.
func NewRegistry(deps Deps) (*rpc.Registry, error) {
	return rpc.NewRegistry(Discover(deps)...)
}
