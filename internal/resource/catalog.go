package resource

import (
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/t77yq/multisim/internal/components"
)

// Resolver turns resource ids into workloads
type Resolver interface {
	Resolve(id string) (*Workload, error)
}

// Suite is an ordered collection of workloads tagged with input groups
type Suite struct {
	ID        string
	Version   string
	ISA       components.ISA
	workloads []*Workload
}

// All yields the suite's workloads in catalog order
func (s *Suite) All() iter.Seq[*Workload] {
	return func(yield func(*Workload) bool) {
		for _, w := range s.workloads {
			if !yield(w) {
				return
			}
		}
	}
}

// Workloads returns a copy of the member list
func (s *Suite) Workloads() []*Workload {
	return append([]*Workload(nil), s.workloads...)
}

// InputGroups returns the sorted set of groups used by the members
func (s *Suite) InputGroups() []string {
	seen := make(map[string]struct{})
	for _, w := range s.workloads {
		for _, g := range w.Groups {
			seen[g] = struct{}{}
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// WithInputGroup returns a suite restricted to members of group
func (s *Suite) WithInputGroup(group string) *Suite {
	out := &Suite{ID: s.ID, Version: s.Version, ISA: s.ISA}
	for _, w := range s.workloads {
		if w.InGroup(group) {
			out.workloads = append(out.workloads, w)
		}
	}
	return out
}

// Catalog is an in-memory resource database. Lookups are safe for
// concurrent use and return shared read-only values.
type Catalog struct {
	mu        sync.RWMutex
	resources map[string]Resource
	workloads map[string]*Workload
	suites    map[string]*Suite
}

// NewCatalog returns a catalog holding the built-in resources
func NewCatalog() *Catalog {
	c := &Catalog{
		resources: make(map[string]Resource),
		workloads: make(map[string]*Workload),
		suites:    make(map[string]*Suite),
	}
	registerBuiltins(c)
	return c
}

// AddWorkload registers or replaces a workload
func (c *Catalog) AddWorkload(w *Workload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workloads[w.ID] = w
	c.resources[w.ID] = Resource{ID: w.ID, Version: w.Version, Category: w.Category, ISA: w.RequiredISA}
}

// AddSuite registers a suite and all of its members
func (c *Catalog) AddSuite(s *Suite) {
	for _, w := range s.workloads {
		c.AddWorkload(w)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suites[s.ID] = s
	c.resources[s.ID] = Resource{ID: s.ID, Version: s.Version, Category: CategorySuite, ISA: s.ISA}
}

func (c *Catalog) addResource(r Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[r.ID] = r
}

// Resource returns the catalog entry for id
func (c *Catalog) Resource(id string) (Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.resources[id]
	if !ok {
		return Resource{}, &NotFoundError{ID: id}
	}
	return r, nil
}

// Resolve returns the runnable workload registered under id
func (c *Catalog) Resolve(id string) (*Workload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if w, ok := c.workloads[id]; ok {
		return w, nil
	}
	if r, ok := c.resources[id]; ok {
		return nil, fmt.Errorf("%w: %s is a %s, not a workload", ErrWrongCategory, id, r.Category)
	}
	return nil, &NotFoundError{ID: id}
}

// Suite returns the suite registered under id
func (c *Catalog) Suite(id string) (*Suite, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.suites[id]; ok {
		return s, nil
	}
	if r, ok := c.resources[id]; ok {
		return nil, fmt.Errorf("%w: %s is a %s, not a suite", ErrWrongCategory, id, r.Category)
	}
	return nil, &NotFoundError{ID: id}
}

// KernelDisk builds a full-system workload that boots kernelID from diskID
// and then runs the readfile script.
func (c *Catalog) KernelDisk(kernelID, diskID, readfile string) (*Workload, error) {
	kernel, err := c.expect(kernelID, CategoryKernel)
	if err != nil {
		return nil, err
	}
	disk, err := c.expect(diskID, CategoryDiskImage)
	if err != nil {
		return nil, err
	}
	if kernel.ISA != disk.ISA {
		return nil, fmt.Errorf("kernel %s is %s but disk %s is %s", kernelID, kernel.ISA, diskID, disk.ISA)
	}

	script, err := ParseCommand(readfile)
	if err != nil {
		return nil, err
	}

	return &Workload{
		ID:          kernelID + "+" + diskID,
		Version:     kernel.Version,
		Category:    CategoryWorkload,
		RequiredISA: kernel.ISA,
		Phases:      append([]Phase{bootPhase()}, script...),
		Command:     readfile,
		FullSystem:  true,
	}, nil
}

func (c *Catalog) expect(id string, cat Category) (Resource, error) {
	r, err := c.Resource(id)
	if err != nil {
		return Resource{}, err
	}
	if r.Category != cat {
		return Resource{}, fmt.Errorf("%w: %s is a %s, not a %s", ErrWrongCategory, id, r.Category, cat)
	}
	return r, nil
}

// Resources lists every entry sorted by id
func (c *Catalog) Resources() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Resource, 0, len(c.resources))
	for _, r := range c.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type benchmark struct {
	name       string
	group      string
	setup      uint64
	roi        uint64
	teardown   uint64
	memRatio   float64
	workingSet int64
}

var gettingStarted = []benchmark{
	{name: "npb-is-size-s-run", group: "npb", setup: 1_000_000, roi: 6_000_000, teardown: 200_000, memRatio: 0.40, workingSet: 8 << 20},
	{name: "npb-cg-size-s-run", group: "npb", setup: 1_500_000, roi: 9_000_000, teardown: 200_000, memRatio: 0.35, workingSet: 4 << 20},
	{name: "npb-ep-size-s-run", group: "npb", setup: 500_000, roi: 12_000_000, teardown: 100_000, memRatio: 0.10, workingSet: 256 << 10},
	{name: "gapbs-bfs-run", group: "gapbs", setup: 3_000_000, roi: 5_000_000, teardown: 300_000, memRatio: 0.45, workingSet: 16 << 20},
	{name: "gapbs-tc-run", group: "gapbs", setup: 3_000_000, roi: 10_000_000, teardown: 300_000, memRatio: 0.30, workingSet: 16 << 20},
	{name: "matrix-multiply-run", group: "matrix", setup: 2_000_000, roi: 20_000_000, teardown: 500_000, memRatio: 0.35, workingSet: 3 << 20},
}

func registerBuiltins(c *Catalog) {
	for _, isa := range components.AllISAs {
		suite := &Suite{
			ID:      fmt.Sprintf("%s-getting-started-benchmark-suite", isa),
			Version: "1.0.0",
			ISA:     isa,
		}
		for _, b := range gettingStarted {
			suite.workloads = append(suite.workloads, &Workload{
				ID:          fmt.Sprintf("%s-%s", isa, b.name),
				Version:     "1.0.0",
				Category:    CategoryWorkload,
				RequiredISA: isa,
				Groups:      []string{b.group},
				Phases:      roiPhases(b.setup, b.roi, b.teardown, b.memRatio, b.workingSet),
			})
		}
		if isa == components.ISAARM {
			// no arm suite, only its members
			for _, w := range suite.workloads {
				c.AddWorkload(w)
			}
			continue
		}
		c.AddSuite(suite)
	}

	c.AddWorkload(&Workload{
		ID:          "x86-matrix-multiply-roi",
		Version:     "1.0.0",
		Category:    CategoryWorkload,
		RequiredISA: components.ISAX86,
		Groups:      []string{"matrix"},
		Phases:      roiPhases(2_000_000, 20_000_000, 500_000, 0.35, 3<<20),
	})
	c.AddWorkload(&Workload{
		ID:          "x86-hello64-static",
		Version:     "1.0.0",
		Category:    CategoryBinary,
		RequiredISA: components.ISAX86,
		Phases:      []Phase{{Name: "main", Instructions: 12_000, MemRatio: 0.3, WorkingSet: 16 << 10}},
	})

	c.addResource(Resource{
		ID:          "x86-linux-kernel-5.4.0-105-generic",
		Version:     "1.0.0",
		Category:    CategoryKernel,
		ISA:         components.ISAX86,
		Description: "Linux 5.4.0-105 generic kernel",
	})
	c.addResource(Resource{
		ID:          "x86-ubuntu-22.04-img",
		Version:     "1.0.0",
		Category:    CategoryDiskImage,
		ISA:         components.ISAX86,
		Description: "Ubuntu 22.04 disk image with m5 utilities",
	})
	c.addResource(Resource{
		ID:          "arm64-linux-kernel-5.15.36",
		Version:     "1.0.0",
		Category:    CategoryKernel,
		ISA:         components.ISAARM,
		Description: "Linux 5.15.36 arm64 kernel",
	})
	c.addResource(Resource{
		ID:          "arm64-ubuntu-22.04-img",
		Version:     "1.0.0",
		Category:    CategoryDiskImage,
		ISA:         components.ISAARM,
		Description: "Ubuntu 22.04 arm64 disk image",
	})
}
