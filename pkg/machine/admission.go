package machine

import (
	"context"
	"sort"
)

// Import is a function a module imports.
type Import struct {
	Module string `json:"module"`
	Name   string `json:"name"`
}

// Memory describes a memory a module exports.
type Memory struct {
	Name   string `json:"name"`
	Min    uint32 `json:"min"`
	Max    uint32 `json:"max,omitempty"`
	HasMax bool   `json:"has_max"`
}

// Limits are the machine limits an invocation runs under.
type Limits struct {
	MemoryPages uint32 `json:"memory_pages"`
	MaxBlocks   int    `json:"max_blocks"`
}

// ModuleInfo is what an Admitter sees of a module before it is instantiated.
type ModuleInfo struct {
	Name     string   `json:"name"`
	Entry    string   `json:"entry"`
	Imports  []Import `json:"imports"`
	Exports  []string `json:"exports"`
	Memories []Memory `json:"memories"`
	Limits   Limits   `json:"limits"`
}

// Admitter decides whether a module may be invoked. A non-nil error rejects
// the invocation before the module is instantiated.
type Admitter interface {
	Admit(ctx context.Context, info ModuleInfo) error
}

// Info describes the module for admission.
func (m *Module) Info() ModuleInfo {
	info := ModuleInfo{
		Name:     m.name,
		Imports:  []Import{},
		Exports:  m.Exports(),
		Memories: []Memory{},
	}

	for _, def := range m.compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		info.Imports = append(info.Imports, Import{Module: module, Name: name})
	}
	for name, def := range m.compiled.ExportedMemories() {
		maxPages, hasMax := def.Max()
		info.Memories = append(info.Memories, Memory{Name: name, Min: def.Min(), Max: maxPages, HasMax: hasMax})
	}
	sort.Slice(info.Memories, func(i, j int) bool { return info.Memories[i].Name < info.Memories[j].Name })
	return info
}

// Describe returns the admission view of invoking entry on mod under this
// machine's limits.
func (m *Machine) Describe(mod *Module, entry string) ModuleInfo {
	info := mod.Info()
	info.Entry = entry
	info.Limits = Limits{MemoryPages: m.config.MemoryLimitPages, MaxBlocks: m.config.MaxBlocks}
	return info
}
