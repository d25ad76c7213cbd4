package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		kernelImportsPolicy(),
		memoryLimitPolicy(),
		boundedMemoryPolicy(),
	}
}

// kernelImportsPolicy rejects modules importing anything the kernel does not
// provide. Such modules would fail to instantiate anyway; the policy names
// every offending import up front.
func kernelImportsPolicy() Policy {
	return Policy{
		Name:        "kernel-imports",
		Description: "Modules may only import functions from the kernel host modules",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"imports"},
		Rego: `package froyovm.admission.imports

import rego.v1

kernel_modules := {"ipld", "self", "actor", "vm"}

deny contains violation if {
	some imp in input.imports
	not imp.module in kernel_modules
	violation := {
		"message": sprintf("import %s.%s is not provided by the kernel", [imp.module, imp.name]),
		"severity": "error",
	}
}
`,
	}
}

// memoryLimitPolicy rejects modules whose initial memory exceeds the machine
// memory limit.
func memoryLimitPolicy() Policy {
	return Policy{
		Name:        "memory-limit",
		Description: "Initial memory must fit within the machine memory limit",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"memory", "limits"},
		Rego: `package froyovm.admission.memory

import rego.v1

deny contains violation if {
	some mem in input.memories
	mem.min > input.limits.memory_pages
	violation := {
		"message": sprintf("memory %s needs %d pages, the limit is %d", [mem.name, mem.min, input.limits.memory_pages]),
		"severity": "error",
	}
}
`,
	}
}

// boundedMemoryPolicy warns about memories without a declared maximum.
func boundedMemoryPolicy() Policy {
	return Policy{
		Name:        "bounded-memory",
		Description: "Memories should declare a maximum size",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"memory"},
		Rego: `package froyovm.admission.bounded

import rego.v1

deny contains violation if {
	some mem in input.memories
	not mem.has_max
	violation := {
		"message": sprintf("memory %s has no maximum size", [mem.name]),
		"severity": "warning",
	}
}
`,
	}
}
