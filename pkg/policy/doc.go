// Package policy provides Open Policy Agent (OPA) admission control for
// froyovm modules.
//
// Before a module is instantiated the machine describes it as a
// machine.ModuleInfo (imports, exports, memories, entry point and machine
// limits). The Engine evaluates every enabled Rego policy against that
// document and rejects the invocation when a blocking violation is found.
//
// # Writing policies
//
// A policy package defines a deny set. Elements are either message strings,
// which take the policy's severity, or objects:
//
//	package froyovm.admission.entry
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.entry == "constructor"
//	    violation := {
//	        "message": "constructors may not be invoked directly",
//	        "severity": "error",
//	    }
//	}
//
// Error and critical violations block; info and warning violations are
// logged.
//
// # Built-in policies
//
//   - kernel-imports: only the ipld, self, actor and vm host modules may be imported
//   - memory-limit: initial memory must fit the machine memory limit
//   - bounded-memory: warns about memories without a maximum
//
// # Usage
//
//	engine, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := engine.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//	m, err := machine.New(ctx, store, machine.Config{Admission: engine})
package policy
