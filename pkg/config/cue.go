package config

import (
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// schema constrains .cue configuration files. Every field is optional so a
// file only overrides what it names; definitions are closed, so unknown
// top-level keys are rejected.
const schema = `
#Config: {
	machine?: {
		memory_limit_pages?: int & >=1 & <=65536
		timeout?:            string
		max_blocks?:         int & >=0
		entry?:              string & !=""
	}

	store?: {
		driver?: "memory" | "sqlite"
		path?:   string
	}

	policy?: {
		enabled?: bool
		paths?: [...string & !=""]
	}

	addresses?: {[string]: int & >=0}

	telemetry?: {
		service_name?:    string
		service_version?: string
		environment?:     string
		logging?: {
			level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
			format?: "console" | "json"
			...
		}
		tracing?: {
			exporter?:      "otlp" | "stdout" | "none"
			sampling_rate?: number & >=0 & <=1
			...
		}
		...
	}
}
`

// decodeCUE unifies data with the schema and decodes the concrete result.
func decodeCUE(name string, data []byte, cfg *Config) error {
	ctx := cuecontext.New()

	def := ctx.CompileString(schema, cue.Filename("config-schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return convertCUEErrors(err)
	}

	val := ctx.CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}

	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}

	out, err := unified.MarshalJSON()
	if err != nil {
		return convertCUEErrors(err)
	}
	return decodeYAML(out, cfg)
}

// convertCUEErrors flattens a CUE error list into ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var verrs ValidationErrors
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: strings.TrimSpace(cueerrors.Details(e, nil)),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		verrs = append(verrs, ve)
	}
	return verrs
}
