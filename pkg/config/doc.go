// Package config loads froyovm configuration from YAML or CUE files.
//
// # Overview
//
// A configuration file sets the machine limits, the blockstore, module
// admission policies, the address book used to resolve actor addresses and
// the telemetry stack. Defaults are applied first and the file only
// overrides what it names. Admission control is on by default with only the
// built-in policies loaded.
//
// # Formats
//
// The format is chosen by file extension:
//
//   - .yaml, .yml and .json are decoded with gopkg.in/yaml.v3. Unknown keys
//     are rejected.
//   - .cue files are unified with the built-in #Config schema before they
//     are decoded, so type and range errors are reported with CUE positions.
//
// After decoding, struct tags are checked with go-playground/validator and
// address book entries are parsed.
//
// # Usage Example
//
//	cfg, err := config.Load("froyovm.cue")
//	if err != nil {
//	    var verrs config.ValidationErrors
//	    if errors.As(err, &verrs) {
//	        for _, e := range verrs {
//	            fmt.Println(e)
//	        }
//	    }
//	    return err
//	}
//
//	store, closeStore, err := cfg.Store.Open(ctx)
package config
