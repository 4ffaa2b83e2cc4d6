// Package scankit decides whether an uploaded file is safe to store or
// process, based on its content rather than any client-supplied name or
// content-type hint.
//
// The root package wires the core scanners from [threatscan] into an
// [Engine]: format identification from binary signatures, a recursive
// archive inspector, and pattern-based scanners for code injection, markup
// injection, document actions, office macros, and image metadata. The
// engine dispatches each file to the scanners appropriate for its detected
// media type, aggregates a single result, and publishes one structured
// event per finding to the configured [Reporter].
//
// # Basic Usage
//
//	engine := scankit.New()
//
//	res, err := engine.ScanFile("/tmp/upload-1234", "report.pdf")
//	if err != nil {
//	    log.Fatal(err) // environment failure; result is already unsafe
//	}
//	if !res.Safe {
//	    for _, threat := range res.Threats {
//	        fmt.Println(threat)
//	    }
//	}
//
// # Configuration
//
// Policy comes from the environment ([GetConfig] with SCANKIT_* variables,
// or [WithPrefix] for per-tenant prefixes), from a YAML file
// ([WithPolicyFile]), or directly ([WithPolicy]). The defaults are secure:
// every scanner on, macros blocked, missing archive backends failing
// closed.
package scankit
