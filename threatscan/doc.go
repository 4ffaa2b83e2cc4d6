// Package threatscan implements content-security scanning for untrusted
// uploaded files: media-type identification from binary signatures, a
// recursive archive inspector with decompression-bomb and path-traversal
// protection, and a family of pattern-based threat scanners for embedded
// code, markup injection, document actions, office macros, and image
// metadata.
//
// Every scan is a pure function of the input bytes and an immutable
// [Policy] snapshot: scanners hold no session state and mutate nothing
// shared, so a single scanner value may serve concurrent scans. Findings
// are always data in a [Result] — detection never raises errors for
// malicious content, only for environment failures that prevent inspection
// (and those fail closed).
//
// # Basic Usage
//
//	pol := threatscan.DefaultPolicy()
//	access := threatscan.NewAccessValidator(pol.Access)
//	inspector := threatscan.NewArchiveInspector(access)
//
//	res := inspector.Scan("/tmp/upload.zip", pol, 0)
//	if !res.Safe {
//	    for _, threat := range res.Threats {
//	        log.Println(threat)
//	    }
//	}
package threatscan
