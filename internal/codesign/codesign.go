// Package codesign gates artifacts on their code-signing identity. It
// consumes the verdicts of the system inspection tools (pkgutil, codesign)
// and performs no cryptographic verification of its own.
package codesign

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Kind selects the inspection tool: pkg archives and app bundles are
// signed and checked by different machinery.
type Kind int

const (
	KindPKG Kind = iota
	KindApp
)

// Error codes for the security gate.
const (
	CodeSignatureRejected = 400
	CodeTeamIDMismatch    = 401
)

// Result is what an inspection returns: whether the tool accepted the
// signature, and the identities it reported.
type Result struct {
	Accepted    bool
	TeamID      string
	DeveloperID string
}

// Inspector inspects an artifact's code signature.
type Inspector interface {
	Inspect(path string, kind Kind) (Result, error)
}

// Validate is the mandatory security gate: it returns true only when the
// inspection accepted the signature AND the reported team ID matches the
// expected one. It fails closed: inspection errors, missing team IDs, and
// mismatches all return false. There is no warn-and-continue mode here.
func Validate(ins Inspector, path, expectedTeamID string, kind Kind) bool {
	if expectedTeamID == "" {
		return false
	}
	res, err := ins.Inspect(path, kind)
	if err != nil {
		return false
	}
	if !res.Accepted || res.TeamID == "" {
		return false
	}
	return res.TeamID == expectedTeamID
}

// runCommand executes an inspection tool. Overridable in tests.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// teamIDRe matches the parenthesized team identifier in certificate names,
// e.g. "Developer ID Installer: Mozilla Corporation (43AQ936H96)".
var teamIDRe = regexp.MustCompile(`\(([0-9A-Z]{10})\)`)

// developerIDRe matches the certificate common-name portion.
var developerIDRe = regexp.MustCompile(`Developer ID (?:Application|Installer): ([^(]+)\(`)

// ToolInspector shells out to pkgutil / codesign.
type ToolInspector struct{}

// Inspect runs the platform signature check for the artifact kind.
func (ToolInspector) Inspect(path string, kind Kind) (Result, error) {
	if kind == KindPKG {
		return inspectPKG(path)
	}
	return inspectApp(path)
}

func inspectPKG(path string) (Result, error) {
	output, err := runCommand("pkgutil", "--check-signature", path)
	text := string(output)
	if err != nil {
		// pkgutil exits non-zero for unsigned packages; that is a verdict,
		// not a tool failure.
		if strings.Contains(text, "Status:") {
			return parseCheckSignature(text), nil
		}
		return Result{}, fmt.Errorf("pkgutil --check-signature failed for %s: %w (output: %s)", path, err, text)
	}
	return parseCheckSignature(text), nil
}

func parseCheckSignature(text string) Result {
	res := Result{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Status:"):
			status := strings.ToLower(line)
			res.Accepted = strings.Contains(status, "signed") && !strings.Contains(status, "no signature") && !strings.Contains(status, "invalid")
		case strings.Contains(line, "Developer ID"):
			if res.TeamID == "" {
				if m := teamIDRe.FindStringSubmatch(line); m != nil {
					res.TeamID = m[1]
				}
			}
			if res.DeveloperID == "" {
				if m := developerIDRe.FindStringSubmatch(line); m != nil {
					res.DeveloperID = strings.TrimSpace(m[1])
				}
			}
		}
	}
	return res
}

func inspectApp(path string) (Result, error) {
	// --verify establishes acceptance; -dvv reports the identities.
	if _, err := runCommand("codesign", "--verify", "--deep", "--strict", path); err != nil {
		return Result{Accepted: false}, nil
	}

	output, err := runCommand("codesign", "-dvv", path)
	if err != nil {
		return Result{}, fmt.Errorf("codesign -dvv failed for %s: %w (output: %s)", path, err, string(output))
	}

	res := Result{Accepted: true}
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "TeamIdentifier="):
			id := strings.TrimPrefix(line, "TeamIdentifier=")
			if id != "not set" {
				res.TeamID = id
			}
		case strings.HasPrefix(line, "Authority=Developer ID"):
			if m := developerIDRe.FindStringSubmatch(line); m != nil && res.DeveloperID == "" {
				res.DeveloperID = strings.TrimSpace(m[1])
			}
		}
	}
	if res.TeamID == "" {
		res.Accepted = false
	}
	return res, nil
}
