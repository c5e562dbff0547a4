package main

import (
	"fmt"

	"github.com/cosiner/argv"
)

// splitArgv splits a shell-quoted argument string into individual tokens,
// the same job cosiner/argv does for delve's own `--args` flag. Pipes
// aren't meaningful for a spawned debuggee's argv, so more than one
// pipeline segment is rejected.
func splitArgv(s string) ([]string, error) {
	groups, err := argv.Argv(s, nil, nil)
	if err != nil {
		return nil, err
	}
	switch len(groups) {
	case 0:
		return nil, nil
	case 1:
		return groups[0], nil
	default:
		return nil, fmt.Errorf("unexpected '|' in argument string %q", s)
	}
}
