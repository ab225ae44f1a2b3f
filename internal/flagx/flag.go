// Package flagx lets several components share os.Args: each one picks out
// only the flags it owns before handing them to its own flag.FlagSet.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigEnv names the JSON config file when no -c/-config flag is given.
const ConfigEnv = "FERMENTSTATION_CONFIG"

// FilterArgs keeps the allowed flags of args together with their values.
//
// A flag may be spelled with one or two dashes whatever form allowed uses,
// and may carry its value inline (-d=dsn) or as the next argument (-d dsn).
// Parsing stops at a bare "--".
func FilterArgs(args []string, allowed []string) []string {
	names := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		names[flagName(f)] = struct{}{}
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		name, _, inline := strings.Cut(arg, "=")
		if _, ok := names[flagName(name)]; !ok {
			continue
		}
		filtered = append(filtered, arg)
		if inline {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}
	return filtered
}

func flagName(f string) string {
	return strings.TrimLeft(f, "-")
}

// ConfigPath returns the JSON config file named by -c/-config in args,
// falling back to $FERMENTSTATION_CONFIG. Empty means no file.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config"}))

	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigEnv))
	}
	return path
}
