package entities

import "strings"

// Verbosity is the client console level configured through client.logging
type Verbosity string

const (
	VerbosityNone    Verbosity = "none"
	VerbosityError   Verbosity = "error"
	VerbosityWarn    Verbosity = "warn"
	VerbosityInfo    Verbosity = "info"
	VerbosityLog     Verbosity = "log"
	VerbosityVerbose Verbosity = "verbose"
)

// DefaultVerbosity is used when client.logging is unset
const DefaultVerbosity = VerbosityInfo

// Category classifies a console line
type Category string

const (
	CategoryError   Category = "error"
	CategoryWarning Category = "warning"
	CategoryInfo    Category = "info"
	// CategoryVerbose is protocol chatter: hashes, disconnects, reconnect attempts.
	CategoryVerbose Category = "verbose"
)

// verbosityRank orders levels by inclusiveness, none being the least permissive
var verbosityRank = map[Verbosity]int{
	VerbosityNone:    0,
	VerbosityError:   1,
	VerbosityWarn:    2,
	VerbosityInfo:    3,
	VerbosityLog:     4,
	VerbosityVerbose: 5,
}

// categoryThreshold is the lowest level at which a category is printed
var categoryThreshold = map[Category]Verbosity{
	CategoryError:   VerbosityError,
	CategoryWarning: VerbosityWarn,
	CategoryInfo:    VerbosityInfo,
	CategoryVerbose: VerbosityVerbose,
}

// Verbosities lists every level from least to most permissive
func Verbosities() []Verbosity {
	return []Verbosity{
		VerbosityNone,
		VerbosityError,
		VerbosityWarn,
		VerbosityInfo,
		VerbosityLog,
		VerbosityVerbose,
	}
}

// ParseVerbosity resolves a configured level name. Empty selects the default.
func ParseVerbosity(name string) (Verbosity, error) {
	if name == "" {
		return DefaultVerbosity, nil
	}

	v := Verbosity(strings.ToLower(strings.TrimSpace(name)))
	if !v.Valid() {
		return "", &ConfigurationError{
			Field:  "client.logging",
			Value:  name,
			Reason: "must be one of none, error, warn, info, log, verbose",
		}
	}
	return v, nil
}

// Valid reports whether v is a known level
func (v Verbosity) Valid() bool {
	_, ok := verbosityRank[v]
	return ok
}

// ShouldShow reports whether a line of the given category is printed at level.
// Unknown levels behave like the default; unknown categories are never shown.
func ShouldShow(level Verbosity, category Category) bool {
	rank, ok := verbosityRank[level]
	if !ok {
		rank = verbosityRank[DefaultVerbosity]
	}

	threshold, ok := categoryThreshold[category]
	if !ok {
		return false
	}

	return rank > 0 && rank >= verbosityRank[threshold]
}
