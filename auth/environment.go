package auth

import "strings"

// Environment tells the Authenticator whether it runs outside production.
// The test-bypass method is only ever installed when IsNonProduction is true.
type Environment interface {
	IsNonProduction() bool
}

// EnvironmentFunc adapts a function to Environment.
type EnvironmentFunc func() bool

func (f EnvironmentFunc) IsNonProduction() bool { return f() }

// StaticEnvironment returns an Environment with a fixed answer.
func StaticEnvironment(nonProduction bool) Environment {
	return EnvironmentFunc(func() bool { return nonProduction })
}

var nonProductionNames = map[string]struct{}{
	"dev":         {},
	"development": {},
	"local":       {},
	"test":        {},
	"testing":     {},
	"ci":          {},
}

// NamedEnvironment maps a deployment name to an Environment. Anything not
// explicitly recognized as non-production, including the empty string,
// counts as production.
func NamedEnvironment(name string) Environment {
	_, ok := nonProductionNames[strings.ToLower(strings.TrimSpace(name))]
	return StaticEnvironment(ok)
}
