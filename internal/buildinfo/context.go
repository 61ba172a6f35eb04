// Package buildinfo carries build-time metadata that is not part of user
// configuration.
package buildinfo

// UnknownValue is reported for metadata that was not injected at build time
const UnknownValue = "unknown"

// BuildInfo provides read access to build metadata.
type BuildInfo interface {
	Version() string
	BuildDate() string
}

// Context holds the values injected through -ldflags at build time.
type Context struct {
	version   string
	buildDate string
}

// NewContext creates build metadata from ldflags values.
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the git version tag, or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build timestamp, or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}
