// Package configstore defines the minimal contract every configuration
// store backend satisfies.
package configstore

type ConfigStore interface {
	Load(out any) error
	Save(data any) error
}
