// Package config loads the YAML session configuration (runtime options
// and pre-declared devices) and the Constellation manifest, declared in
// the usual apiVersion/kind/metadata/spec envelope.
package config
