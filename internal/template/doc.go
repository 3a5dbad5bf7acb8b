// Package template loads wizard templates (from YAML/JSON files or the remote
// template service), normalizes them into numbered steps, and converts them
// into stepflow definitions.
package template
