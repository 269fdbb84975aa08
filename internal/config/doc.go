// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Unset fields take the Default* values; Validate reports the first invalid field
// by its YAML path.
package config
