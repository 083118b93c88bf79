// Package config provides configuration loading and validation for the
// chunked transcription service. Values are read from YAML on top of the
// built-in defaults, then overridden from the environment (optionally seeded
// from a .env file).
package config
