// Package config provides configuration loading and validation for the acoustic wallet.
// It reads YAML on top of built-in defaults, validates each section, and exposes the
// duration fields as time.Duration and the sections as the settings of the packages
// they configure.
package config
