// Package activity detects whether captured audio carries signal energy.
// The channel adapter uses it to tell "no signal" apart from "signal present but not
// yet decodable", and to skip decode attempts on windows that hold only silence.
package activity
