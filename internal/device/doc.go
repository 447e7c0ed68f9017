// Package device abstracts the speaker and microphone behind the channel adapter.
// It provides an in-memory Air medium connecting named endpoints in one process and
// WAV-file devices for recording and replaying transmissions.
package device
