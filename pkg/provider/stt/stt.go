// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber turns one finished recording into the single finalized
// transcript string the segmentation chain consumes. The core never sees
// audio; this boundary is the only place it crosses the process.
package stt

import (
	"context"
	"io"
)

// Transcription is the recognizer's answer for one audio upload.
type Transcription struct {
	// Text is the full recognized utterance.
	Text string `json:"text"`

	// Language is the detected (or requested) language code.
	Language string `json:"language"`

	// Duration is the audio length in seconds as reported by the recognizer.
	Duration float64 `json:"duration"`
}

// Health describes a recognizer's readiness to accept audio.
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ModelName   string `json:"model_name"`
}

// Transcriber converts recorded audio into text.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Transcriber interface {
	// Transcribe uploads audio and returns the finalized transcription.
	// filename hints the container format to the recognizer.
	Transcribe(ctx context.Context, filename string, audio io.Reader) (*Transcription, error)

	// CheckHealth reports whether the recognizer is ready to accept audio.
	CheckHealth(ctx context.Context) error
}
