/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "fmt"

// PlayState is the user-facing play intent of a Decoder.
type PlayState int

const (
	PlayStart PlayState = iota
	PlayLoading
	PlayPaused
	PlayPlaying
	PlaySeeking
	PlayEnded
	PlayShutdown
)

var playStateNames = [...]string{"start", "loading", "paused", "playing", "seeking", "ended", "shutdown"}

func (s PlayState) String() string {
	if s < 0 || int(s) >= len(playStateNames) {
		return fmt.Sprintf("play_state(%d)", int(s))
	}
	return playStateNames[s]
}

// EngineState is the state of the machinery that decodes and renders.
// EngineNone means no state machine exists.
type EngineState int

const (
	EngineNone EngineState = iota
	EngineDecodingMetadata
	EngineDecoding
	EngineSeeking
	EngineBuffering
	EngineCompleted
	EngineShutdown
)

var engineStateNames = [...]string{"none", "decoding_metadata", "decoding", "seeking", "buffering", "completed", "shutdown"}

func (s EngineState) String() string {
	if s < 0 || int(s) >= len(engineStateNames) {
		return fmt.Sprintf("engine_state(%d)", int(s))
	}
	return engineStateNames[s]
}

// engineTransitions lists the legal EngineState edges. Shutdown is reachable
// from every non-terminal state.
var engineTransitions = map[EngineState][]EngineState{
	EngineNone:             {EngineDecodingMetadata},
	EngineDecodingMetadata: {EngineDecoding, EngineShutdown},
	EngineDecoding:         {EngineSeeking, EngineBuffering, EngineCompleted, EngineShutdown},
	EngineSeeking:          {EngineDecoding, EngineCompleted, EngineShutdown},
	EngineBuffering:        {EngineDecoding, EngineSeeking, EngineShutdown},
	EngineCompleted:        {EngineSeeking, EngineShutdown},
	EngineShutdown:         nil,
}

// CanTransition reports whether the engine may move from one state to another.
func CanTransition(from, to EngineState) bool {
	for _, s := range engineTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to EngineState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// consistentStates maps each PlayState to the engine states it may coexist
// with once the session is quiescent.
var consistentStates = map[PlayState][]EngineState{
	PlayStart:    {EngineNone},
	PlayLoading:  {EngineDecodingMetadata},
	PlayPaused:   {EngineDecoding, EngineBuffering, EngineSeeking, EngineCompleted},
	PlayPlaying:  {EngineDecoding, EngineBuffering, EngineSeeking, EngineCompleted},
	PlaySeeking:  {EngineSeeking},
	PlayEnded:    {EngineShutdown},
	PlayShutdown: {EngineShutdown, EngineNone},
}

// Consistent reports whether play and engine may be observed together at a
// quiescent point. In-flight transitions can briefly break the table.
func Consistent(play PlayState, engine EngineState) bool {
	for _, s := range consistentStates[play] {
		if s == engine {
			return true
		}
	}
	return false
}

// ReadyState summarizes data availability for the element.
type ReadyState int

const (
	ReadyUnavailable ReadyState = iota
	ReadyBuffering
	ReadyAvailable
)

func (r ReadyState) String() string {
	switch r {
	case ReadyBuffering:
		return "buffering"
	case ReadyAvailable:
		return "available"
	default:
		return "unavailable"
	}
}
