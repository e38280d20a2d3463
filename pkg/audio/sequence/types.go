package sequence

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSuperseded is returned by [Player.PlayItem] when another play call
	// or [Player.Stop] took over before the item finished.
	ErrSuperseded = errors.New("sequence: playback superseded")

	// ErrIndexOutOfRange is returned for a start index outside the item list.
	ErrIndexOutOfRange = errors.New("sequence: index out of range")
)

// Item is one playable entry of a sequence. URL may be empty when the audio
// could not be resolved; loading such an item fails with a [PlaybackError].
type Item struct {
	ID  string
	URL string
}

// State is the lifecycle state of a [Player].
type State int

const (
	// StateIdle means nothing is playing and nothing is paused.
	StateIdle State = iota

	// StatePlaying covers audible playback and the delay between items.
	StatePlaying

	// StatePaused means playback can continue with [Player.Resume].
	StatePaused

	// StateCompleted means the last item of a sequence ended.
	StateCompleted
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ElementEvents are delivered by an [Element], possibly from another
// goroutine. None of them may fire before [Element.Play] is called.
type ElementEvents struct {
	// OnLoadedMetadata fires when playback becomes audible.
	OnLoadedMetadata func()

	// OnEnded fires once when the media reaches its end.
	OnEnded func()

	// OnError fires when decoding or output fails mid-playback.
	OnError func(error)
}

// Element is a single loaded media resource.
type Element interface {
	// Play starts playback. A non-nil error means playback was rejected.
	Play(ctx context.Context) error

	// Pause halts playback in place.
	Pause()

	// Resume continues playback after Pause.
	Resume(ctx context.Context) error

	// Close releases the element. No events fire after Close returns.
	Close()
}

// Loader creates elements for items.
type Loader interface {
	Load(item Item, ev ElementEvents) (Element, error)
}

// Callbacks receive sequence progress. They are never invoked while the
// player holds its lock, so they may call back into the player.
type Callbacks struct {
	OnItemStart   func(index int)
	OnItemEnd     func(index int)
	OnSequenceEnd func()
	OnError       func(error)
	OnStateChange func(State)
}

// PlaybackError reports an item that failed to load or play.
type PlaybackError struct {
	Index  int
	ItemID string
	Err    error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("sequence: item %d (%s): %v", e.Index, e.ItemID, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }
