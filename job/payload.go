package job

import "time"

// Payload is the closed set of per-kind job inputs. The unexported method
// keeps the variant set sealed to this package.
type Payload interface {
	Kind() Kind
	sealed()
}

// Compile-time checks that every kind has its payload.
var (
	_ Payload = FetchPayload{}
	_ Payload = SynthPlayPayload{}
	_ Payload = WritePayload{}
)

// FetchPayload asks a worker to pull rows from the remote source.
type FetchPayload struct {
	// Resource names what to fetch, e.g. "list" or "icd10".
	Resource string
	// Params are passed through to the source query.
	Params map[string]string
}

// Kind implements Payload.
func (FetchPayload) Kind() Kind { return KindFetch }

func (FetchPayload) sealed() {}

// SpeechLine is one utterance in a spoken announcement.
type SpeechLine struct {
	Text string
	Lang string
}

// SynthPlayPayload asks a worker to synthesize and play an announcement.
// Lines play in order with Pause between them; the whole sequence repeats
// Repeat times with Gap between repeats.
type SynthPlayPayload struct {
	Lines  []SpeechLine
	Pause  time.Duration
	Repeat int
	Gap    time.Duration
}

// Kind implements Payload.
func (SynthPlayPayload) Kind() Kind { return KindSynthPlay }

func (SynthPlayPayload) sealed() {}

// WritePayload asks a worker to mutate the durable store.
type WritePayload struct {
	Table  string
	Key    string
	Fields map[string]any
	// Unique requests insert semantics: a duplicate key is a constraint
	// violation instead of an overwrite.
	Unique bool
	// Delete removes the row instead of writing it.
	Delete bool
}

// Kind implements Payload.
func (WritePayload) Kind() Kind { return KindDBWrite }

func (WritePayload) sealed() {}

// defaultTimeout returns the per-kind deadline used when the submitter
// does not set one.
func defaultTimeout(k Kind) time.Duration {
	switch k {
	case KindFetch:
		return 6 * time.Second
	case KindSynthPlay:
		return 90 * time.Second
	case KindDBWrite:
		return 5 * time.Second
	default:
		return 30 * time.Second
	}
}
