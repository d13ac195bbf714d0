package chatmemory

// DefaultMaxHistory is the transcript bound: ten user/assistant turns.
const DefaultMaxHistory = 20

// TrimTranscript keeps the most recent max messages of t, in their original
// order. The policy does not look at roles, so an odd max can orphan a reply.
// The result never aliases t.
func TrimTranscript(t Transcript, max int) Transcript {
	if max < 0 {
		max = 0
	}
	if len(t) <= max {
		return t.Clone()
	}
	return t[len(t)-max:].Clone()
}
