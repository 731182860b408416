package download

import "github.com/batchtube/batchtube/internal/backend"

// selectCandidate picks the stream to fetch from a resolved item.
// Candidates arrive ordered best first with video-only adaptive tracks
// after every progressive one, so without a resolution preference the
// first one of the requested kind wins: the best progressive when any
// exists, the best adaptive otherwise. An exact resolution match is
// preferred when asked for and may land on an adaptive track that no
// progressive candidate covers; a preference nothing matches falls back
// to the best available rather than failing.
func selectCandidate(item *backend.ResolvedItem, pol Policy) (backend.Candidate, error) {
	var matches []backend.Candidate
	for _, c := range item.Candidates {
		if c.Kind == pol.Kind {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		if pol.Kind == backend.KindAudio {
			return backend.Candidate{}, backend.ErrNoAudio
		}
		return backend.Candidate{}, backend.ErrNoMatchingStream
	}
	if pol.Resolution != "" {
		for _, c := range matches {
			if c.Quality == pol.Resolution {
				return c, nil
			}
		}
	}
	return matches[0], nil
}
