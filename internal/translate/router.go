package translate

import "context"

// Router implements the backend-selection rule in spec §4.4: the speed
// backend is always used for partial translations, regardless of mode,
// while confirmed translations go to whichever backend translator_mode
// selects. A single Router wraps both backends for a session so the
// Speaker Pipeline and Session Orchestrator still see one Translator.
type Router struct {
	Speed   Translator
	Quality Translator

	// ConfirmUsesSpeed is true when translator_mode=speed (spec §4.4: "the
	// Speed backend ... [used] for confirmed translations when
	// translator_mode = speed").
	ConfirmUsesSpeed bool
}

func (r *Router) TranslateConfirmed(ctx context.Context, req Request) (string, error) {
	if r.ConfirmUsesSpeed {
		return r.Speed.TranslateConfirmed(ctx, req)
	}
	return r.Quality.TranslateConfirmed(ctx, req)
}

// TranslatePartial always uses the speed backend (spec §4.4: "Used for
// partial translations always").
func (r *Router) TranslatePartial(ctx context.Context, req Request) (string, error) {
	return r.Speed.TranslatePartial(ctx, req)
}

// Close releases both backends. The speed backend's persistent connection
// is shared by every speaker in the session and is closed exactly once,
// here, on session teardown (spec §4.6).
func (r *Router) Close() error {
	speedErr := r.Speed.Close()
	var qualityErr error
	if r.Quality != nil {
		qualityErr = r.Quality.Close()
	}
	if speedErr != nil {
		return speedErr
	}
	return qualityErr
}
