package spotify

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/retry"
)

// Classify maps a non-nil API error onto the retry taxonomy.
//
// Rejected credentials are Auth: retrying cannot fix them, the run must
// stop. 429s are RateLimited and wait without spending the transient
// budget. Server-side trouble and network hiccups are Transient. Other
// client errors are Fatal for the call but leave the run alive.
func Classify(err error) retry.Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Fatal
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return retry.Auth
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden:
			return retry.Auth
		case apiErr.Status == http.StatusTooManyRequests:
			return retry.RateLimited
		case apiErr.Status == http.StatusRequestTimeout || apiErr.Status >= 500:
			return retry.Transient
		default:
			return retry.Fatal
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Transient
	}

	// Unrecognized errors get the transient benefit of the doubt.
	return retry.Transient
}
