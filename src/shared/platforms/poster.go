// Package platforms holds one posting client per supported service. The set
// is closed: adding a platform means adding a variant here and a case to
// ForChannel.
package platforms

import (
	"context"
	"errors"
	"fmt"

	"github.com/casewatch/bigcases-bot/src/shared/types"
)

// Poster publishes one status to a destination platform and returns the
// platform's id for the new post.
type Poster interface {
	Post(ctx context.Context, message string, image []byte, files [][]byte) (string, error)
}

// PermanentError marks a platform rejection that must not be retried
// (malformed content, duplicate post). Transient failures (rate limits,
// network, 5xx) are returned as plain errors.
type PermanentError struct {
	Err error
}

func (p PermanentError) Error() string { return p.Err.Error() }
func (p PermanentError) Unwrap() error { return p.Err }

// Permanent wraps err as a non-retryable platform rejection.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return PermanentError{Err: err}
}

// IsPermanent reports whether err is a non-retryable platform rejection.
func IsPermanent(err error) bool {
	var p PermanentError
	return errors.As(err, &p)
}

// statusErr classifies an HTTP status: 4xx besides 429 is the platform
// rejecting the content, everything else is worth retrying.
func statusErr(status int, context string, body []byte) error {
	err := fmt.Errorf("%s: %d: %s", context, status, body)
	if status >= 400 && status < 500 && status != 429 {
		return Permanent(err)
	}
	return err
}

// ForChannel builds the poster for a channel's platform.
func ForChannel(ch *types.Channel) (Poster, error) {
	switch ch.Service {
	case types.ServiceMastodon:
		return NewMastodon(ch.ServerURL, ch.AccessToken), nil
	case types.ServiceTwitter:
		return NewTwitter(ch.ConsumerKey, ch.ConsumerSecret, ch.TokenKey, ch.TokenSecret), nil
	case types.ServiceThreads:
		return NewThreads(ch.AccountID, ch.AccessToken), nil
	case types.ServiceDiscord:
		return NewDiscord(ch.BotToken, ch.DiscordChannel)
	default:
		return nil, fmt.Errorf("channel %d: unknown service %d", ch.ID, ch.Service)
	}
}
