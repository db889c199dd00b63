package mongostore

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/roach88/credsync/internal/credential"
)

// wrapErr annotates err with the failing operation and marks network,
// timeout and disconnect failures with credential.ErrUnavailable.
func wrapErr(op string, err error) error {
	if unreachable(err) {
		return fmt.Errorf("%s: %w: %w", op, credential.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unreachable(err error) bool {
	return mongo.IsNetworkError(err) ||
		mongo.IsTimeout(err) ||
		errors.Is(err, mongo.ErrClientDisconnected)
}
