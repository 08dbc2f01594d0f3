// Package common holds helpers shared by services.
package common

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

// EncodePageToken turns a store paging state into an opaque URL-safe token.
// An empty state means there is no further page and yields "".
func EncodePageToken(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodePageToken reverses EncodePageToken. An empty token selects the first page.
func DecodePageToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid page token", apperrors.ErrValidation)
	}
	return data, nil
}
