package orchestrator

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadCursor is returned for continuation tokens that do not decode.
var ErrBadCursor = errors.New("invalid cursor")

// EncodeCursor builds the continuation token for the next batch of a session.
func EncodeCursor(session string, batch int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(session + "." + strconv.Itoa(batch)))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(token string) (session string, batch int, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	i := strings.LastIndexByte(string(raw), '.')
	if i <= 0 {
		return "", 0, ErrBadCursor
	}
	batch, err = strconv.Atoi(string(raw[i+1:]))
	if err != nil || batch < 1 {
		return "", 0, ErrBadCursor
	}
	return string(raw[:i]), batch, nil
}
