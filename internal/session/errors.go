package session

import "errors"

var ErrNoKeyMaterial = errors.New("session holds no key material")
