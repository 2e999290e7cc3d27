package token

import (
	"cosmossdk.io/errors"
)

const codespace = "token"

var (
	ErrNotFound          = errors.Register(codespace, 1, "token not found")
	ErrSymbolTaken       = errors.Register(codespace, 2, "token symbol already registered")
	ErrRemoved           = errors.Register(codespace, 3, "token is removed")
	ErrInvalidDescriptor = errors.Register(codespace, 4, "invalid token descriptor")
)
