package store

import (
	"fmt"

	"github.com/rs/zerolog"
)

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func toString(v any) string {
	return fmt.Sprint(v)
}
