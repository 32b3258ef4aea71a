package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit returns an exit error; cli prints its red message and exits with code.
func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(Red(fmt.Sprintf(msg, args...)), code)
}
