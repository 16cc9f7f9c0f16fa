package cmd

import (
	"fmt"
	"io"
)

const banner = `
  ___              _            ___                  _ 
 / __| ___ ___ ___(_)___ _ _   / __|_  _ __ _ _ _ __| |
 \__ \/ -_|_-<(_-<| / _ \ ' \ | (_ | || / _` + "`" + ` | '_/ _` + "`" + ` |
 |___/\___/__//__/|_\___/_||_| \___|\_,_\__,_|_| \__,_|
                                                       
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Token Lifecycle & Session Security - Version %s\x1b[0m\n\n", Version)
}
