// Command psws-hash reads an operator password from stdin and prints the
// bcrypt hash expected in PSWS_OPERATOR_HASH.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"psws/backend/services/ingest-watcher/internal/password"
)

func main() {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(os.Stderr, "psws-hash: read password:", err)
		os.Exit(1)
	}
	hash, err := password.NewBcryptHasher(0).Hash(strings.TrimRight(line, "\r\n"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "psws-hash:", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
