// Command keygen prints a fresh master key for the key vault, base64 encoded
// for CUSTODY_MASTER_KEY.
package main

import (
	"fmt"
	"os"

	"custody-service/internal/security"
)

func main() {
	key, err := security.GenerateMasterKey()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to generate master key:", err)
		os.Exit(1)
	}
	fmt.Println(key)
}
