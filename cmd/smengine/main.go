// SMEngine - imaging mass spectrometry annotation engine
package main

import (
	"fmt"
	"os"

	"github.com/ChrisMcGann/SMEngine/cmd/smengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
