package main

import (
	"fmt"
	"os/exec"
	"runtime"
)

// openBrowser asks the desktop to open url. Failure is not fatal: the
// sign-in prompt also prints the URL.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	// Reap the launcher without blocking sign-in.
	go cmd.Wait() //nolint:errcheck // launcher exit status is irrelevant

	return nil
}
