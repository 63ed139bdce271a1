package browser

import (
	"fmt"
	"os/exec"
	"runtime"
)

// launcher starts the browser command. Tests replace it.
var launcher = func(cmd *exec.Cmd) error {
	return cmd.Start()
}

// Open opens url in the default web browser without waiting for it to exit.
func Open(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := launcher(cmd); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
