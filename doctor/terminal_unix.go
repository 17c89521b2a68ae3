//go:build !windows

package doctor

import "os/exec"

// resetTerminal undoes raw mode left behind by an interrupted prompt or
// an evdev grab.
func resetTerminal() {
	exec.Command("stty", "sane").Run()
}
